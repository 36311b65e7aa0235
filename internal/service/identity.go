package service

import (
	"errors"
	"fmt"

	"garage-backend/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is what the external auth collaborator vouches for: a participant
// id and a role, resolved once per handshake.
type Identity struct {
	UserID      string
	DisplayName string
	Role        model.Role
}

// IdentityService verifies tokens issued by the auth backend. It never issues
// tokens itself.
type IdentityService struct {
	secret []byte
}

func NewIdentityService(jwtSecret string) *IdentityService {
	return &IdentityService{secret: []byte(jwtSecret)}
}

// Resolve validates the token signature and extracts the identity claims.
// A token without a role claim resolves to a customer.
func (s *IdentityService) Resolve(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)

	roleClaim, _ := claims["role"].(string)
	role := model.RoleUser
	if roleClaim != "" {
		parsed, ok := model.ParseRole(roleClaim)
		if !ok {
			return nil, ErrInvalidToken
		}
		role = parsed
	}

	return &Identity{UserID: userID, DisplayName: name, Role: role}, nil
}
