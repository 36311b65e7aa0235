package service

import (
	"errors"
	"testing"
	"time"

	"garage-backend/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestResolveCustomerToken(t *testing.T) {
	svc := NewIdentityService(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":  "0909000111",
		"name": "Nguyen Van A",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	ident, err := svc.Resolve(token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ident.UserID != "0909000111" || ident.DisplayName != "Nguyen Van A" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
	// No role claim means customer.
	if ident.Role != model.RoleUser {
		t.Fatalf("expected role user, got %s", ident.Role)
	}
}

func TestResolveStaffToken(t *testing.T) {
	svc := NewIdentityService(testSecret)

	for _, role := range []string{"admin", "employee"} {
		token := signToken(t, testSecret, jwt.MapClaims{
			"sub":  "staff-1",
			"role": role,
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		ident, err := svc.Resolve(token)
		if err != nil {
			t.Fatalf("resolve %s: %v", role, err)
		}
		if !ident.Role.Privileged() {
			t.Fatalf("role %s should be privileged", role)
		}
	}
}

func TestResolveRejectsBadTokens(t *testing.T) {
	svc := NewIdentityService(testSecret)

	cases := map[string]string{
		"garbage":      "not-a-jwt",
		"wrong secret": signToken(t, "other-secret", jwt.MapClaims{"sub": "x"}),
		"expired": signToken(t, testSecret, jwt.MapClaims{
			"sub": "x",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}),
		"unknown role": signToken(t, testSecret, jwt.MapClaims{
			"sub":  "x",
			"role": "superuser",
		}),
	}

	for name, token := range cases {
		if _, err := svc.Resolve(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}
