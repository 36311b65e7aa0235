package model

// Role is the participant role resolved once from the handshake token and
// carried explicitly through every call. It is never re-derived from ambient
// state after admission.
type Role string

const (
	RoleUser     Role = "user"
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

// ParseRole maps a token claim to a Role. Unknown values are rejected rather
// than defaulted so a bad token cannot land on the customer side silently.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAdmin, RoleEmployee:
		return Role(s), true
	}
	return "", false
}

// Privileged reports whether the role may join arbitrary conversation rooms
// and read the conversation list.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleEmployee
}

// Side collapses the staff roles onto "admin": messages are stored and typing
// is attributed per conversation side, not per staff account.
func (r Role) Side() Role {
	if r.Privileged() {
		return RoleAdmin
	}
	return RoleUser
}

// Counterpart returns the opposite conversation side.
func (r Role) Counterpart() Role {
	if r.Side() == RoleAdmin {
		return RoleUser
	}
	return RoleAdmin
}
