package domain

import (
	"strings"
	"time"
)

// Role enumerates user privileges.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Staff reports whether the role may see every ticket.
func (r Role) Staff() bool {
	return r == RoleModerator || r == RoleAdmin
}

// ParseRole validates a role string.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

// User is an account that can raise or work tickets. Users created through Google
// carry a GoogleID and no password hash.
type User struct {
	ID           string
	Email        string
	GoogleID     *string
	FullName     string
	ProfilePic   string
	PasswordHash string
	Role         Role
	Skills       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether local password login is possible.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// DefaultProfilePic is assigned when the identity provider supplies none.
const DefaultProfilePic = "https://www.gravatar.com/avatar/?d=mp"

// NormalizeEmail lower-cases and trims an address for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserUpdate is a partial admin update; nil fields are left unchanged.
type UserUpdate struct {
	Role   *Role
	Skills []string
}
