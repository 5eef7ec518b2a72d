package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the coarse capability a user holds inside the CRM.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleContractor Role = "CONTRACTOR"
	RoleClient     Role = "CLIENT"
)

// Roles lists every assignable role.
var Roles = []Role{RoleAdmin, RoleContractor, RoleClient}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleContractor, RoleClient:
		return true
	}
	return false
}

// ParseRole accepts a role name in any case. An empty string yields RoleClient.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RoleClient, nil
	}
	r := Role(strings.ToUpper(s))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q: %w", s, ErrInvalidRole)
	}
	return r, nil
}

// User is the identity record owned by the user directory.
type User struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"email"`
	DisplayName       string     `json:"displayName"`
	Role              Role       `json:"role"`
	Phone             *string    `json:"phone,omitempty"`
	PasswordHash      string     `json:"-"`
	IsActive          bool       `json:"isActive"`
	LastLoginAt       *time.Time `json:"lastLoginAt,omitempty"`
	PasswordChangedAt *time.Time `json:"passwordChangedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// CreateUserParams carries an already hashed password; the directory never sees plaintext.
type CreateUserParams struct {
	Email        string
	DisplayName  string
	Role         Role
	Phone        *string
	PasswordHash string
}
