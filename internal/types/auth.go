package types

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type discriminators carried in the "type" claim.
const (
	TokenTypeRefresh       = "refresh"
	TokenTypePasswordReset = "password_reset"
)

// Claims is the payload of an access token.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// TypedClaims is the payload of refresh and password reset tokens.
type TypedClaims struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// RefreshToken is the persisted half of a refresh handle. A token string is valid only while
// a row carries it, is unexpired and not revoked.
type RefreshToken struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsRevoked bool      `json:"isRevoked"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Usable reports whether the record may still be exchanged at the given instant.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t != nil && !t.IsRevoked && now.Before(t.ExpiresAt)
}

type PasswordReset struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsUsed    bool      `json:"isUsed"`
	CreatedAt time.Time `json:"createdAt"`
}

// Usable reports whether the reset may still be applied at the given instant.
func (p *PasswordReset) Usable(now time.Time) bool {
	return p != nil && !p.IsUsed && now.Before(p.ExpiresAt)
}

// RequestMeta identifies the client that triggered an operation, for auditing.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// TokenPair is the result of a refresh.
type TokenPair struct {
	Token            string    `json:"token"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// AuthResult is returned by register and login.
type AuthResult struct {
	User *User `json:"user"`
	TokenPair
}
