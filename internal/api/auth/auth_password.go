package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/FACorreiaa/techephi-auth/internal/types"
)

const (
	// BcryptCost is fixed; changing it only affects newly written hashes.
	BcryptCost        = 12
	MinPasswordLength = 8
	// bcrypt ignores input beyond 72 bytes and x/crypto rejects it outright.
	MaxPasswordBytes = 72
)

// dummyHash is compared against when the account does not exist, so an unknown email costs
// the same bcrypt work as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("techephi-dummy-password"), BcryptCost)

// ValidatePassword enforces the strength policy: minimum length plus at least one upper-case
// letter, lower-case letter, digit and special character. Every rule is mandatory.
func ValidatePassword(password string) error {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			special = true
		}
	}

	var missing []string
	if len([]rune(password)) < MinPasswordLength {
		missing = append(missing, fmt.Sprintf("at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxPasswordBytes {
		missing = append(missing, fmt.Sprintf("no more than %d bytes", MaxPasswordBytes))
	}
	if !upper {
		missing = append(missing, "an uppercase letter")
	}
	if !lower {
		missing = append(missing, "a lowercase letter")
	}
	if !digit {
		missing = append(missing, "a number")
	}
	if !special {
		missing = append(missing, "a special character")
	}
	if len(missing) > 0 {
		return types.ErrWeakPassword.WithDetail("password must contain " + strings.Join(missing, ", "))
	}
	return nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches hash. A malformed hash is an error,
// a plain mismatch is not.
func ComparePassword(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare password hash: %w", err)
}

// burnCompare spends one bcrypt comparison without revealing anything.
func burnCompare(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
