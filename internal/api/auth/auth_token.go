package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/techephi-auth/config"
	"github.com/FACorreiaa/techephi-auth/internal/types"
)

// TokenManager signs and verifies the three token kinds the service hands out.
// Access tokens use the access secret; refresh and password reset tokens share the refresh
// secret and are told apart by their "type" claim.
type TokenManager struct {
	cfg           config.JWTConfig
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func NewTokenManager(cfg config.JWTConfig) *TokenManager {
	return &TokenManager{
		cfg:           cfg,
		accessSecret:  []byte(cfg.SecretKey),
		refreshSecret: []byte(cfg.RefreshSecretKey),
		now:           time.Now,
	}
}

func (m *TokenManager) registered(subject string, ttl time.Duration) (jwt.RegisteredClaims, time.Time) {
	now := m.now()
	exp := now.Add(ttl)
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    m.cfg.Issuer,
		Audience:  jwt.ClaimStrings{m.cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}, exp
}

// GenerateAccessToken issues a short lived token carrying the user's identity and role.
func (m *TokenManager) GenerateAccessToken(user *types.User) (string, time.Time, error) {
	rc, exp := m.registered(user.ID.String(), m.cfg.AccessTokenTTL)
	claims := types.Claims{
		UserID:           user.ID.String(),
		Email:            user.Email,
		Role:             user.Role,
		RegisteredClaims: rc,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, exp, nil
}

// GenerateRefreshToken issues a refresh handle. The jti makes every token string unique,
// which the store relies on for its unique index.
func (m *TokenManager) GenerateRefreshToken(userID uuid.UUID) (string, time.Time, error) {
	return m.generateTyped(userID, types.TokenTypeRefresh, m.cfg.RefreshTokenTTL)
}

func (m *TokenManager) GeneratePasswordResetToken(userID uuid.UUID) (string, time.Time, error) {
	return m.generateTyped(userID, types.TokenTypePasswordReset, m.cfg.PasswordResetTTL)
}

func (m *TokenManager) generateTyped(userID uuid.UUID, tokenType string, ttl time.Duration) (string, time.Time, error) {
	rc, exp := m.registered(userID.String(), ttl)
	claims := types.TypedClaims{
		UserID:           userID.String(),
		Type:             tokenType,
		RegisteredClaims: rc,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, exp, nil
}

func (m *TokenManager) parserOptions() []jwt.ParserOption {
	return []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(m.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
}

// ParseAccessToken validates signature, expiry, issuer and audience.
func (m *TokenManager) ParseAccessToken(tokenString string) (*types.Claims, error) {
	claims := &types.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.accessSecret, nil
	}, m.parserOptions()...)
	if err != nil || !token.Valid {
		return nil, types.ErrInvalidOrExpired.WithDetail(jwtReason(err))
	}
	if _, err := uuid.Parse(claims.UserID); err != nil || !claims.Role.Valid() {
		return nil, types.ErrInvalidOrExpired.WithDetail("malformed claims")
	}
	return claims, nil
}

func (m *TokenManager) ParseRefreshToken(tokenString string) (*types.TypedClaims, uuid.UUID, error) {
	return m.parseTyped(tokenString, types.TokenTypeRefresh)
}

func (m *TokenManager) ParsePasswordResetToken(tokenString string) (*types.TypedClaims, uuid.UUID, error) {
	return m.parseTyped(tokenString, types.TokenTypePasswordReset)
}

func (m *TokenManager) parseTyped(tokenString, tokenType string) (*types.TypedClaims, uuid.UUID, error) {
	claims := &types.TypedClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.refreshSecret, nil
	}, m.parserOptions()...)
	if err != nil || !token.Valid {
		return nil, uuid.Nil, types.ErrInvalidToken.WithDetail(jwtReason(err))
	}
	if claims.Type != tokenType {
		return nil, uuid.Nil, types.ErrInvalidToken.WithDetail("unexpected token type")
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, uuid.Nil, types.ErrInvalidToken.WithDetail("malformed subject")
	}
	return claims, userID, nil
}

func jwtReason(err error) string {
	switch {
	case err == nil:
		return "token not valid"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid token signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid token audience"
	default:
		return "token rejected"
	}
}
