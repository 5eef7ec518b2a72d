package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/techephi-auth/config"
	"github.com/FACorreiaa/techephi-auth/internal/notify"
	"github.com/FACorreiaa/techephi-auth/internal/types"
)

// memStore is an in-memory UserDirectory and TokenStore with the same conditional update
// semantics as the Postgres statements.
type memStore struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*types.User
	tokens  map[string]*types.RefreshToken
	resets  map[string]*types.PasswordReset
	failGet error
	// failStoreToken makes StoreRefreshToken fail.
	failStoreToken error
	// failPasswordWrite makes ApplyPasswordReset fail after the reset matched, leaving both untouched.
	failPasswordWrite error
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[uuid.UUID]*types.User{},
		tokens: map[string]*types.RefreshToken{},
		resets: map[string]*types.PasswordReset{},
	}
}

func (m *memStore) CreateUser(_ context.Context, p types.CreateUserParams) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == p.Email {
			return nil, types.ErrAlreadyExists
		}
	}
	now := time.Now()
	u := &types.User{
		ID:           uuid.New(),
		Email:        p.Email,
		DisplayName:  p.DisplayName,
		Role:         p.Role,
		Phone:        p.Phone,
		PasswordHash: p.PasswordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users[u.ID] = u
	c := *u
	return &c, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	for _, u := range m.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, types.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id uuid.UUID) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memStore) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, id uuid.UUID, hash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return types.ErrNotFound
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = &changedAt
	return nil
}

func (m *memStore) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return types.ErrNotFound
	}
	u.IsActive = active
	return nil
}

func (m *memStore) StoreRefreshToken(_ context.Context, userID uuid.UUID, token string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStoreToken != nil {
		return m.failStoreToken
	}
	if _, dup := m.tokens[token]; dup {
		return errors.New("duplicate token")
	}
	m.tokens[token] = &types.RefreshToken{ID: uuid.New(), UserID: userID, Token: token, ExpiresAt: exp}
	return nil
}

func (m *memStore) GetRefreshToken(_ context.Context, token string) (*types.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, types.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *memStore) RotateRefreshToken(_ context.Context, oldToken, newToken string, newExp, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[oldToken]
	if !ok || !t.Usable(now) {
		return types.ErrExpiredOrRevoked
	}
	delete(m.tokens, oldToken)
	t.Token = newToken
	t.ExpiresAt = newExp
	m.tokens[newToken] = t
	return nil
}

func (m *memStore) RevokeRefreshToken(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	return true, nil
}

func (m *memStore) RevokeAllUserRefreshTokens(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreatePasswordReset(_ context.Context, userID uuid.UUID, token string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = &types.PasswordReset{ID: uuid.New(), UserID: userID, Token: token, ExpiresAt: exp}
	return nil
}

func (m *memStore) GetPasswordReset(_ context.Context, token string) (*types.PasswordReset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resets[token]
	if !ok {
		return nil, types.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *memStore) ApplyPasswordReset(_ context.Context, resetID, userID uuid.UUID, hash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resets {
		if r.ID != resetID || r.UserID != userID || !r.Usable(now) {
			continue
		}
		u, ok := m.users[userID]
		if !ok {
			return types.ErrNotFound
		}
		if m.failPasswordWrite != nil {
			return m.failPasswordWrite
		}
		r.IsUsed = true
		u.PasswordHash = hash
		u.PasswordChangedAt = &now
		return nil
	}
	return types.ErrExpiredOrInvalid
}

func (m *memStore) liveTokens(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.UserID == userID && !t.IsRevoked {
			n++
		}
	}
	return n
}

type memAudit struct {
	mu      sync.Mutex
	entries []types.AuditLogEntry
	err     error
}

func (a *memAudit) Record(_ context.Context, e types.AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) actions() []types.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.AuditAction, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type memNotifier struct {
	mu     sync.Mutex
	events []notify.PasswordResetEvent
}

func (n *memNotifier) PasswordResetRequested(_ context.Context, e notify.PasswordResetEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{Mode: config.ModeDevelopment}
	cfg.JWT = config.JWTConfig{
		SecretKey:        "test-access-secret",
		RefreshSecretKey: "test-refresh-secret",
		AccessTokenTTL:   24 * time.Hour,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		PasswordResetTTL: time.Hour,
		Issuer:           "techephi-crm",
		Audience:         "techephi-crm-users",
	}
	cfg.Auth = config.AuthConfig{
		RevokeSessionsOnPasswordChange: true,
		RefreshCookieName:              "refreshToken",
		ResetURL:                       "http://localhost:3000/reset-password",
	}
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serviceFixture struct {
	svc      *AuthServiceImpl
	store    *memStore
	audit    *memAudit
	notifier *memNotifier
	cfg      *config.Config
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		store:    newMemStore(),
		audit:    &memAudit{},
		notifier: &memNotifier{},
		cfg:      testConfig(),
	}
	f.svc = NewAuthService(f.store, f.store, f.audit, f.notifier, f.cfg, discardLogger(), nil)
	return f
}
