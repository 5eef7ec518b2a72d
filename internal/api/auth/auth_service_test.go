package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/techephi-auth/internal/types"
)

const testPassword = "Str0ng!Pw"

var testMeta = types.RequestMeta{IPAddress: "203.0.113.7", UserAgent: "go-test"}

func registerUser(t *testing.T, f *serviceFixture, email, role string) *types.AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterParams{
		Email:       email,
		Password:    testPassword,
		DisplayName: "Test User",
		Role:        role,
	}, testMeta)
	require.NoError(t, err)
	return res
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults role to CLIENT", func(t *testing.T) {
		f := newServiceFixture()
		res := registerUser(t, f, "alice@example.com", "")

		claims, err := f.svc.Verify(ctx, res.Token)
		require.NoError(t, err)
		assert.Equal(t, types.RoleClient, claims.Role)
		assert.Equal(t, "alice@example.com", claims.Email)
		assert.Equal(t, res.User.ID.String(), claims.UserID)
		assert.NotEmpty(t, res.RefreshToken)
		assert.Equal(t, 1, f.store.liveTokens(res.User.ID))
		assert.Equal(t, []types.AuditAction{types.AuditUserRegistered}, f.audit.actions())
	})

	t.Run("session failure still audits the created account", func(t *testing.T) {
		f := newServiceFixture()
		f.store.failStoreToken = errors.New("connection reset")

		_, err := f.svc.Register(ctx, RegisterParams{
			Email:       "alice@example.com",
			Password:    testPassword,
			DisplayName: "Alice",
		}, testMeta)
		require.Error(t, err)
		assert.Equal(t, types.KindInternal, types.KindOf(err))

		_, err = f.store.GetUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, []types.AuditAction{types.AuditUserRegistered}, f.audit.actions())
	})

	t.Run("token carries requested role", func(t *testing.T) {
		for _, role := range types.Roles {
			f := newServiceFixture()
			res := registerUser(t, f, "user@example.com", strings.ToLower(string(role)))
			claims, err := f.svc.Verify(ctx, res.Token)
			require.NoError(t, err)
			assert.Equal(t, role, claims.Role)
		}
	})

	t.Run("normalizes email", func(t *testing.T) {
		f := newServiceFixture()
		res := registerUser(t, f, "  Alice@Example.COM ", "")
		assert.Equal(t, "alice@example.com", res.User.Email)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		f := newServiceFixture()
		registerUser(t, f, "alice@example.com", "")
		_, err := f.svc.Register(ctx, RegisterParams{
			Email: "ALICE@example.com", Password: testPassword, DisplayName: "Again",
		}, testMeta)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrAlreadyExists)
		assert.Equal(t, types.KindConflict, types.KindOf(err))
	})

	t.Run("validation failures", func(t *testing.T) {
		tests := []struct {
			name   string
			params RegisterParams
			want   error
		}{
			{"missing email", RegisterParams{Password: testPassword, DisplayName: "A"}, types.ErrMissingFields},
			{"missing password", RegisterParams{Email: "a@example.com", DisplayName: "A"}, types.ErrMissingFields},
			{"missing display name", RegisterParams{Email: "a@example.com", Password: testPassword}, types.ErrMissingFields},
			{"invalid email", RegisterParams{Email: "not-an-email", Password: testPassword, DisplayName: "A"}, types.ErrInvalidEmail},
			{"invalid role", RegisterParams{Email: "a@example.com", Password: testPassword, DisplayName: "A", Role: "OWNER"}, types.ErrInvalidRole},
			{"weak password", RegisterParams{Email: "a@example.com", Password: "alllowercase1!", DisplayName: "A"}, types.ErrWeakPassword},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newServiceFixture()
				_, err := f.svc.Register(ctx, tt.params, testMeta)
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.want)
				assert.Equal(t, types.KindValidation, types.KindOf(err))
				assert.Empty(t, f.store.users)
			})
		}
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "CONTRACTOR")

		res, err := f.svc.Login(ctx, "Alice@example.com", testPassword, testMeta)
		require.NoError(t, err)
		assert.Equal(t, reg.User.ID, res.User.ID)
		assert.NotNil(t, res.User.LastLoginAt)
		assert.NotEqual(t, reg.RefreshToken, res.RefreshToken)
		assert.Equal(t, 2, f.store.liveTokens(reg.User.ID), "sessions coexist")

		claims, err := f.svc.Verify(ctx, res.Token)
		require.NoError(t, err)
		assert.Equal(t, types.RoleContractor, claims.Role)
	})

	t.Run("unknown email and wrong password are indistinguishable", func(t *testing.T) {
		f := newServiceFixture()
		registerUser(t, f, "alice@example.com", "")

		_, errWrong := f.svc.Login(ctx, "alice@example.com", "Wr0ng!Pass", testMeta)
		_, errUnknown := f.svc.Login(ctx, "nobody@example.com", "Wr0ng!Pass", testMeta)

		require.Error(t, errWrong)
		require.Error(t, errUnknown)
		assert.Equal(t, errWrong.Error(), errUnknown.Error())
		assert.ErrorIs(t, errWrong, types.ErrInvalidCredentials)
		assert.ErrorIs(t, errUnknown, types.ErrInvalidCredentials)
	})

	t.Run("every attempt is audited once", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")

		_, _ = f.svc.Login(ctx, "alice@example.com", testPassword, testMeta)
		_, _ = f.svc.Login(ctx, "alice@example.com", "Wr0ng!Pass", testMeta)
		_, _ = f.svc.Login(ctx, "ghost@example.com", "Wr0ng!Pass", testMeta)
		require.NoError(t, f.store.SetActive(ctx, reg.User.ID, false))
		_, _ = f.svc.Login(ctx, "alice@example.com", testPassword, testMeta)

		assert.Equal(t, []types.AuditAction{
			types.AuditUserRegistered,
			types.AuditLoginSuccess,
			types.AuditLoginFailed,
			types.AuditLoginFailed,
			types.AuditLoginFailed,
		}, f.audit.actions())
	})

	t.Run("deactivated account", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		require.NoError(t, f.store.SetActive(ctx, reg.User.ID, false))

		_, err := f.svc.Login(ctx, "alice@example.com", testPassword, testMeta)
		assert.ErrorIs(t, err, types.ErrAccountDeactivated)
		assert.Equal(t, types.KindForbidden, types.KindOf(err))

		_, err = f.svc.Login(ctx, "alice@example.com", "Wr0ng!Pass", testMeta)
		assert.ErrorIs(t, err, types.ErrInvalidCredentials, "password is checked before account status")
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newServiceFixture()
		_, err := f.svc.Login(ctx, "", "", testMeta)
		assert.ErrorIs(t, err, types.ErrMissingFields)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		f := newServiceFixture()
		f.store.failGet = errors.New("connection reset")
		_, err := f.svc.Login(ctx, "alice@example.com", testPassword, testMeta)
		require.Error(t, err)
		assert.Equal(t, types.KindInternal, types.KindOf(err))
	})

	t.Run("session store failure is audited once", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		f.store.failStoreToken = errors.New("connection reset")

		_, err := f.svc.Login(ctx, "alice@example.com", testPassword, testMeta)
		require.Error(t, err)
		assert.Equal(t, types.KindInternal, types.KindOf(err))

		assert.Equal(t, []types.AuditAction{types.AuditUserRegistered, types.AuditLoginFailed}, f.audit.actions())
		assert.Equal(t, map[string]any{"reason": "internal_error"}, f.audit.entries[1].NewValues)

		user, err := f.store.GetUserByID(ctx, reg.User.ID)
		require.NoError(t, err)
		assert.Nil(t, user.LastLoginAt, "last login only moves once a session exists")
	})

	t.Run("audit failure does not fail login", func(t *testing.T) {
		f := newServiceFixture()
		registerUser(t, f, "alice@example.com", "")
		f.audit.err = errors.New("audit table locked")

		_, err := f.svc.Login(ctx, "alice@example.com", testPassword, testMeta)
		assert.NoError(t, err)
	})
}

func TestRefreshToken(t *testing.T) {
	ctx := context.Background()

	t.Run("rotation invalidates the previous token", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		rt1 := reg.RefreshToken

		pair, err := f.svc.RefreshToken(ctx, rt1)
		require.NoError(t, err)
		rt2 := pair.RefreshToken
		assert.NotEqual(t, rt1, rt2)
		assert.NotEmpty(t, pair.Token)

		_, err = f.svc.RefreshToken(ctx, rt1)
		assert.ErrorIs(t, err, types.ErrExpiredOrRevoked)

		pair3, err := f.svc.RefreshToken(ctx, rt2)
		require.NoError(t, err)
		assert.NotEqual(t, rt2, pair3.RefreshToken)
		assert.Equal(t, 1, f.store.liveTokens(reg.User.ID))
	})

	t.Run("concurrent use of one token has a single winner", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.RefreshToken(ctx, reg.RefreshToken)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, types.ErrExpiredOrRevoked)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("garbage token", func(t *testing.T) {
		f := newServiceFixture()
		_, err := f.svc.RefreshToken(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, types.ErrInvalidToken)
		assert.Equal(t, types.KindAuthentication, types.KindOf(err))
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		_, err := f.svc.RefreshToken(ctx, reg.Token)
		assert.ErrorIs(t, err, types.ErrInvalidToken)
	})

	t.Run("signed but never stored", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		orphan, _, err := f.svc.jwt.GenerateRefreshToken(reg.User.ID)
		require.NoError(t, err)

		_, err = f.svc.RefreshToken(ctx, orphan)
		assert.ErrorIs(t, err, types.ErrExpiredOrRevoked)
	})

	t.Run("inactive user", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		require.NoError(t, f.store.SetActive(ctx, reg.User.ID, false))

		_, err := f.svc.RefreshToken(ctx, reg.RefreshToken)
		assert.ErrorIs(t, err, types.ErrUserInactive)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("revoked token cannot refresh", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")

		f.svc.Logout(ctx, reg.RefreshToken, testMeta)

		_, err := f.svc.RefreshToken(ctx, reg.RefreshToken)
		assert.ErrorIs(t, err, types.ErrExpiredOrRevoked)
		assert.Contains(t, f.audit.actions(), types.AuditLogout)
	})

	t.Run("garbage and empty tokens are fine", func(t *testing.T) {
		f := newServiceFixture()
		assert.NotPanics(t, func() {
			f.svc.Logout(ctx, "anyGarbageString", testMeta)
			f.svc.Logout(ctx, "", testMeta)
		})
		assert.Empty(t, f.audit.actions())
	})

	t.Run("second logout is a no-op", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		f.svc.Logout(ctx, reg.RefreshToken, testMeta)
		f.svc.Logout(ctx, reg.RefreshToken, testMeta)

		logouts := 0
		for _, a := range f.audit.actions() {
			if a == types.AuditLogout {
				logouts++
			}
		}
		assert.Equal(t, 1, logouts)
	})
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	const newPassword = "N3w!Passw0rd"

	t.Run("updates hash and revokes sessions", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")

		err := f.svc.ChangePassword(ctx, reg.User.ID, testPassword, newPassword, testMeta)
		require.NoError(t, err)

		_, err = f.svc.Login(ctx, "alice@example.com", testPassword, testMeta)
		assert.ErrorIs(t, err, types.ErrInvalidCredentials)

		_, err = f.svc.RefreshToken(ctx, reg.RefreshToken)
		assert.ErrorIs(t, err, types.ErrExpiredOrRevoked)

		res, err := f.svc.Login(ctx, "alice@example.com", newPassword, testMeta)
		require.NoError(t, err)
		assert.NotNil(t, res.User.PasswordChangedAt)
		assert.Contains(t, f.audit.actions(), types.AuditPasswordChanged)
	})

	t.Run("keeps sessions when configured", func(t *testing.T) {
		f := newServiceFixture()
		f.cfg.Auth.RevokeSessionsOnPasswordChange = false
		reg := registerUser(t, f, "alice@example.com", "")

		require.NoError(t, f.svc.ChangePassword(ctx, reg.User.ID, testPassword, newPassword, testMeta))
		_, err := f.svc.RefreshToken(ctx, reg.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("wrong current password", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		err := f.svc.ChangePassword(ctx, reg.User.ID, "Wr0ng!Pass", newPassword, testMeta)
		assert.ErrorIs(t, err, types.ErrInvalidCredentials)
	})

	t.Run("weak new password", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		err := f.svc.ChangePassword(ctx, reg.User.ID, testPassword, "weakpass", testMeta)
		assert.ErrorIs(t, err, types.ErrWeakPassword)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newServiceFixture()
		err := f.svc.ChangePassword(ctx, uuid.New(), testPassword, newPassword, testMeta)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	const newPassword = "R3set!Passw0rd"

	requestToken := func(t *testing.T, f *serviceFixture, email string) string {
		t.Helper()
		require.NoError(t, f.svc.RequestPasswordReset(ctx, email, testMeta))
		require.NotEmpty(t, f.notifier.events)
		for token := range f.store.resets {
			return token
		}
		t.Fatal("no reset record stored")
		return ""
	}

	t.Run("unknown email looks like success", func(t *testing.T) {
		f := newServiceFixture()
		err := f.svc.RequestPasswordReset(ctx, "ghost@example.com", testMeta)
		assert.NoError(t, err)
		assert.Empty(t, f.notifier.events)
		assert.Empty(t, f.store.resets)
	})

	t.Run("publishes reset link", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		token := requestToken(t, f, "alice@example.com")

		ev := f.notifier.events[0]
		assert.Equal(t, reg.User.ID.String(), ev.UserID)
		assert.Equal(t, "alice@example.com", ev.Email)
		assert.Equal(t, "http://localhost:3000/reset-password?token="+token, ev.ResetURL)
		assert.WithinDuration(t, time.Now().Add(time.Hour), ev.ExpiresAt, time.Minute)
	})

	t.Run("token is single use", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		token := requestToken(t, f, "alice@example.com")

		require.NoError(t, f.svc.ResetPassword(ctx, token, newPassword, testMeta))

		err := f.svc.ResetPassword(ctx, token, "An0ther!Passw0rd", testMeta)
		assert.ErrorIs(t, err, types.ErrExpiredOrInvalid)

		_, err = f.svc.Login(ctx, "alice@example.com", newPassword, testMeta)
		assert.NoError(t, err)

		_, err = f.svc.RefreshToken(ctx, reg.RefreshToken)
		assert.ErrorIs(t, err, types.ErrExpiredOrRevoked, "reset ends existing sessions")
		assert.Contains(t, f.audit.actions(), types.AuditPasswordReset)
	})

	t.Run("expired reset", func(t *testing.T) {
		f := newServiceFixture()
		registerUser(t, f, "alice@example.com", "")
		token := requestToken(t, f, "alice@example.com")

		f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		err := f.svc.ResetPassword(ctx, token, newPassword, testMeta)
		require.Error(t, err)
		assert.Equal(t, types.KindAuthentication, types.KindOf(err))
	})

	t.Run("refresh token cannot reset a password", func(t *testing.T) {
		f := newServiceFixture()
		reg := registerUser(t, f, "alice@example.com", "")
		err := f.svc.ResetPassword(ctx, reg.RefreshToken, newPassword, testMeta)
		assert.ErrorIs(t, err, types.ErrInvalidToken)
	})

	t.Run("store failure leaves token usable", func(t *testing.T) {
		f := newServiceFixture()
		registerUser(t, f, "alice@example.com", "")
		token := requestToken(t, f, "alice@example.com")

		f.store.failPasswordWrite = errors.New("db down")
		err := f.svc.ResetPassword(ctx, token, newPassword, testMeta)
		require.Error(t, err)
		assert.Equal(t, types.KindInternal, types.KindOf(err))
		assert.NotContains(t, f.audit.actions(), types.AuditPasswordReset)

		f.store.failPasswordWrite = nil
		require.NoError(t, f.svc.ResetPassword(ctx, token, newPassword, testMeta))
		_, err = f.svc.Login(ctx, "alice@example.com", newPassword, testMeta)
		assert.NoError(t, err)
	})

	t.Run("weak password leaves token usable", func(t *testing.T) {
		f := newServiceFixture()
		registerUser(t, f, "alice@example.com", "")
		token := requestToken(t, f, "alice@example.com")

		err := f.svc.ResetPassword(ctx, token, "weak", testMeta)
		assert.ErrorIs(t, err, types.ErrWeakPassword)
		assert.NoError(t, f.svc.ResetPassword(ctx, token, newPassword, testMeta))
	})
}

func TestSetUserActive(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	admin := registerUser(t, f, "admin@example.com", "ADMIN")
	user := registerUser(t, f, "bob@example.com", "")

	require.NoError(t, f.svc.SetUserActive(ctx, admin.User.ID, user.User.ID, false, testMeta))
	assert.Equal(t, 0, f.store.liveTokens(user.User.ID))

	_, err := f.svc.Login(ctx, "bob@example.com", testPassword, testMeta)
	assert.ErrorIs(t, err, types.ErrAccountDeactivated)

	require.NoError(t, f.svc.SetUserActive(ctx, admin.User.ID, user.User.ID, true, testMeta))
	_, err = f.svc.Login(ctx, "bob@example.com", testPassword, testMeta)
	assert.NoError(t, err)

	err = f.svc.SetUserActive(ctx, admin.User.ID, uuid.New(), false, testMeta)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAuthorize(t *testing.T) {
	admin := &types.Claims{UserID: uuid.NewString(), Role: types.RoleAdmin}
	client := &types.Claims{UserID: uuid.NewString(), Role: types.RoleClient}

	assert.NoError(t, Authorize(admin, types.RoleAdmin))
	assert.NoError(t, Authorize(client, types.RoleAdmin, types.RoleClient))
	assert.ErrorIs(t, Authorize(client, types.RoleAdmin), types.ErrForbidden)
	assert.ErrorIs(t, Authorize(nil, types.RoleAdmin), types.ErrUnauthenticated)
	assert.ErrorIs(t, Authorize(admin), types.ErrForbidden)
}
