package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/techephi-auth/app/observability/metrics"
	"github.com/FACorreiaa/techephi-auth/config"
	"github.com/FACorreiaa/techephi-auth/internal/api/audit"
	"github.com/FACorreiaa/techephi-auth/internal/notify"
	"github.com/FACorreiaa/techephi-auth/internal/types"
)

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService is the session and token authority: it turns credentials into short lived
// access claims and rotating refresh handles.
type AuthService interface {
	Register(ctx context.Context, params RegisterParams, meta types.RequestMeta) (*types.AuthResult, error)
	Login(ctx context.Context, email, password string, meta types.RequestMeta) (*types.AuthResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*types.TokenPair, error)
	// Logout revokes the refresh token if it is live. It never fails.
	Logout(ctx context.Context, refreshToken string, meta types.RequestMeta)
	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string, meta types.RequestMeta) error
	// RequestPasswordReset always succeeds from the caller's point of view.
	RequestPasswordReset(ctx context.Context, email string, meta types.RequestMeta) error
	ResetPassword(ctx context.Context, token, newPassword string, meta types.RequestMeta) error
	Verify(ctx context.Context, accessToken string) (*types.Claims, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error)
	SetUserActive(ctx context.Context, actorID, userID uuid.UUID, active bool, meta types.RequestMeta) error
}

type RegisterParams struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
	Phone       string
}

type AuthServiceImpl struct {
	logger   *slog.Logger
	users    UserDirectory
	tokens   TokenStore
	audit    audit.Sink
	notifier notify.Notifier
	jwt      *TokenManager
	cfg      *config.Config
	metrics  *metrics.AppMetrics
	validate *validator.Validate
	now      func() time.Time
}

func NewAuthService(
	users UserDirectory,
	tokens TokenStore,
	auditSink audit.Sink,
	notifier notify.Notifier,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.AppMetrics,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger:   logger,
		users:    users,
		tokens:   tokens,
		audit:    auditSink,
		notifier: notifier,
		jwt:      NewTokenManager(cfg.JWT),
		cfg:      cfg,
		metrics:  m,
		validate: validator.New(),
		now:      time.Now,
	}
}

func (s *AuthServiceImpl) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("AuthService").Start(ctx, name, trace.WithAttributes(attrs...))
}

// observe closes out an operation: span status, metrics outcome.
func (s *AuthServiceImpl) observe(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = types.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, operation+" succeeded")
	}
	s.metrics.RecordAuth(ctx, operation, outcome, time.Since(start))
}

// recordAudit writes an audit entry. Failures are logged and counted, never returned.
func (s *AuthServiceImpl) recordAudit(ctx context.Context, entry types.AuditLogEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "Failed to write audit entry",
			slog.String("action", string(entry.Action)),
			slog.String("entity_id", entry.EntityID),
			slog.Any("error", err))
		s.metrics.RecordAuditFailure(ctx, string(entry.Action))
	}
}

func userAudit(user *types.User, action types.AuditAction, meta types.RequestMeta) types.AuditLogEntry {
	id := user.ID
	return types.AuditLogEntry{
		UserID:     &id,
		Action:     action,
		EntityType: types.AuditEntityUser,
		EntityID:   user.ID.String(),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// issueSession mints an access token and a fresh refresh token and persists the latter.
func (s *AuthServiceImpl) issueSession(ctx context.Context, user *types.User) (*types.AuthResult, error) {
	access, _, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.jwt.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.StoreRefreshToken(ctx, user.ID, refresh, refreshExp); err != nil {
		return nil, err
	}
	return &types.AuthResult{
		User: user,
		TokenPair: types.TokenPair{
			Token:            access,
			RefreshToken:     refresh,
			RefreshExpiresAt: refreshExp,
		},
	}, nil
}

// Register creates a CLIENT account unless another role is requested, and opens a session.
func (s *AuthServiceImpl) Register(ctx context.Context, params RegisterParams, meta types.RequestMeta) (_ *types.AuthResult, err error) {
	ctx, span := s.startSpan(ctx, "Register")
	defer span.End()
	start := time.Now()
	defer func() { s.observe(ctx, span, "register", start, err) }()

	l := s.logger.With(slog.String("method", "Register"))

	email := normalizeEmail(params.Email)
	displayName := strings.TrimSpace(params.DisplayName)
	if email == "" || params.Password == "" || displayName == "" {
		return nil, types.ErrMissingFields.WithDetail("email, password, and displayName are required")
	}
	if s.validate.Var(email, "email") != nil {
		return nil, types.ErrInvalidEmail
	}
	role, err := types.ParseRole(params.Role)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(params.Password); err != nil {
		return nil, err
	}

	_, err = s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, types.ErrAlreadyExists
	case !errors.Is(err, types.ErrNotFound):
		l.ErrorContext(ctx, "Failed to check for existing user", slog.Any("error", err))
		return nil, fmt.Errorf("register: %w", err)
	}

	hash, err := HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	var phone *string
	if p := strings.TrimSpace(params.Phone); p != "" {
		phone = &p
	}

	user, err := s.users.CreateUser(ctx, types.CreateUserParams{
		Email:        email,
		DisplayName:  displayName,
		Role:         role,
		Phone:        phone,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	// The account exists from here on, whether or not a session can be opened.
	entry := userAudit(user, types.AuditUserRegistered, meta)
	entry.NewValues = map[string]any{"email": user.Email, "displayName": user.DisplayName, "role": string(user.Role)}
	s.recordAudit(ctx, entry)

	result, err := s.issueSession(ctx, user)
	if err != nil {
		l.ErrorContext(ctx, "Failed to issue session for new user", slog.String("userID", user.ID.String()), slog.Any("error", err))
		return nil, fmt.Errorf("register: %w", err)
	}

	l.InfoContext(ctx, "User registered", slog.String("userID", user.ID.String()), slog.String("role", string(user.Role)))
	return result, nil
}

// Login authenticates by email and password. Unknown email and wrong password produce the
// same error so callers cannot enumerate accounts.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string, meta types.RequestMeta) (_ *types.AuthResult, err error) {
	ctx, span := s.startSpan(ctx, "Login")
	defer span.End()
	start := time.Now()
	defer func() { s.observe(ctx, span, "login", start, err) }()

	l := s.logger.With(slog.String("method", "Login"))

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, types.ErrMissingFields.WithDetail("email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			burnCompare(password)
			s.recordAudit(ctx, types.AuditLogEntry{
				Action:     types.AuditLoginFailed,
				EntityType: types.AuditEntityUser,
				IPAddress:  meta.IPAddress,
				UserAgent:  meta.UserAgent,
				NewValues:  map[string]any{"reason": "unknown_email", "email": email},
			})
			l.InfoContext(ctx, "Login attempt for unknown email")
			return nil, types.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	ok, err := ComparePassword(user.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !ok {
		entry := userAudit(user, types.AuditLoginFailed, meta)
		entry.NewValues = map[string]any{"reason": "invalid_password"}
		s.recordAudit(ctx, entry)
		l.InfoContext(ctx, "Login failed: password mismatch", slog.String("userID", user.ID.String()))
		return nil, types.ErrInvalidCredentials
	}

	if !user.IsActive {
		entry := userAudit(user, types.AuditLoginFailed, meta)
		entry.NewValues = map[string]any{"reason": "account_deactivated"}
		s.recordAudit(ctx, entry)
		l.InfoContext(ctx, "Login refused for deactivated account", slog.String("userID", user.ID.String()))
		return nil, types.ErrAccountDeactivated
	}

	result, err := s.issueSession(ctx, user)
	if err != nil {
		entry := userAudit(user, types.AuditLoginFailed, meta)
		entry.NewValues = map[string]any{"reason": "internal_error"}
		s.recordAudit(ctx, entry)
		l.ErrorContext(ctx, "Failed to issue session", slog.String("userID", user.ID.String()), slog.Any("error", err))
		return nil, fmt.Errorf("login: %w", err)
	}

	// last_login_at is bookkeeping; the session is already live.
	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		l.WarnContext(ctx, "Failed to record last login", slog.String("userID", user.ID.String()), slog.Any("error", err))
	} else {
		user.LastLoginAt = &now
	}

	s.recordAudit(ctx, userAudit(user, types.AuditLoginSuccess, meta))
	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	l.InfoContext(ctx, "User logged in", slog.String("userID", user.ID.String()))
	return result, nil
}

// RefreshToken exchanges a live refresh token for a new pair. The stored record is overwritten
// in place, so the presented token stops matching anything.
func (s *AuthServiceImpl) RefreshToken(ctx context.Context, refreshToken string) (_ *types.TokenPair, err error) {
	ctx, span := s.startSpan(ctx, "RefreshToken")
	defer span.End()
	start := time.Now()
	defer func() { s.observe(ctx, span, "refresh", start, err) }()

	_, userID, err := s.jwt.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	stored, err := s.tokens.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrExpiredOrRevoked
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}
	now := s.now()
	if !stored.Usable(now) || stored.UserID != userID {
		return nil, types.ErrExpiredOrRevoked
	}

	user, err := s.users.GetUserByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrUserInactive
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if !user.IsActive {
		return nil, types.ErrUserInactive
	}

	access, _, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}
	newRefresh, newExp, err := s.jwt.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.RotateRefreshToken(ctx, refreshToken, newRefresh, newExp, now); err != nil {
		if errors.Is(err, types.ErrExpiredOrRevoked) {
			return nil, types.ErrExpiredOrRevoked
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return &types.TokenPair{Token: access, RefreshToken: newRefresh, RefreshExpiresAt: newExp}, nil
}

// Logout is best effort: missing, unknown or already revoked tokens are fine, and store
// failures are only logged.
func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string, meta types.RequestMeta) {
	ctx, span := s.startSpan(ctx, "Logout")
	defer span.End()
	start := time.Now()

	l := s.logger.With(slog.String("method", "Logout"))
	if strings.TrimSpace(refreshToken) == "" {
		s.observe(ctx, span, "logout", start, nil)
		return
	}

	revoked, err := s.tokens.RevokeRefreshToken(ctx, refreshToken)
	if err != nil {
		l.WarnContext(ctx, "Failed to revoke refresh token on logout", slog.Any("error", err))
	} else if !revoked {
		l.DebugContext(ctx, "No live refresh token matched on logout")
	} else if _, userID, perr := s.jwt.ParseRefreshToken(refreshToken); perr == nil {
		s.recordAudit(ctx, types.AuditLogEntry{
			UserID:     &userID,
			Action:     types.AuditLogout,
			EntityType: types.AuditEntityUser,
			EntityID:   userID.String(),
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
		})
	}
	s.observe(ctx, span, "logout", start, nil)
}

func (s *AuthServiceImpl) revokeSessions(ctx context.Context, userID uuid.UUID, reason string) {
	n, err := s.tokens.RevokeAllUserRefreshTokens(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to revoke refresh tokens",
			slog.String("userID", userID.String()), slog.String("reason", reason), slog.Any("error", err))
		return
	}
	s.logger.InfoContext(ctx, "Revoked refresh tokens",
		slog.String("userID", userID.String()), slog.String("reason", reason), slog.Int64("count", n))
}

func (s *AuthServiceImpl) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string, meta types.RequestMeta) (err error) {
	ctx, span := s.startSpan(ctx, "ChangePassword", attribute.String("user.id", userID.String()))
	defer span.End()
	start := time.Now()
	defer func() { s.observe(ctx, span, "change_password", start, err) }()

	if currentPassword == "" || newPassword == "" {
		return types.ErrMissingFields.WithDetail("currentPassword and newPassword are required")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.ErrNotFound.WithDetail("user not found")
		}
		return fmt.Errorf("change password: %w", err)
	}

	ok, err := ComparePassword(user.PasswordHash, currentPassword)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if !ok {
		return types.ErrInvalidCredentials
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	if s.cfg.Auth.RevokeSessionsOnPasswordChange {
		s.revokeSessions(ctx, user.ID, "password_changed")
	}

	entry := userAudit(user, types.AuditPasswordChanged, meta)
	entry.NewValues = map[string]any{"passwordChangedAt": now.UTC().Format(time.RFC3339)}
	s.recordAudit(ctx, entry)
	return nil
}

func (s *AuthServiceImpl) RequestPasswordReset(ctx context.Context, email string, meta types.RequestMeta) error {
	ctx, span := s.startSpan(ctx, "RequestPasswordReset")
	defer span.End()
	start := time.Now()
	defer s.observe(ctx, span, "request_password_reset", start, nil)

	l := s.logger.With(slog.String("method", "RequestPasswordReset"))

	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			l.ErrorContext(ctx, "Failed to look up user for password reset", slog.Any("error", err))
		}
		return nil
	}

	token, exp, err := s.jwt.GeneratePasswordResetToken(user.ID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to generate password reset token", slog.Any("error", err))
		return nil
	}
	if err := s.tokens.CreatePasswordReset(ctx, user.ID, token, exp); err != nil {
		l.ErrorContext(ctx, "Failed to persist password reset", slog.String("userID", user.ID.String()), slog.Any("error", err))
		return nil
	}

	s.recordAudit(ctx, userAudit(user, types.AuditPasswordResetRequested, meta))

	if s.notifier != nil {
		event := notify.PasswordResetEvent{
			UserID:      user.ID.String(),
			Email:       user.Email,
			DisplayName: user.DisplayName,
			ResetURL:    s.resetURL(token),
			ExpiresAt:   exp,
			RequestedAt: s.now(),
		}
		if err := s.notifier.PasswordResetRequested(ctx, event); err != nil {
			l.ErrorContext(ctx, "Failed to hand off password reset notification", slog.String("userID", user.ID.String()), slog.Any("error", err))
		}
	}
	return nil
}

func (s *AuthServiceImpl) resetURL(token string) string {
	base := s.cfg.Auth.ResetURL
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + token
}

// ResetPassword applies a new password using a reset token. Each reset record can be
// consumed once; the consume is a conditional update so two concurrent uses cannot both win,
// and it commits together with the password change.
func (s *AuthServiceImpl) ResetPassword(ctx context.Context, token, newPassword string, meta types.RequestMeta) (err error) {
	ctx, span := s.startSpan(ctx, "ResetPassword")
	defer span.End()
	start := time.Now()
	defer func() { s.observe(ctx, span, "reset_password", start, err) }()

	if token == "" || newPassword == "" {
		return types.ErrMissingFields.WithDetail("token and newPassword are required")
	}

	_, userID, err := s.jwt.ParsePasswordResetToken(token)
	if err != nil {
		return err
	}

	reset, err := s.tokens.GetPasswordReset(ctx, token)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.ErrExpiredOrInvalid
		}
		return fmt.Errorf("reset password: %w", err)
	}
	now := s.now()
	if !reset.Usable(now) || reset.UserID != userID {
		return types.ErrExpiredOrInvalid
	}

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetUserByID(ctx, reset.UserID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.ErrExpiredOrInvalid
		}
		return fmt.Errorf("reset password: %w", err)
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := s.tokens.ApplyPasswordReset(ctx, reset.ID, user.ID, hash, now); err != nil {
		if errors.Is(err, types.ErrExpiredOrInvalid) || errors.Is(err, types.ErrNotFound) {
			return types.ErrExpiredOrInvalid
		}
		return fmt.Errorf("reset password: %w", err)
	}

	s.revokeSessions(ctx, user.ID, "password_reset")

	entry := userAudit(user, types.AuditPasswordReset, meta)
	entry.NewValues = map[string]any{"passwordChangedAt": now.UTC().Format(time.RFC3339)}
	s.recordAudit(ctx, entry)
	return nil
}

// Verify validates an access token. It touches no store.
func (s *AuthServiceImpl) Verify(ctx context.Context, accessToken string) (*types.Claims, error) {
	_, span := s.startSpan(ctx, "Verify")
	defer span.End()

	claims, err := s.jwt.ParseAccessToken(accessToken)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", claims.UserID))
	return claims, nil
}

func (s *AuthServiceImpl) GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrNotFound.WithDetail("user not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// SetUserActive activates or deactivates an account. Deactivation also revokes every refresh
// token, so existing sessions end at their next refresh.
func (s *AuthServiceImpl) SetUserActive(ctx context.Context, actorID, userID uuid.UUID, active bool, meta types.RequestMeta) (err error) {
	ctx, span := s.startSpan(ctx, "SetUserActive", attribute.String("user.id", userID.String()), attribute.Bool("active", active))
	defer span.End()
	start := time.Now()
	defer func() { s.observe(ctx, span, "set_user_active", start, err) }()

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsActive == active {
		return nil
	}
	if err := s.users.SetActive(ctx, userID, active); err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	if !active {
		s.revokeSessions(ctx, userID, "deactivated")
	}

	entry := userAudit(user, types.AuditUserStatusChanged, meta)
	entry.OldValues = map[string]any{"isActive": user.IsActive}
	entry.NewValues = map[string]any{"isActive": active, "changedBy": actorID.String()}
	s.recordAudit(ctx, entry)
	return nil
}

// Authorize checks the caller's role against the allowed set. It is pure.
func Authorize(claims *types.Claims, allowed ...types.Role) error {
	if claims == nil {
		return types.ErrUnauthenticated
	}
	for _, r := range allowed {
		if claims.Role == r {
			return nil
		}
	}
	return types.ErrForbidden
}
