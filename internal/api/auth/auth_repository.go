package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/techephi-auth/app/observability/metrics"
	"github.com/FACorreiaa/techephi-auth/internal/types"
)

var (
	_ UserDirectory = (*PostgresAuthRepo)(nil)
	_ TokenStore    = (*PostgresAuthRepo)(nil)
)

// DBTX is the subset of pgx used by the repositories. *pgxpool.Pool and pgxmock pools satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// UserDirectory creates, reads and updates user records.
type UserDirectory interface {
	// CreateUser inserts a user. Returns types.ErrAlreadyExists if the email is taken.
	CreateUser(ctx context.Context, params types.CreateUserParams) (*types.User, error)
	// GetUserByEmail returns types.ErrNotFound if no user has the email.
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	// GetUserByID returns types.ErrNotFound if no user has the id.
	GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error)
	UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, changedAt time.Time) error
	SetActive(ctx context.Context, userID uuid.UUID, active bool) error
}

// TokenStore persists refresh token and password reset records. All mutations are single
// conditional statements so concurrent callers race inside the database, not in process.
type TokenStore interface {
	StoreRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	// GetRefreshToken returns types.ErrNotFound for unknown tokens.
	GetRefreshToken(ctx context.Context, token string) (*types.RefreshToken, error)
	// RotateRefreshToken overwrites the token value and expiry of the live record holding oldToken.
	// Returns types.ErrExpiredOrRevoked when no live record matched.
	RotateRefreshToken(ctx context.Context, oldToken, newToken string, newExpiresAt, now time.Time) error
	// RevokeRefreshToken reports whether a live record was revoked.
	RevokeRefreshToken(ctx context.Context, token string) (bool, error)
	RevokeAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) (int64, error)

	CreatePasswordReset(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	// GetPasswordReset returns types.ErrNotFound for unknown tokens.
	GetPasswordReset(ctx context.Context, token string) (*types.PasswordReset, error)
	// ApplyPasswordReset marks an unused, unexpired reset as used and stores the new password hash
	// in one transaction. Returns types.ErrExpiredOrInvalid when it was already used or has expired;
	// on any error nothing is written.
	ApplyPasswordReset(ctx context.Context, resetID, userID uuid.UUID, passwordHash string, now time.Time) error
}

type PostgresAuthRepo struct {
	logger  *slog.Logger
	db      DBTX
	metrics *metrics.AppMetrics
}

func NewPostgresAuthRepo(db DBTX, logger *slog.Logger, m *metrics.AppMetrics) *PostgresAuthRepo {
	return &PostgresAuthRepo{
		logger:  logger,
		db:      db,
		metrics: m,
	}
}

const userColumns = `id, email, display_name, role::text, phone, password_hash, is_active,
        last_login_at, password_changed_at, created_at, updated_at`

func (r *PostgresAuthRepo) startSpan(ctx context.Context, name, operation, table string) (context.Context, trace.Span) {
	return otel.Tracer("AuthRepo").Start(ctx, name, trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
	))
}

// finish records the outcome of a query on the span and in metrics.
func (r *PostgresAuthRepo) finish(ctx context.Context, span trace.Span, operation, table string, start time.Time, err error) {
	r.metrics.RecordDBQuery(ctx, operation, table, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var role string
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&role,
		&u.Phone,
		&u.PasswordHash,
		&u.IsActive,
		&u.LastLoginAt,
		&u.PasswordChangedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = types.Role(role)
	return &u, nil
}

func (r *PostgresAuthRepo) CreateUser(ctx context.Context, params types.CreateUserParams) (_ *types.User, err error) {
	ctx, span := r.startSpan(ctx, "CreateUser", "INSERT", "users")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "INSERT", "users", start, err) }()

	l := r.logger.With(slog.String("method", "CreateUser"))

	query := `
        INSERT INTO users (email, display_name, role, phone, password_hash, is_active)
        VALUES ($1, $2, $3::user_role, $4, $5, TRUE)
        RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRow(ctx, query,
		params.Email, params.DisplayName, string(params.Role), params.Phone, params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			l.WarnContext(ctx, "Attempted to register duplicate email")
			return nil, fmt.Errorf("create user: %w", types.ErrAlreadyExists)
		}
		l.ErrorContext(ctx, "Failed to insert user", slog.Any("error", err))
		return nil, fmt.Errorf("create user: db insert failed: %w", err)
	}

	span.SetAttributes(attribute.String("db.user.id", user.ID.String()))
	l.InfoContext(ctx, "User created", slog.String("userID", user.ID.String()))
	return user, nil
}

func (r *PostgresAuthRepo) GetUserByEmail(ctx context.Context, email string) (_ *types.User, err error) {
	ctx, span := r.startSpan(ctx, "GetUserByEmail", "SELECT", "users")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "SELECT", "users", start, ignoreNotFound(err)) }()

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user with email: %w", types.ErrNotFound)
		}
		return nil, fmt.Errorf("get user by email: query failed: %w", err)
	}
	return user, nil
}

func (r *PostgresAuthRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (_ *types.User, err error) {
	ctx, span := r.startSpan(ctx, "GetUserByID", "SELECT", "users")
	defer span.End()
	span.SetAttributes(attribute.String("db.user.id", userID.String()))
	start := time.Now()
	defer func() { r.finish(ctx, span, "SELECT", "users", start, ignoreNotFound(err)) }()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, types.ErrNotFound)
		}
		return nil, fmt.Errorf("get user by id: query failed: %w", err)
	}
	return user, nil
}

func (r *PostgresAuthRepo) UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) (err error) {
	ctx, span := r.startSpan(ctx, "UpdateLastLogin", "UPDATE", "users")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "UPDATE", "users", start, err) }()

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET last_login_at = $1, updated_at = $1 WHERE id = $2`,
		at, userID)
	if err != nil {
		return fmt.Errorf("update last login: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update last login: %w", types.ErrNotFound)
	}
	return nil
}

func (r *PostgresAuthRepo) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, changedAt time.Time) (err error) {
	ctx, span := r.startSpan(ctx, "UpdatePassword", "UPDATE", "users")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "UPDATE", "users", start, err) }()

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $1, password_changed_at = $2, updated_at = $2 WHERE id = $3`,
		passwordHash, changedAt, userID)
	if err != nil {
		return fmt.Errorf("update password: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update password: %w", types.ErrNotFound)
	}
	return nil
}

func (r *PostgresAuthRepo) SetActive(ctx context.Context, userID uuid.UUID, active bool) (err error) {
	ctx, span := r.startSpan(ctx, "SetActive", "UPDATE", "users")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "UPDATE", "users", start, err) }()

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2`,
		active, userID)
	if err != nil {
		return fmt.Errorf("set active: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set active: %w", types.ErrNotFound)
	}
	return nil
}

func (r *PostgresAuthRepo) StoreRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) (err error) {
	ctx, span := r.startSpan(ctx, "StoreRefreshToken", "INSERT", "refresh_tokens")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "INSERT", "refresh_tokens", start, err) }()

	_, err = r.db.Exec(ctx,
		`INSERT INTO refresh_tokens (user_id, token, expires_at)
         VALUES ($1, $2, $3)`,
		userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("store refresh token: db insert failed: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepo) GetRefreshToken(ctx context.Context, token string) (_ *types.RefreshToken, err error) {
	ctx, span := r.startSpan(ctx, "GetRefreshToken", "SELECT", "refresh_tokens")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "SELECT", "refresh_tokens", start, ignoreNotFound(err)) }()

	var rt types.RefreshToken
	err = r.db.QueryRow(ctx,
		`SELECT id, user_id, token, expires_at, is_revoked, created_at, updated_at
         FROM refresh_tokens
         WHERE token = $1`, token).Scan(
		&rt.ID, &rt.UserID, &rt.Token, &rt.ExpiresAt, &rt.IsRevoked, &rt.CreatedAt, &rt.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("refresh token: %w", types.ErrNotFound)
		}
		return nil, fmt.Errorf("get refresh token: query failed: %w", err)
	}
	return &rt, nil
}

func (r *PostgresAuthRepo) RotateRefreshToken(ctx context.Context, oldToken, newToken string, newExpiresAt, now time.Time) (err error) {
	ctx, span := r.startSpan(ctx, "RotateRefreshToken", "UPDATE", "refresh_tokens")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "UPDATE", "refresh_tokens", start, err) }()

	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET token = $1, expires_at = $2, updated_at = $3
         WHERE token = $4 AND is_revoked = FALSE AND expires_at > $3`,
		newToken, newExpiresAt, now, oldToken)
	if err != nil {
		return fmt.Errorf("rotate refresh token: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Refresh token rotation lost race or token no longer live")
		return fmt.Errorf("rotate refresh token: %w", types.ErrExpiredOrRevoked)
	}
	return nil
}

func (r *PostgresAuthRepo) RevokeRefreshToken(ctx context.Context, token string) (_ bool, err error) {
	ctx, span := r.startSpan(ctx, "RevokeRefreshToken", "UPDATE", "refresh_tokens")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "UPDATE", "refresh_tokens", start, err) }()

	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE, updated_at = NOW()
         WHERE token = $1 AND is_revoked = FALSE`,
		token)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: db update failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresAuthRepo) RevokeAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) (_ int64, err error) {
	ctx, span := r.startSpan(ctx, "RevokeAllUserRefreshTokens", "UPDATE", "refresh_tokens")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "UPDATE", "refresh_tokens", start, err) }()

	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE, updated_at = NOW()
		 WHERE user_id = $1 AND is_revoked = FALSE`,
		userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all tokens: db update failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresAuthRepo) CreatePasswordReset(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) (err error) {
	ctx, span := r.startSpan(ctx, "CreatePasswordReset", "INSERT", "password_resets")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "INSERT", "password_resets", start, err) }()

	_, err = r.db.Exec(ctx,
		`INSERT INTO password_resets (user_id, token, expires_at)
         VALUES ($1, $2, $3)`,
		userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: db insert failed: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepo) GetPasswordReset(ctx context.Context, token string) (_ *types.PasswordReset, err error) {
	ctx, span := r.startSpan(ctx, "GetPasswordReset", "SELECT", "password_resets")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "SELECT", "password_resets", start, ignoreNotFound(err)) }()

	var pr types.PasswordReset
	err = r.db.QueryRow(ctx,
		`SELECT id, user_id, token, expires_at, is_used, created_at
         FROM password_resets
         WHERE token = $1`, token).Scan(
		&pr.ID, &pr.UserID, &pr.Token, &pr.ExpiresAt, &pr.IsUsed, &pr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("password reset: %w", types.ErrNotFound)
		}
		return nil, fmt.Errorf("get password reset: query failed: %w", err)
	}
	return &pr, nil
}

func (r *PostgresAuthRepo) ApplyPasswordReset(ctx context.Context, resetID, userID uuid.UUID, passwordHash string, now time.Time) (err error) {
	ctx, span := r.startSpan(ctx, "ApplyPasswordReset", "UPDATE", "password_resets")
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, "UPDATE", "password_resets", start, err) }()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("apply password reset: failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE password_resets SET is_used = TRUE
         WHERE id = $1 AND user_id = $2 AND is_used = FALSE AND expires_at > $3`,
		resetID, userID, now)
	if err != nil {
		return fmt.Errorf("apply password reset: consume failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("apply password reset: %w", types.ErrExpiredOrInvalid)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE users SET password_hash = $1, password_changed_at = $2, updated_at = $2 WHERE id = $3`,
		passwordHash, now, userID)
	if err != nil {
		return fmt.Errorf("apply password reset: password update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("apply password reset: %w", types.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("apply password reset: failed to commit transaction: %w", err)
	}
	return nil
}

// ignoreNotFound keeps lookups of absent rows out of the error metrics.
func ignoreNotFound(err error) error {
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	return err
}
