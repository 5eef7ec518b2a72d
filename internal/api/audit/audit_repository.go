package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/techephi-auth/internal/types"
)

var _ Sink = (*PostgresAuditRepo)(nil)

// Sink is an append-only audit log.
type Sink interface {
	Record(ctx context.Context, entry types.AuditLogEntry) error
}

// Execer is satisfied by *pgxpool.Pool and pgxmock pools.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type PostgresAuditRepo struct {
	logger *slog.Logger
	db     Execer
}

func NewPostgresAuditRepo(db Execer, logger *slog.Logger) *PostgresAuditRepo {
	return &PostgresAuditRepo{
		logger: logger,
		db:     db,
	}
}

// Record inserts one entry. Entries are never updated or deleted.
func (r *PostgresAuditRepo) Record(ctx context.Context, entry types.AuditLogEntry) error {
	ctx, span := otel.Tracer("AuditRepo").Start(ctx, "Record", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "audit_logs"),
		attribute.String("audit.action", string(entry.Action)),
	))
	defer span.End()

	oldValues, err := marshalValues(entry.OldValues)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal old values failed")
		return err
	}
	newValues, err := marshalValues(entry.NewValues)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal new values failed")
		return err
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_logs (user_id, action, entity_type, entity_id, ip_address, user_agent, old_values, new_values)
         VALUES ($1, $2::audit_action, $3, $4, $5, $6, $7, $8)`,
		entry.UserID, string(entry.Action), entry.EntityType, entry.EntityID,
		entry.IPAddress, entry.UserAgent, oldValues, newValues)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return fmt.Errorf("record audit entry: db insert failed: %w", err)
	}

	span.SetStatus(codes.Ok, "Audit entry recorded")
	return nil
}

// marshalValues returns nil for empty maps so the column stays NULL.
func marshalValues(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	return b, nil
}
