package container

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/FACorreiaa/techephi-auth/app/db"
	"github.com/FACorreiaa/techephi-auth/app/observability/metrics"
	"github.com/FACorreiaa/techephi-auth/config"
	"github.com/FACorreiaa/techephi-auth/internal/api/audit"
	"github.com/FACorreiaa/techephi-auth/internal/api/auth"
	"github.com/FACorreiaa/techephi-auth/internal/notify"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	AuthService auth.AuthService
	AuthHandler *auth.HandlerImpl
}

// NewContainer opens the database pool and wires repositories, services and handlers.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.AppMetrics) (*Container, error) {
	dbConfig, err := database.NewDatabaseConfig(cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		return nil, err
	}

	pool, err := database.Init(ctx, dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		return nil, err
	}

	c := Wire(pool, cfg, logger, m)
	c.Pool = pool
	return c, nil
}

// Wire builds the object graph on top of an existing connection. Tests pass a pgxmock pool.
func Wire(db auth.DBTX, cfg *config.Config, logger *slog.Logger, m *metrics.AppMetrics) *Container {
	authRepo := auth.NewPostgresAuthRepo(db, logger, m)
	auditRepo := audit.NewPostgresAuditRepo(db, logger)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notifier.AMQP.URL != "" {
		notifier = notify.NewAMQPNotifier(cfg.Notifier.AMQP.URL, cfg.Notifier.AMQP.Queue, logger)
	}

	authService := auth.NewAuthService(authRepo, authRepo, auditRepo, notifier, cfg, logger, m)
	authHandler := auth.NewAuthHandlerImpl(authService, cfg, logger)

	return &Container{
		Config:      cfg,
		Logger:      logger,
		AuthService: authService,
		AuthHandler: authHandler,
	}
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// WaitForDB waits for the database to be ready
func (c *Container) WaitForDB(ctx context.Context) bool {
	return database.WaitForDB(ctx, c.Pool, c.Logger)
}
