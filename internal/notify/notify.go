// Package notify hands password reset requests to the external delivery pipeline.
// Rendering and sending the email happen downstream.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// PasswordResetEvent is the message published when a user asks for a password reset.
type PasswordResetEvent struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	ResetURL    string    `json:"reset_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	RequestedAt time.Time `json:"requested_at"`
}

type Notifier interface {
	PasswordResetRequested(ctx context.Context, event PasswordResetEvent) error
}

// LogNotifier is used when no broker is configured. It never logs the reset link,
// which is a bearer credential.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) PasswordResetRequested(ctx context.Context, event PasswordResetEvent) error {
	n.logger.InfoContext(ctx, "Password reset requested; no broker configured, dropping notification",
		slog.String("userID", event.UserID),
		slog.Time("expires_at", event.ExpiresAt),
	)
	return nil
}
