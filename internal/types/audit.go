package types

import (
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditUserRegistered         AuditAction = "USER_REGISTERED"
	AuditLoginSuccess           AuditAction = "LOGIN_SUCCESS"
	AuditLoginFailed            AuditAction = "LOGIN_FAILED"
	AuditPasswordChanged        AuditAction = "PASSWORD_CHANGED"
	AuditPasswordReset          AuditAction = "PASSWORD_RESET"
	AuditPasswordResetRequested AuditAction = "PASSWORD_RESET_REQUESTED"
	AuditLogout                 AuditAction = "LOGOUT"
	AuditUserStatusChanged      AuditAction = "USER_STATUS_CHANGED"
)

const AuditEntityUser = "User"

// AuditLogEntry is an append-only record of a security relevant action.
type AuditLogEntry struct {
	ID         uuid.UUID      `json:"id"`
	UserID     *uuid.UUID     `json:"userId,omitempty"`
	Action     AuditAction    `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	IPAddress  string         `json:"ipAddress"`
	UserAgent  string         `json:"userAgent"`
	OldValues  map[string]any `json:"oldValues,omitempty"`
	NewValues  map[string]any `json:"newValues,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
