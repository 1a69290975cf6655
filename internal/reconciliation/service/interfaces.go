package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/audit"
)

// AuditRecorder writes an audit event inside the caller's transaction
type AuditRecorder interface {
	Record(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, loanID, actorID *uuid.UUID, details audit.Details) error
}

// NotificationDispatcher queues a best-effort SMS
type NotificationDispatcher interface {
	Notify(tenantID uuid.UUID, phone, message string)
}

// RecipientDirectory resolves who is told about repayments
type RecipientDirectory interface {
	BorrowerPhone(ctx context.Context, tenantID, userID uuid.UUID) string
	AdminPhones(ctx context.Context, tenantID uuid.UUID, organizationID int64) []string
}

// Clock returns the current time
type Clock func() time.Time
