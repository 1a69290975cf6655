package components

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/outbox"
	"github.com/salary-advance-lending/internal/lending/service"
	"github.com/salary-advance-lending/internal/logger"
)

// AuditRecorderImpl stages audit events in the outbox so they commit or roll back with the state change
type AuditRecorderImpl struct {
	outboxRepo outbox.Repository
	now        func() time.Time
	logger     *slog.Logger
}

func NewAuditRecorder(outboxRepo outbox.Repository, log *slog.Logger) service.AuditRecorder {
	return &AuditRecorderImpl{
		outboxRepo: outboxRepo,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     log,
	}
}

func (r *AuditRecorderImpl) Record(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, loanID, actorID *uuid.UUID, details audit.Details) error {
	correlationID := logger.CorrelationIDFromContext(ctx)
	log := logger.WithCorrelation(r.logger, correlationID)

	event, err := audit.NewEvent(tenantID, loanID, actorID, details, correlationID, r.now())
	if err != nil {
		log.Error("Failed to build audit event", "kind", string(details.Kind()), "error", err)
		return err
	}

	message, err := outbox.NewMessage(event)
	if err != nil {
		log.Error("Failed to create outbox message (marshal payload)", "event_id", event.ID.String(), "error", err)
		return fmt.Errorf("failed to create outbox message payload for event %s: %w", event.ID.String(), err)
	}

	if err := r.outboxRepo.WithTx(tx).Create(ctx, message); err != nil {
		log.Error("Failed to create outbox message",
			"event_id", event.ID.String(),
			"kind", string(event.Kind),
			"error", err,
		)
		return fmt.Errorf("failed to create outbox message for event %s: %w", event.ID.String(), err)
	}

	log.Debug("Audit event staged", "event_id", event.ID.String(), "kind", string(event.Kind), "outbox_id", message.ID)
	return nil
}
