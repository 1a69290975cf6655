package outbox_poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/outbox"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/salary-advance-lending/internal/logger"
)

// AuditPublisher moves one outbox message into the audit trail
type AuditPublisher interface {
	PublishToAuditTrail(ctx context.Context, message *outbox.Message) error
}

// AuditPublisherImpl implements AuditPublisher
type AuditPublisherImpl struct {
	outboxRepo outbox.Repository
	auditRepo  audit.Repository
	logger     *slog.Logger
}

func NewAuditPublisher(
	outboxRepo outbox.Repository,
	auditRepo audit.Repository,
	logger *slog.Logger,
) AuditPublisher {
	return &AuditPublisherImpl{
		outboxRepo: outboxRepo,
		auditRepo:  auditRepo,
		logger:     logger,
	}
}

// PublishToAuditTrail writes the event and marks the message PROCESSED. An event already in the trail
// counts as published, so a crash between the two writes is repaired on the next poll.
func (p *AuditPublisherImpl) PublishToAuditTrail(ctx context.Context, message *outbox.Message) error {
	event, err := message.GetAuditEvent()
	if err != nil {
		p.logger.Error("Failed to unmarshal audit event from outbox payload",
			"outbox_id", message.ID, "event_id", message.EventID.String(), "error", err,
		)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Also failed to update outbox status to FAILED_TO_PUBLISH after unmarshal error", "outbox_id", message.ID, "update_error", updateErr)
		}
		return fmt.Errorf("unmarshal payload for outbox %d failed: %w", message.ID, err)
	}

	log := logger.WithCorrelation(p.logger, event.CorrelationID).With(
		"outbox_id", message.ID,
		"event_id", event.ID.String(),
		"kind", string(event.Kind),
	)

	if err := p.auditRepo.Create(ctx, event); err != nil {
		if !errors.Is(err, audit.ErrDuplicateEvent{}) {
			log.Error("Failed to write audit event", "error", err)
			return fmt.Errorf("failed to write audit event %s: %w", event.ID, err)
		}
		log.Info("Audit event already in the trail")
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		log.Error("Failed to update outbox message status to PROCESSED", "error", err)
		return fmt.Errorf("audit write for %s OK, but failed to mark outbox %d as PROCESSED: %w", event.ID, message.ID, err)
	}

	log.Debug("Audit event published")
	return nil
}
