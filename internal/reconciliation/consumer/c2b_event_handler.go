package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/salary-advance-lending/internal/logger"
	"github.com/salary-advance-lending/internal/platform/messaging/producers"
	"github.com/salary-advance-lending/internal/reconciliation/service"
)

// ConfirmationIngestor queues a pushed C2B confirmation for reconciliation
type ConfirmationIngestor interface {
	IngestConfirmation(ctx context.Context, event service.C2BEvent) (bool, error)
}

// C2BEventHandler handles C2B confirmation messages from Kafka
type C2BEventHandler struct {
	ingestor ConfirmationIngestor
	producer producers.DeadLetterPublisher
	logger   *slog.Logger
}

func NewC2BEventHandler(
	logger *slog.Logger,
	ingestor ConfirmationIngestor,
	producer producers.DeadLetterPublisher,
) *C2BEventHandler {
	return &C2BEventHandler{
		ingestor: ingestor,
		producer: producer,
		logger:   logger,
	}
}

// HandleMessage stores one confirmation. Messages that can never be stored go to the DLQ and are committed;
// storage failures are returned so the offset is not committed and Kafka redelivers.
func (h *C2BEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var event service.C2BEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return h.deadLetter(ctx, key, value, "Failed to unmarshal C2B confirmation from Kafka message", err)
	}

	ctx = logger.ContextWithCorrelationID(ctx, event.CorrelationID)
	log := logger.FromContext(ctx, h.logger)

	log.Info("Received C2B confirmation",
		"tenant_id", event.TenantID.String(),
		"trans_id", event.Confirmation.TransID,
		"amount", event.Confirmation.TransAmount,
	)

	if _, err := h.ingestor.IngestConfirmation(ctx, event); err != nil {
		if shared.KindOf(err) == shared.KindValidation {
			return h.deadLetter(ctx, key, value, "Rejected C2B confirmation", err)
		}
		log.Error("Failed to store C2B confirmation", "trans_id", event.Confirmation.TransID, "error", err)
		return fmt.Errorf("storing confirmation %s failed: %w", event.Confirmation.TransID, err)
	}
	return nil
}

func (h *C2BEventHandler) deadLetter(ctx context.Context, key, value []byte, reason string, cause error) error {
	h.logger.Error(reason, "error", cause, "message_key", string(key))

	if h.producer != nil {
		dlqReason := fmt.Sprintf("%s: %s", reason, cause.Error())
		if dlqErr := h.producer.PublishToDLQ(ctx, string(key), value, dlqReason); dlqErr != nil {
			h.logger.Error("Failed to publish message to DLQ",
				"dlq_error", dlqErr,
				"original_error", cause,
				"message_key", string(key),
			)
		} else {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", reason, cause)
}
