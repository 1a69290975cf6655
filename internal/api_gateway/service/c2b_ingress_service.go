package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/salary-advance-lending/internal/logger"
	"github.com/salary-advance-lending/internal/platform/messaging/producers"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	reconciliation "github.com/salary-advance-lending/internal/reconciliation/service"
)

// C2BIngressServiceImpl implements the C2BIngressService interface
type C2BIngressServiceImpl struct {
	producer producers.MessagePublisher
	fallback ConfirmationIngestor
	logger   *slog.Logger
	now      func() time.Time
}

// NewC2BIngressService publishes confirmations to Kafka. When the broker is unavailable the confirmation
// is written straight to the queue through fallback, which may be nil.
func NewC2BIngressService(logger *slog.Logger, producer producers.MessagePublisher, fallback ConfirmationIngestor) C2BIngressService {
	return &C2BIngressServiceImpl{
		producer: producer,
		fallback: fallback,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *C2BIngressServiceImpl) Forward(ctx context.Context, tenantID uuid.UUID, confirmation mpesa.C2BConfirmation) error {
	log := logger.FromContext(ctx, s.logger)

	if strings.TrimSpace(confirmation.TransID) == "" {
		return shared.NewValidationError("confirmation has no transaction id")
	}

	event := reconciliation.C2BEvent{
		TenantID:      tenantID,
		CorrelationID: logger.CorrelationIDFromContext(ctx),
		Confirmation:  confirmation,
		ReceivedAt:    s.now(),
	}

	key := tenantID.String() + ":" + confirmation.TransID
	err := s.producer.Publish(ctx, key, event)
	if err == nil {
		log.Info("C2B confirmation published",
			"tenant_id", tenantID.String(),
			"trans_id", confirmation.TransID,
			"amount", confirmation.TransAmount,
		)
		return nil
	}

	log.Error("Failed to publish C2B confirmation", "trans_id", confirmation.TransID, "error", err)
	if s.fallback == nil {
		return fmt.Errorf("failed to publish C2B confirmation %s: %w", confirmation.TransID, err)
	}

	inserted, ingestErr := s.fallback.IngestConfirmation(ctx, event)
	if ingestErr != nil {
		return fmt.Errorf("failed to queue C2B confirmation %s: %w", confirmation.TransID, ingestErr)
	}
	log.Warn("C2B confirmation stored directly after publish failure",
		"trans_id", confirmation.TransID,
		"inserted", inserted,
	)
	return nil
}
