// Package notification delivers best-effort SMS to borrowers and administrators.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/platform/messaging/producers"
)

// Notifier sends one SMS. Callers treat failures as non-fatal.
type Notifier interface {
	Send(ctx context.Context, tenantID uuid.UUID, phone, message string) error
}

// SMSMessage is the record published for the SMS gateway to deliver
type SMSMessage struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	Phone       string    `json:"phone"`
	Message     string    `json:"message"`
	RequestedAt time.Time `json:"requested_at"`
}

// KafkaNotifier hands SMS to the delivery service through a topic
type KafkaNotifier struct {
	publisher producers.MessagePublisher
	logger    *slog.Logger
}

func NewKafkaNotifier(logger *slog.Logger, publisher producers.MessagePublisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, logger: logger}
}

func (n *KafkaNotifier) Send(ctx context.Context, tenantID uuid.UUID, phone, message string) error {
	if phone == "" {
		return fmt.Errorf("no phone number for sms")
	}

	msg := SMSMessage{
		TenantID:    tenantID,
		Phone:       phone,
		Message:     message,
		RequestedAt: time.Now().UTC(),
	}
	if err := n.publisher.Publish(ctx, phone, msg); err != nil {
		return fmt.Errorf("failed to queue sms: %w", err)
	}
	return nil
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, tenantID uuid.UUID, phone, message string) error

func (f NotifierFunc) Send(ctx context.Context, tenantID uuid.UUID, phone, message string) error {
	return f(ctx, tenantID, phone, message)
}
