package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

const defaultSendTimeout = 10 * time.Second

// Dispatcher sends notifications on a bounded worker pool so the caller never waits on or fails because of SMS
type Dispatcher struct {
	notifier    Notifier
	pool        *ants.Pool
	sendTimeout time.Duration
	logger      *slog.Logger
}

func NewDispatcher(logger *slog.Logger, notifier Notifier, size int) (*Dispatcher, error) {
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("Recovered from panic while sending notification", "panic", p)
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		notifier:    notifier,
		pool:        pool,
		sendTimeout: defaultSendTimeout,
		logger:      logger,
	}, nil
}

// Notify queues one SMS; a full pool drops the message with a warning
func (d *Dispatcher) Notify(tenantID uuid.UUID, phone, message string) {
	if phone == "" {
		d.logger.Warn("Skipping notification without phone number", "tenant_id", tenantID.String())
		return
	}

	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		defer cancel()

		if err := d.notifier.Send(ctx, tenantID, phone, message); err != nil {
			d.logger.Warn("Failed to send notification",
				"tenant_id", tenantID.String(),
				"phone", maskPhone(phone),
				"error", err,
			)
		}
	})
	if err != nil {
		d.logger.Warn("Dropped notification, worker pool unavailable",
			"tenant_id", tenantID.String(),
			"phone", maskPhone(phone),
			"error", err,
		)
	}
}

// Shutdown waits up to timeout for queued notifications to finish
func (d *Dispatcher) Shutdown(timeout time.Duration) {
	d.logger.Info("Shutting down notification dispatcher", "running_workers", d.pool.Running())
	if err := d.pool.ReleaseTimeout(timeout); err != nil {
		d.logger.Warn("Notification workers did not finish before timeout", "error", err)
	}
}

func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
