package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/salary-advance-lending/internal/config"
	"github.com/salary-advance-lending/internal/reconciliation/service"
)

// Runner performs one reconciliation pass
type Runner interface {
	RunOnce(ctx context.Context) (service.RunSummary, error)
}

// Poller runs reconciliation on a fixed interval. Runs never overlap.
type Poller struct {
	runner       Runner
	logger       *slog.Logger
	pollInterval time.Duration
	mu           sync.Mutex
}

func NewPoller(cfg *config.ReconciliationConfig, runner Runner, logger *slog.Logger) *Poller {
	return &Poller{
		runner:       runner,
		logger:       logger,
		pollInterval: cfg.PollingInterval,
	}
}

// Start runs once immediately, then on every tick until ctx is canceled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting reconciliation poller", "poll_interval", p.pollInterval.String())
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.Trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Reconciliation poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			p.Trigger(ctx)
		}
	}
}

// Trigger runs one pass now, waiting for any pass already in progress
func (p *Poller) Trigger(ctx context.Context) service.RunSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	summary, err := p.runner.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.Error("Reconciliation run failed", "error", err)
	}
	return summary
}
