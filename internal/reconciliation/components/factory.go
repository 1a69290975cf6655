package components

import (
	"log/slog"
	"time"

	"github.com/salary-advance-lending/internal/config"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/outbox"
	"github.com/salary-advance-lending/internal/domain/repayment"
	lending "github.com/salary-advance-lending/internal/lending/components"
	"github.com/salary-advance-lending/internal/platform/metrics"
	"github.com/salary-advance-lending/internal/platform/persistence"
	"github.com/salary-advance-lending/internal/reconciliation/service"
)

// Repositories bundles the stores reconciliation reads and writes
type Repositories struct {
	Loans        loan.Repository
	Payouts      loan.PayoutRepository
	Orgs         organization.Repository
	Employees    organization.EmployeeRepository
	Users        organization.UserRepository
	Tenants      organization.TenantRepository
	Repayments   repayment.Repository
	Transactions repayment.TransactionRepository
	Outbox       outbox.Repository
}

// CreateReconciliationService wires the reconciliation engine. It shares the audit outbox and the recipient
// lookup with the lending services.
func CreateReconciliationService(
	db persistence.TxRunner,
	repos Repositories,
	notifier service.NotificationDispatcher,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg *config.Config,
) *service.ReconciliationService {
	location, err := time.LoadLocation(cfg.Lending.DefaultTimezone)
	if err != nil {
		logger.Warn("Unknown default timezone, using UTC", "timezone", cfg.Lending.DefaultTimezone, "error", err)
		location = time.UTC
	}

	allocator := service.NewAllocator(repos.Loans, repos.Payouts, repos.Repayments, repos.Orgs)

	reconciliation := service.NewReconciliationService(logger.With("component", "reconciliation"), service.Dependencies{
		DB:           db,
		Transactions: repos.Transactions,
		Orgs:         repos.Orgs,
		Employees:    repos.Employees,
		Users:        repos.Users,
		Tenants:      repos.Tenants,
		Allocator:    allocator,
		Audit:        lending.NewAuditRecorder(repos.Outbox, logger.With("component", "audit_recorder")),
		Notifier:     notifier,
		Recipients:   lending.NewRecipientDirectory(repos.Users, logger.With("component", "recipients")),
		Metrics:      m,
	}, service.Settings{
		BatchSize:       cfg.Reconciliation.BatchSize,
		Currency:        cfg.Reconciliation.Currency,
		DefaultLocation: location,
	})

	logger.Info("Created reconciliation service", "batch_size", cfg.Reconciliation.BatchSize)
	return reconciliation
}
