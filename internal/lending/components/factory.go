package components

import (
	"log/slog"
	"time"

	"github.com/salary-advance-lending/internal/config"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/fee"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/outbox"
	"github.com/salary-advance-lending/internal/lending/service"
	"github.com/salary-advance-lending/internal/platform/metrics"
	"github.com/salary-advance-lending/internal/platform/persistence"
)

// Repositories bundles the stores the lending services read and write
type Repositories struct {
	Loans     loan.Repository
	Payouts   loan.PayoutRepository
	Orgs      organization.Repository
	Employees organization.EmployeeRepository
	Users     organization.UserRepository
	Tenants   organization.TenantRepository
	Snapshots gateway.SnapshotRepository
	FeeBands  fee.Repository
	Outbox    outbox.Repository
	Audit     audit.Repository
}

// Services are the lending use cases exposed over HTTP
type Services struct {
	Lifecycle    *service.LifecycleService
	Disbursement *service.DisbursementService
	Callbacks    *service.CallbackService
	AuditTrail   *service.AuditTrailService
	Balance      *service.BalanceService
}

// PaymentGateway is the gateway client: B2C payouts plus account balance queries
type PaymentGateway interface {
	service.PaymentGateway
	service.BalanceQuerier
}

// CreateLendingServices wires the lending services with all their dependencies.
func CreateLendingServices(
	db persistence.TxRunner,
	repos Repositories,
	paymentGateway PaymentGateway,
	notifier service.NotificationDispatcher,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg *config.Config,
) *Services {
	auditRecorder := NewAuditRecorder(repos.Outbox, logger.With("component", "audit_recorder"))
	recipients := NewRecipientDirectory(repos.Users, logger.With("component", "recipients"))
	currency := cfg.Reconciliation.Currency

	disbursement := service.NewDisbursementService(logger.With("component", "disbursement"), service.DisbursementDependencies{
		DB:        db,
		Loans:     repos.Loans,
		Payouts:   repos.Payouts,
		Users:     repos.Users,
		Tenants:   repos.Tenants,
		Snapshots: repos.Snapshots,
		Gateway:   paymentGateway,
		Audit:     auditRecorder,
		Notifier:  notifier,
		Metrics:   m,
	}, currency)

	location, err := time.LoadLocation(cfg.Lending.DefaultTimezone)
	if err != nil {
		logger.Warn("Unknown default timezone, using UTC", "timezone", cfg.Lending.DefaultTimezone, "error", err)
		location = time.UTC
	}

	lifecycle := service.NewLifecycleService(logger.With("component", "lifecycle"), service.LifecycleDependencies{
		DB:         db,
		Loans:      repos.Loans,
		Payouts:    repos.Payouts,
		Orgs:       repos.Orgs,
		Employees:  repos.Employees,
		Users:      repos.Users,
		Tenants:    repos.Tenants,
		Fees:       fee.NewResolver(logger.With("component", "fee_resolver"), repos.FeeBands),
		Disburser:  disbursement,
		Audit:      auditRecorder,
		Notifier:   notifier,
		Recipients: recipients,
		Metrics:    m,
	}, service.Policy{
		Currency:            currency,
		DefaultDurationDays: cfg.Lending.DefaultDurationDays,
		MaxDurationDays:     cfg.Lending.MaxDurationDays,
		DefaultLocation:     location,
	})

	callbacks := service.NewCallbackService(logger.With("component", "callbacks"), service.CallbackDependencies{
		DB:         db,
		Loans:      repos.Loans,
		Payouts:    repos.Payouts,
		Snapshots:  repos.Snapshots,
		Audit:      auditRecorder,
		Notifier:   notifier,
		Recipients: recipients,
		Metrics:    m,
	}, currency)

	return &Services{
		Lifecycle:    lifecycle,
		Disbursement: disbursement,
		Callbacks:    callbacks,
		AuditTrail:   service.NewAuditTrailService(logger.With("component", "audit_trail"), repos.Loans, repos.Audit),
		Balance:      service.NewBalanceService(logger.With("component", "balance"), repos.Tenants, repos.Snapshots, balanceQuerier(paymentGateway)),
	}
}

// balanceQuerier keeps a nil gateway a nil interface so the balance service can report it as unconfigured
func balanceQuerier(g PaymentGateway) service.BalanceQuerier {
	if g == nil {
		return nil
	}
	return g
}
