package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/salary-advance-lending/internal/api_gateway"
	"github.com/salary-advance-lending/internal/api_gateway/service"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/config"
	"github.com/salary-advance-lending/internal/data/mongo"
	"github.com/salary-advance-lending/internal/data/postgres"
	lending "github.com/salary-advance-lending/internal/lending/components"
	"github.com/salary-advance-lending/internal/logger"
	"github.com/salary-advance-lending/internal/platform/messaging/producers"
	"github.com/salary-advance-lending/internal/platform/metrics"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	"github.com/salary-advance-lending/internal/platform/notification"
	"github.com/salary-advance-lending/internal/platform/persistence"
	reconciliation "github.com/salary-advance-lending/internal/reconciliation/components"
)

const metricsNamespace = "salary_advance"

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("lending_api")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Lending API",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	if err := persistence.RunMigrations(cfg.Postgres.URL, cfg.Postgres.MigrationsPath); err != nil {
		log.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Outbound SMS go through Kafka; the pool keeps sends off the request path
	smsProducer, err := producers.NewJSONProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.SMSTopic, true)
	if err != nil {
		log.Error("Failed to initialize SMS Kafka producer", "error", err)
		os.Exit(1)
	}
	dispatcher, err := notification.NewDispatcher(
		log.With("component", "notifications"),
		notification.NewKafkaNotifier(log, smsProducer),
		cfg.WorkerPool.Size,
	)
	if err != nil {
		log.Error("Failed to initialize notification dispatcher", "error", err)
		os.Exit(1)
	}

	// C2B confirmations are acknowledged only once Kafka has them
	c2bProducer, err := producers.NewJSONProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.C2BTopic, false)
	if err != nil {
		log.Error("Failed to initialize C2B Kafka producer", "error", err)
		os.Exit(1)
	}

	publicKey, err := mpesa.LoadPublicKey(cfg.Mpesa.CertificatePath)
	if err != nil {
		log.Error("Failed to load M-Pesa certificate", "path", cfg.Mpesa.CertificatePath, "error", err)
		os.Exit(1)
	}
	gatewayClient := mpesa.NewClient(log.With("component", "mpesa"), &cfg.Mpesa, publicKey)

	// Initialize repositories
	loanRepo := postgres.NewLoanRepository(log, postgresDB)
	payoutRepo := postgres.NewPayoutRepository(log, postgresDB)
	orgRepo := postgres.NewOrganizationRepository(log, postgresDB)
	employeeRepo := postgres.NewEmployeeRepository(log, postgresDB)
	userRepo := postgres.NewUserRepository(log, postgresDB)
	tenantRepo := postgres.NewTenantRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	auditRepo := mongo.NewAuditRepository(log, mongoDB.Database())

	m := metrics.New(metricsNamespace)

	// Initialize services
	lendingServices := lending.CreateLendingServices(postgresDB, lending.Repositories{
		Loans:     loanRepo,
		Payouts:   payoutRepo,
		Orgs:      orgRepo,
		Employees: employeeRepo,
		Users:     userRepo,
		Tenants:   tenantRepo,
		Snapshots: postgres.NewSnapshotRepository(log, postgresDB),
		FeeBands:  postgres.NewFeeBandRepository(log, postgresDB),
		Outbox:    outboxRepo,
		Audit:     auditRepo,
	}, gatewayClient, dispatcher, m, log, cfg)

	reconciliationService := reconciliation.CreateReconciliationService(postgresDB, reconciliation.Repositories{
		Loans:        loanRepo,
		Payouts:      payoutRepo,
		Orgs:         orgRepo,
		Employees:    employeeRepo,
		Users:        userRepo,
		Tenants:      tenantRepo,
		Repayments:   postgres.NewRepaymentRepository(log, postgresDB),
		Transactions: postgres.NewTransactionRepository(log, postgresDB),
		Outbox:       outboxRepo,
	}, dispatcher, m, log, cfg)

	c2bIngress := service.NewC2BIngressService(log, c2bProducer, reconciliationService)

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, api_gateway.Services{
		Loans:         lendingServices.Lifecycle,
		Disbursements: lendingServices.Disbursement,
		Callbacks:     lendingServices.Callbacks,
		AuditTrail:    lendingServices.AuditTrail,
		Repayments:    reconciliationService,
		C2BIngress:    c2bIngress,
		Balance:       lendingServices.Balance,
	}, auth.NewTokenValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), m)
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Stop accepting requests before the stores go away
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	// Let queued SMS drain into Kafka
	dispatcher.Shutdown(cfg.Server.ShutdownTimeout)

	if err = c2bProducer.Close(); err != nil {
		log.Error("Error closing C2B Kafka producer", "error", err)
	}
	if err = smsProducer.Close(); err != nil {
		log.Error("Error closing SMS Kafka producer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
