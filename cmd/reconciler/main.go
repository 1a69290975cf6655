package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/salary-advance-lending/internal/config"
	"github.com/salary-advance-lending/internal/data/mongo"
	"github.com/salary-advance-lending/internal/data/postgres"
	"github.com/salary-advance-lending/internal/logger"
	"github.com/salary-advance-lending/internal/outbox_poller"
	"github.com/salary-advance-lending/internal/platform/messaging/consumers"
	"github.com/salary-advance-lending/internal/platform/messaging/producers"
	"github.com/salary-advance-lending/internal/platform/metrics"
	"github.com/salary-advance-lending/internal/platform/notification"
	"github.com/salary-advance-lending/internal/platform/persistence"
	"github.com/salary-advance-lending/internal/reconciliation/components"
	"github.com/salary-advance-lending/internal/reconciliation/consumer"
	"github.com/salary-advance-lending/internal/reconciliation/poller"
)

const metricsNamespace = "salary_advance"

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("reconciler")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Repayment Reconciler",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

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

	// Initialize repositories
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	auditRepo := mongo.NewAuditRepository(log, mongoDB.Database())
	if err := auditRepo.EnsureIndexes(appCtx); err != nil {
		log.Error("Failed to create audit trail indexes", "error", err)
		os.Exit(1)
	}

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

	m := metrics.New(metricsNamespace)

	reconciliationService := components.CreateReconciliationService(postgresDB, components.Repositories{
		Loans:        postgres.NewLoanRepository(log, postgresDB),
		Payouts:      postgres.NewPayoutRepository(log, postgresDB),
		Orgs:         postgres.NewOrganizationRepository(log, postgresDB),
		Employees:    postgres.NewEmployeeRepository(log, postgresDB),
		Users:        postgres.NewUserRepository(log, postgresDB),
		Tenants:      postgres.NewTenantRepository(log, postgresDB),
		Repayments:   postgres.NewRepaymentRepository(log, postgresDB),
		Transactions: postgres.NewTransactionRepository(log, postgresDB),
		Outbox:       outboxRepo,
	}, dispatcher, m, log, cfg)

	// Initialize Kafka consumer
	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka, cfg.Kafka.C2BTopic)

	// Initialize Kafka DLQ producer
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// Without a DLQ topic the producer only logs what it drops

	c2bEventHandler := consumer.NewC2BEventHandler(log, reconciliationService, dlqProducer)

	reconciliationPoller := poller.NewPoller(&cfg.Reconciliation, reconciliationService, log)

	// Initialize outbox poller
	auditPublisher := outbox_poller.NewAuditPublisher(outboxRepo, auditRepo, log)
	outboxPoller := outbox_poller.NewPoller(&cfg.Outbox, outboxRepo, auditPublisher, log)

	// Scrape endpoint for the reconciliation counters
	gin.SetMode(gin.ReleaseMode)
	opsRouter := gin.New()
	opsRouter.GET("/metrics", gin.WrapH(m.Handler()))
	opsRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	opsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      opsRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	log.Info("Starting Kafka consumer",
		"topic", cfg.Kafka.C2BTopic,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := kafkaConsumer.Subscribe(appCtx, c2bEventHandler.HandleMessage); err != nil {
		log.Error("Failed to subscribe to C2B topic", "error", err)
		os.Exit(1)
	}

	// Start reconciliation poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Reconciliation Poller",
			"interval", cfg.Reconciliation.PollingInterval.String(),
			"batch_size", cfg.Reconciliation.BatchSize,
		)
		reconciliationPoller.Start(appCtx)
	}()

	// Start outbox poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Outbox Poller",
			"interval", cfg.Outbox.PollingInterval.String(),
			"batch_size", cfg.Outbox.BatchSize,
		)
		outboxPoller.Start(appCtx)
	}()

	go func() {
		log.Info("Starting ops HTTP server", "port", cfg.Server.Port)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("ops HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case <-kafkaConsumer.Done():
		serviceErr = errors.New("kafka consumer stopped unexpectedly")
		log.Error("Service error occurred", "error", serviceErr)
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	if err = opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping ops HTTP server", "error", err)
	}

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		<-kafkaConsumer.Done()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	dispatcher.Shutdown(cfg.Server.ShutdownTimeout)

	// Close DLQ Kafka producer
	if err = dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ Kafka producer", "error", err)
	}

	if err = smsProducer.Close(); err != nil {
		log.Error("Error closing SMS Kafka producer", "error", err)
	}

	// Close Kafka consumer
	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Repayment Reconciler shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Repayment Reconciler shutdown completed with errors")
	} else {
		log.Info("Repayment Reconciler shutdown completed successfully")
	}
}
