package api_gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/salary-advance-lending/internal/api_gateway/handler"
	"github.com/salary-advance-lending/internal/api_gateway/middleware"
	"github.com/salary-advance-lending/internal/api_gateway/service"
	"github.com/salary-advance-lending/internal/config"
	"github.com/salary-advance-lending/internal/platform/metrics"
)

// Services are the use cases the HTTP layer delegates to
type Services struct {
	Loans         service.LoanService
	Disbursements service.DisbursementService
	Callbacks     service.CallbackService
	AuditTrail    service.AuditTrailService
	Repayments    service.RepaymentService
	C2BIngress    service.C2BIngressService
	Balance       service.GatewayBalanceService
}

// Server handles HTTP requests and manages the application's lifecycle
type Server struct {
	logger     *slog.Logger // For structured logging
	httpServer *http.Server // Underlying HTTP server
	httpRouter *gin.Engine  // Gin router instance
}

// NewServer creates and configures a new HTTP server with the given services
func NewServer(log *slog.Logger, cfg *config.Config, services Services, validator middleware.TokenValidator, m *metrics.Metrics) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()

	loanHandler := handler.NewLoanHandler(log, services.Loans, services.Disbursements, services.AuditTrail)
	repaymentHandler := handler.NewRepaymentHandler(log, services.Repayments)
	webhookHandler := handler.NewWebhookHandler(log, services.Callbacks, services.C2BIngress)
	balanceHandler := handler.NewBalanceHandler(log, services.Balance)

	setupRouter(log, httpRouter, validator, m, loanHandler, repaymentHandler, webhookHandler, balanceHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		logger:     log,
		httpServer: httpServer,
		httpRouter: httpRouter,
	}
}

// Handler exposes the configured router
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server with a timeout
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")

	// Use server's write timeout for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, s.httpServer.WriteTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}
