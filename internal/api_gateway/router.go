package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/salary-advance-lending/internal/api_gateway/handler"
	"github.com/salary-advance-lending/internal/api_gateway/middleware"
	"github.com/salary-advance-lending/internal/platform/metrics"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	validator middleware.TokenValidator,
	m *metrics.Metrics,
	loanHandler *handler.LoanHandler,
	repaymentHandler *handler.RepaymentHandler,
	webhookHandler *handler.WebhookHandler,
	balanceHandler *handler.BalanceHandler,
) {
	r.Use(middleware.Recovery(logger, m))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(m))

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Gateway callbacks carry no bearer token; the tenant comes from the registered URL
		webhooks := v1.Group("/webhooks/mpesa/:tenant_id")
		{
			webhooks.POST("/b2c/result", webhookHandler.B2CResult)
			webhooks.POST("/b2c/timeout", webhookHandler.B2CTimeout)
			webhooks.POST("/balance/result", webhookHandler.BalanceResult)
			webhooks.POST("/balance/timeout", webhookHandler.BalanceTimeout)
			webhooks.POST("/c2b/validation", webhookHandler.C2BValidation)
			webhooks.POST("/c2b/confirmation", webhookHandler.C2BConfirmation)
		}

		secured := v1.Group("")
		secured.Use(middleware.Authenticate(validator, logger))

		// Loan operations
		loans := secured.Group("/loans")
		{
			loans.POST("", loanHandler.Apply)
			loans.GET("", loanHandler.List)
			loans.GET("/:id", loanHandler.GetByID)
			loans.GET("/:id/events", loanHandler.Events)
			loans.POST("/:id/approve", loanHandler.Approve)
			loans.POST("/:id/reject", loanHandler.Reject)
			loans.POST("/:id/disburse", loanHandler.Disburse)
		}

		// Repayments made outside the C2B queue
		secured.POST("/organizations/:id/payments", repaymentHandler.RecordOrganizationPayment)
		secured.POST("/reconciliation/run", repaymentHandler.RunReconciliation)

		// Gateway account balance used by the disbursement pre-flight
		secured.GET("/gateway/balance", balanceHandler.Latest)
		secured.POST("/gateway/balance/refresh", balanceHandler.Refresh)
	}

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
