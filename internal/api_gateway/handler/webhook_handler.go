package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/api_gateway/service"
	lending "github.com/salary-advance-lending/internal/lending/service"
	"github.com/salary-advance-lending/internal/logger"
	"github.com/salary-advance-lending/internal/platform/mpesa"
)

// WebhookHandler receives M-Pesa callbacks. Every callback is acknowledged with ResultCode 0 so the
// gateway stops retrying; failures are logged and recovered through reconciliation or manual retry.
type WebhookHandler struct {
	callbackService service.CallbackService
	c2bService      service.C2BIngressService
	logger          *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(logger *slog.Logger, callbackService service.CallbackService, c2bService service.C2BIngressService) *WebhookHandler {
	return &WebhookHandler{
		callbackService: callbackService,
		c2bService:      c2bService,
		logger:          logger,
	}
}

// B2CResult handles the final result of a disbursement
func (h *WebhookHandler) B2CResult(c *gin.Context) {
	h.handleResult(c, "b2c_result", h.callbackService.HandleResult)
}

// B2CTimeout handles a disbursement that timed out in the gateway queue
func (h *WebhookHandler) B2CTimeout(c *gin.Context) {
	h.handleResult(c, "b2c_timeout", h.callbackService.HandleTimeout)
}

// BalanceResult stores the account balance reported by the gateway
func (h *WebhookHandler) BalanceResult(c *gin.Context) {
	h.handleResult(c, "balance_result", h.callbackService.HandleBalance)
}

// BalanceTimeout only records that a balance query expired; the previous snapshot stays current
func (h *WebhookHandler) BalanceTimeout(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), h.logger)
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var envelope mpesa.ResultEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		log.Warn("Malformed balance timeout callback", "tenant_id", tenantID.String(), "error", err)
	} else {
		log.Warn("Account balance query timed out",
			"tenant_id", tenantID.String(),
			"conversation_id", envelope.Result.ConversationID,
			"result_desc", envelope.Result.ResultDesc,
		)
	}
	c.JSON(http.StatusOK, mpesa.Accepted())
}

// C2BValidation accepts every incoming customer payment; attribution happens at reconciliation
func (h *WebhookHandler) C2BValidation(c *gin.Context) {
	c.JSON(http.StatusOK, mpesa.Accepted())
}

// C2BConfirmation queues a customer payment for reconciliation
func (h *WebhookHandler) C2BConfirmation(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), h.logger)
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var confirmation mpesa.C2BConfirmation
	if err := c.ShouldBindJSON(&confirmation); err != nil {
		log.Error("Malformed C2B confirmation", "tenant_id", tenantID.String(), "error", err)
		c.JSON(http.StatusOK, mpesa.Accepted())
		return
	}

	if err := h.c2bService.Forward(c.Request.Context(), tenantID, confirmation); err != nil {
		log.Error("Failed to queue C2B confirmation",
			"tenant_id", tenantID.String(),
			"trans_id", confirmation.TransID,
			"error", err,
		)
	}
	c.JSON(http.StatusOK, mpesa.Accepted())
}

type callbackFunc func(ctx context.Context, tenantID uuid.UUID, result mpesa.Result) (lending.CallbackOutcome, error)

func (h *WebhookHandler) handleResult(c *gin.Context, kind string, handle callbackFunc) {
	log := logger.FromContext(c.Request.Context(), h.logger).With("callback", kind)
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var envelope mpesa.ResultEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		log.Error("Malformed gateway callback", "tenant_id", tenantID.String(), "error", err)
		c.JSON(http.StatusOK, mpesa.Accepted())
		return
	}

	outcome, err := handle(c.Request.Context(), tenantID, envelope.Result)
	if err != nil {
		log.Error("Failed to apply gateway callback",
			"tenant_id", tenantID.String(),
			"originator_conversation_id", envelope.Result.OriginatorConversationID,
			"error", err,
		)
	} else {
		log.Info("Gateway callback handled", "tenant_id", tenantID.String(), "outcome", string(outcome))
	}

	if outcome == lending.CallbackAlreadyProcessed {
		c.JSON(http.StatusOK, mpesa.AlreadyProcessed())
		return
	}
	c.JSON(http.StatusOK, mpesa.Accepted())
}

// tenantID reads the tenant from the callback path. An unusable id is still acknowledged.
func (h *WebhookHandler) tenantID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		h.logger.Warn("Callback with invalid tenant id", "tenant_id", c.Param("tenant_id"), "path", c.FullPath())
		c.JSON(http.StatusOK, mpesa.Accepted())
		return uuid.Nil, false
	}
	return id, true
}
