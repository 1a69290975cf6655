package handler

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/salary-advance-lending/internal/api_gateway/service"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/domain/shared"
	reconciliation "github.com/salary-advance-lending/internal/reconciliation/service"
	"github.com/shopspring/decimal"
)

// RepaymentHandler handles bulk organization payments and on-demand reconciliation
type RepaymentHandler struct {
	repaymentService service.RepaymentService
	logger           *slog.Logger
}

// NewRepaymentHandler creates a new repayment handler
func NewRepaymentHandler(logger *slog.Logger, repaymentService service.RepaymentService) *RepaymentHandler {
	return &RepaymentHandler{
		repaymentService: repaymentService,
		logger:           logger,
	}
}

// RecordOrganizationPayment allocates an employer's payment across its employees' open loans
func (h *RepaymentHandler) RecordOrganizationPayment(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	orgID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orgID <= 0 {
		RespondBadRequest(c, "Invalid organization ID")
		return
	}

	var req OrganizationPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		RespondBadRequest(c, "Invalid amount")
		return
	}

	payment := reconciliation.OrganizationPaymentRequest{
		OrganizationID: orgID,
		Amount:         amount,
		Method:         shared.PaymentMethod(strings.ToUpper(req.Method)),
		Reference:      req.Reference,
		Remarks:        req.Remarks,
	}
	if req.ReceivedAt != nil {
		payment.ReceivedAt = req.ReceivedAt.UTC()
	}

	result, err := h.repaymentService.RecordOrganizationPayment(c.Request.Context(), caller, payment)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	h.logger.Info("Organization payment recorded",
		"organization_id", orgID,
		"batch_id", result.Batch.ID.String(),
		"allocated", result.Plan.Allocated.String(),
		"surplus", result.Plan.Remaining.String(),
	)
	RespondCreated(c, mapAllocationToResponse(result))
}

// RunReconciliation reconciles the pending C2B queue now instead of waiting for the next poll
func (h *RepaymentHandler) RunReconciliation(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	if err := auth.Authorize(caller, auth.RequireAnyRole(shared.RoleAdmin)); err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	summary, err := h.repaymentService.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Error("Reconciliation run failed", "error", err, "summary", summary)
		RespondInternalError(c)
		return
	}
	RespondOK(c, summary)
}
