package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/api_gateway/middleware"
	"github.com/salary-advance-lending/internal/api_gateway/service"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/domain/loan"
	lending "github.com/salary-advance-lending/internal/lending/service"
	"github.com/shopspring/decimal"
)

// LoanHandler handles HTTP requests for loan operations
type LoanHandler struct {
	loanService         service.LoanService
	disbursementService service.DisbursementService
	auditTrailService   service.AuditTrailService
	logger              *slog.Logger
}

// NewLoanHandler creates a new loan handler
func NewLoanHandler(
	logger *slog.Logger,
	loanService service.LoanService,
	disbursementService service.DisbursementService,
	auditTrailService service.AuditTrailService,
) *LoanHandler {
	return &LoanHandler{
		loanService:         loanService,
		disbursementService: disbursementService,
		auditTrailService:   auditTrailService,
		logger:              logger,
	}
}

// Apply handles a salary advance application by the calling employee
func (h *LoanHandler) Apply(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req ApplyLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		RespondBadRequest(c, "Invalid amount")
		return
	}

	result, err := h.loanService.Apply(c.Request.Context(), caller, lending.ApplyRequest{
		Amount:       amount,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	RespondCreated(c, ApplyLoanResponse{
		Loan:         mapLoanToResponse(result.Loan),
		MonthlyCap:   money(result.MonthlyCap),
		TakenSoFar:   money(result.TakenSoFar),
		Disbursement: mapDisbursementToResponse(result.Disbursement),
	})
}

// Approve records one approval step. The final step returns the disbursement outcome as well.
func (h *LoanHandler) Approve(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	loanID, ok := h.loanID(c)
	if !ok {
		return
	}

	result, err := h.loanService.Approve(c.Request.Context(), caller, loanID)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	RespondOK(c, ApprovalResponse{
		Loan:         mapLoanToResponse(result.Loan),
		Final:        result.Final,
		Disbursement: mapDisbursementToResponse(result.Disbursement),
	})
}

// Reject closes a pending loan with a reason
func (h *LoanHandler) Reject(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	loanID, ok := h.loanID(c)
	if !ok {
		return
	}

	var req RejectLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	rejected, err := h.loanService.Reject(c.Request.Context(), caller, loanID, req.Reason)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapLoanToResponse(rejected))
}

// Disburse retries disbursement of an APPROVED loan.
// A gateway failure is reported in the body; the loan stays APPROVED.
func (h *LoanHandler) Disburse(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	loanID, ok := h.loanID(c)
	if !ok {
		return
	}

	outcome, err := h.disbursementService.DisburseApproved(c.Request.Context(), caller, loanID)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapDisbursementToResponse(outcome))
}

// GetByID returns a loan with its payout attempts
func (h *LoanHandler) GetByID(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	loanID, ok := h.loanID(c)
	if !ok {
		return
	}

	details, err := h.loanService.GetLoan(c.Request.Context(), caller, loanID)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	resp := LoanDetailsResponse{
		Loan:    mapLoanToResponse(details.Loan),
		Payouts: make([]PayoutResponse, 0, len(details.Payouts)),
	}
	for _, p := range details.Payouts {
		resp.Payouts = append(resp.Payouts, mapPayoutToResponse(p))
	}
	RespondOK(c, resp)
}

// List returns the loans visible to the caller, paginated
func (h *LoanHandler) List(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var params ListLoansParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	query := lending.ListQuery{
		OrganizationID: params.OrganizationID,
		Page:           params.Page,
		PerPage:        params.PerPage,
	}
	if params.Status != "" {
		status := loan.Status(params.Status)
		if !status.Valid() {
			RespondBadRequest(c, "Invalid status filter")
			return
		}
		query.Status = &status
	}

	loans, total, err := h.loanService.ListLoans(c.Request.Context(), caller, query)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	resp := LoanListResponse{Loans: make([]LoanResponse, 0, len(loans))}
	for _, l := range loans {
		resp.Loans = append(resp.Loans, mapLoanToResponse(l))
	}
	RespondWithPaginatedData(c, http.StatusOK, resp, params.Page, params.PerPage, int(total))
}

// Events returns the published audit trail of a loan
func (h *LoanHandler) Events(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	loanID, ok := h.loanID(c)
	if !ok {
		return
	}

	var params PaginationParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	events, total, err := h.auditTrailService.ListLoanEvents(c.Request.Context(), caller, loanID, params.Page, params.PerPage)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	resp := AuditEventListResponse{Events: make([]AuditEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, mapAuditEventToResponse(e))
	}
	RespondWithPaginatedData(c, http.StatusOK, resp, params.Page, params.PerPage, int(total))
}

func (h *LoanHandler) loanID(c *gin.Context) (uuid.UUID, bool) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Warn("Invalid loan ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid loan ID")
		return uuid.Nil, false
	}
	return id, true
}

// requireCaller fetches the caller placed by the Authenticate middleware
func requireCaller(c *gin.Context) (auth.Caller, bool) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		RespondUnauthorized(c, "")
		return auth.Caller{}, false
	}
	return caller, true
}
