package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/salary-advance-lending/internal/api_gateway/service"
)

// BalanceHandler exposes the tenant's gateway balance to administrators
type BalanceHandler struct {
	balanceService service.GatewayBalanceService
	logger         *slog.Logger
}

// NewBalanceHandler creates a new balance handler
func NewBalanceHandler(logger *slog.Logger, balanceService service.GatewayBalanceService) *BalanceHandler {
	return &BalanceHandler{
		balanceService: balanceService,
		logger:         logger,
	}
}

// Refresh asks the gateway for a fresh balance. The figures land asynchronously.
func (h *BalanceHandler) Refresh(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	query, err := h.balanceService.RequestRefresh(c.Request.Context(), caller)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondAccepted(c, mapBalanceQueryToResponse(query))
}

// Latest returns the newest stored balance
func (h *BalanceHandler) Latest(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	snapshot, err := h.balanceService.Latest(c.Request.Context(), caller)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapSnapshotToResponse(snapshot))
}
