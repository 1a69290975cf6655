package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/salary-advance-lending/internal/platform/mpesa"
)

// BalanceService lets tenant admins refresh and read the gateway balance the pre-flight check relies on
type BalanceService struct {
	tenants   organization.TenantRepository
	snapshots gateway.SnapshotRepository
	querier   BalanceQuerier
	logger    *slog.Logger
}

func NewBalanceService(log *slog.Logger, tenants organization.TenantRepository, snapshots gateway.SnapshotRepository, querier BalanceQuerier) *BalanceService {
	return &BalanceService{
		tenants:   tenants,
		snapshots: snapshots,
		querier:   querier,
		logger:    log,
	}
}

// RequestRefresh submits an account balance query. The snapshot is written when the result callback arrives.
func (s *BalanceService) RequestRefresh(ctx context.Context, caller auth.Caller) (*mpesa.BalanceQuery, error) {
	if err := auth.Authorize(caller, auth.RequireAnyRole(shared.RoleAdmin)); err != nil {
		return nil, err
	}
	if s.querier == nil {
		return nil, shared.NewConflictError("payment gateway is not configured")
	}

	t, err := s.tenants.GetByID(ctx, caller.TenantID)
	if err != nil {
		return nil, classify(err)
	}
	if !t.HasGatewayCredentials() {
		return nil, shared.NewConflictError("tenant has no payment gateway credentials")
	}

	query, err := s.querier.QueryAccountBalance(ctx, t.ID, tenantCredentials(t))
	if err != nil {
		s.logger.Error("Balance query rejected by gateway", "tenant_id", t.ID.String(), "error", err)
		return nil, fmt.Errorf("failed to query account balance: %w", err)
	}

	s.logger.Info("Balance query submitted",
		"tenant_id", t.ID.String(),
		"conversation_id", query.ConversationID,
	)
	return query, nil
}

// Latest returns the newest balance snapshot of the caller's tenant
func (s *BalanceService) Latest(ctx context.Context, caller auth.Caller) (*gateway.BalanceSnapshot, error) {
	if err := auth.Authorize(caller, auth.RequireAnyRole(shared.RoleAdmin)); err != nil {
		return nil, err
	}

	snapshot, err := s.snapshots.Latest(ctx, caller.TenantID)
	if err != nil {
		if errors.Is(err, gateway.ErrNoSnapshot{}) {
			return nil, shared.Wrap(shared.KindNotFound, err, "no balance has been reported yet")
		}
		return nil, err
	}
	return snapshot, nil
}
