package fee

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Band charges Cost for amounts within [Min, Max]
type Band struct {
	ID       int64           `json:"id"`
	TenantID uuid.UUID       `json:"tenant_id"`
	Min      decimal.Decimal `json:"min_amount"`
	Max      decimal.Decimal `json:"max_amount"`
	Cost     decimal.Decimal `json:"cost"`
}

// Contains reports whether amount falls within the band, bounds inclusive.
func (b Band) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(b.Min) && amount.LessThanOrEqual(b.Max)
}

// MatchBand returns the cost of the band containing amount, or zero when none does.
// Bands are assumed not to overlap.
func MatchBand(bands []Band, amount decimal.Decimal) decimal.Decimal {
	for _, b := range bands {
		if b.Contains(amount) {
			return b.Cost
		}
	}
	return decimal.Zero
}

// Repository reads the tenant's configured fee bands
type Repository interface {
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Band, error)
}

// Resolver looks up the transaction fee for a loan amount
type Resolver struct {
	repo   Repository
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger, repo Repository) *Resolver {
	return &Resolver{
		repo:   repo,
		logger: logger,
	}
}

func (r *Resolver) ResolveFee(ctx context.Context, amount decimal.Decimal, tenantID uuid.UUID) (decimal.Decimal, error) {
	bands, err := r.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load fee bands: %w", err)
	}

	cost := MatchBand(bands, amount)
	if cost.IsZero() && len(bands) > 0 {
		r.logger.DebugContext(ctx, "No fee band matched amount",
			"tenant_id", tenantID,
			"amount", amount.String())
	}
	return cost, nil
}
