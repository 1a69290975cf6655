package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/fee"
	"github.com/salary-advance-lending/internal/platform/persistence"
)

// FeeBandRepository reads tenant fee bands from PostgreSQL
type FeeBandRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewFeeBandRepository(logger *slog.Logger, db *persistence.PostgresDB) fee.Repository {
	return &FeeBandRepository{querier: db.Pool(), logger: logger}
}

func (r *FeeBandRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]fee.Band, error) {
	query := `
		SELECT id, tenant_id, min_amount, max_amount, cost
		FROM transaction_fee_bands
		WHERE tenant_id = $1
		ORDER BY min_amount ASC
	`

	rows, err := r.querier.Query(ctx, query, tenantID)
	if err != nil {
		r.logger.Error("Failed to list fee bands", "tenant_id", tenantID.String(), "error", err)
		return nil, fmt.Errorf("failed to list fee bands: %w", err)
	}
	defer rows.Close()

	var bands []fee.Band
	for rows.Next() {
		var b fee.Band
		if err := rows.Scan(&b.ID, &b.TenantID, &b.Min, &b.Max, &b.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan fee band: %w", err)
		}
		bands = append(bands, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over fee bands: %w", err)
	}

	return bands, nil
}
