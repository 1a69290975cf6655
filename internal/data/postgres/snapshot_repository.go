package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/platform/persistence"
)

// SnapshotRepository stores gateway balance snapshots in PostgreSQL
type SnapshotRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewSnapshotRepository(logger *slog.Logger, db *persistence.PostgresDB) gateway.SnapshotRepository {
	return &SnapshotRepository{querier: db.Pool(), logger: logger}
}

func (r *SnapshotRepository) WithTx(tx pgx.Tx) gateway.SnapshotRepository {
	return &SnapshotRepository{querier: tx, logger: r.logger}
}

// Upsert keys on conversation id; snapshots without one are always inserted
func (r *SnapshotRepository) Upsert(ctx context.Context, s *gateway.BalanceSnapshot) error {
	query := `
		INSERT INTO balance_snapshots (tenant_id, conversation_id, working_available, utility_available, taken_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id)
		DO UPDATE SET working_available = EXCLUDED.working_available,
			utility_available = EXCLUDED.utility_available,
			taken_at = EXCLUDED.taken_at
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		s.TenantID, s.ConversationID, s.WorkingAvailable, s.UtilityAvailable, s.TakenAt,
	).Scan(&s.ID)
	if err != nil {
		r.logger.Error("Failed to upsert balance snapshot", "tenant_id", s.TenantID.String(), "error", err)
		return fmt.Errorf("failed to upsert balance snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Latest(ctx context.Context, tenantID uuid.UUID) (*gateway.BalanceSnapshot, error) {
	query := `
		SELECT id, tenant_id, conversation_id, working_available, utility_available, taken_at
		FROM balance_snapshots
		WHERE tenant_id = $1
		ORDER BY taken_at DESC, id DESC
		LIMIT 1
	`

	var s gateway.BalanceSnapshot
	err := r.querier.QueryRow(ctx, query, tenantID).Scan(
		&s.ID, &s.TenantID, &s.ConversationID, &s.WorkingAvailable, &s.UtilityAvailable, &s.TakenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, gateway.ErrNoSnapshot{TenantID: tenantID}
		}
		r.logger.Error("Failed to get latest balance snapshot", "tenant_id", tenantID.String(), "error", err)
		return nil, fmt.Errorf("failed to get latest balance snapshot: %w", err)
	}
	return &s, nil
}
