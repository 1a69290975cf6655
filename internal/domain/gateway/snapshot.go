package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceSnapshot is the gateway account balance as last reported for a tenant
type BalanceSnapshot struct {
	ID               int64               `json:"id"`
	TenantID         uuid.UUID           `json:"tenant_id"`
	ConversationID   *string             `json:"conversation_id,omitempty"`
	WorkingAvailable decimal.NullDecimal `json:"working_available"`
	UtilityAvailable decimal.NullDecimal `json:"utility_available"`
	TakenAt          time.Time           `json:"taken_at"`
}

// Disbursable is the balance the B2C payment is drawn from: utility first, working account otherwise.
// ok is false when the snapshot carries neither figure.
func (s *BalanceSnapshot) Disbursable() (decimal.Decimal, bool) {
	if s.UtilityAvailable.Valid {
		return s.UtilityAvailable.Decimal, true
	}
	if s.WorkingAvailable.Valid {
		return s.WorkingAvailable.Decimal, true
	}
	return decimal.Zero, false
}

// HasFigures reports whether the snapshot holds at least one balance.
func (s *BalanceSnapshot) HasFigures() bool {
	return s.UtilityAvailable.Valid || s.WorkingAvailable.Valid
}

// SnapshotRepository stores balance snapshots
type SnapshotRepository interface {
	// Upsert inserts the snapshot, replacing the figures of an existing row with the same conversation id
	Upsert(ctx context.Context, snapshot *BalanceSnapshot) error
	Latest(ctx context.Context, tenantID uuid.UUID) (*BalanceSnapshot, error)
	WithTx(tx pgx.Tx) SnapshotRepository
}

// ErrNoSnapshot indicates the tenant has never reported a balance
type ErrNoSnapshot struct {
	TenantID uuid.UUID
}

func (e ErrNoSnapshot) Error() string {
	return "no balance snapshot for tenant: " + e.TenantID.String()
}

func (e ErrNoSnapshot) Is(target error) bool {
	_, ok := target.(ErrNoSnapshot)
	return ok
}
