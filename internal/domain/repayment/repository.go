package repayment

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Repository persists payment batches and their confirmations
type Repository interface {
	CreateBatch(ctx context.Context, batch *Batch) error

	// UpsertConfirmation creates the (batch, payout) confirmation or increments its settled amount
	UpsertConfirmation(ctx context.Context, batchID, payoutID uuid.UUID, amount decimal.Decimal, settledAt time.Time) (*Confirmation, error)
	ListConfirmations(ctx context.Context, batchID uuid.UUID) ([]*Confirmation, error)
	WithTx(tx pgx.Tx) Repository
}

// TransactionRepository persists unattributed incoming transactions
type TransactionRepository interface {
	// Insert stores the record unless its TransID is already known. inserted reports which happened.
	Insert(ctx context.Context, txn *ExternalTransaction) (inserted bool, err error)
	// ListUnprocessed pages through unprocessed records in id order, starting after afterID
	ListUnprocessed(ctx context.Context, afterID int64, limit int) ([]*ExternalTransaction, error)
	LockForUpdate(ctx context.Context, id int64) (*ExternalTransaction, error)
	MarkProcessed(ctx context.Context, id int64, at time.Time) error
	WithTx(tx pgx.Tx) TransactionRepository
}

// ErrTransactionNotFound indicates missing external transaction
type ErrTransactionNotFound struct {
	ID int64
}

func (e ErrTransactionNotFound) Error() string {
	return "external transaction not found: " + strconv.FormatInt(e.ID, 10)
}

func (e ErrTransactionNotFound) Is(target error) bool {
	t, ok := target.(ErrTransactionNotFound)
	if !ok {
		return false
	}
	return t.ID == 0 || t.ID == e.ID
}
