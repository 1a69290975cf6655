package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/repayment"
	"github.com/shopspring/decimal"
)

type SnapshotRepository struct {
	s *Store
}

func (r *SnapshotRepository) WithTx(pgx.Tx) gateway.SnapshotRepository {
	return r
}

func (r *SnapshotRepository) Upsert(_ context.Context, snapshot *gateway.BalanceSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("snapshots.Upsert"); err != nil {
		return err
	}
	if snapshot.ConversationID != nil {
		for i, existing := range r.s.data.snapshots {
			if existing.ConversationID != nil && *existing.ConversationID == *snapshot.ConversationID {
				existing.WorkingAvailable = snapshot.WorkingAvailable
				existing.UtilityAvailable = snapshot.UtilityAvailable
				existing.TakenAt = snapshot.TakenAt
				r.s.data.snapshots[i] = existing
				snapshot.ID = existing.ID
				return nil
			}
		}
	}
	snapshot.ID = r.s.id()
	r.s.data.snapshots = append(r.s.data.snapshots, *snapshot)
	return nil
}

func (r *SnapshotRepository) Latest(_ context.Context, tenantID uuid.UUID) (*gateway.BalanceSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *gateway.BalanceSnapshot
	for _, snap := range r.s.data.snapshots {
		if snap.TenantID != tenantID {
			continue
		}
		if latest == nil || !snap.TakenAt.Before(latest.TakenAt) {
			found := snap
			latest = &found
		}
	}
	if latest == nil {
		return nil, gateway.ErrNoSnapshot{TenantID: tenantID}
	}
	return latest, nil
}

type RepaymentRepository struct {
	s *Store
}

func (r *RepaymentRepository) WithTx(pgx.Tx) repayment.Repository {
	return r
}

func (r *RepaymentRepository) CreateBatch(_ context.Context, batch *repayment.Batch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("repayments.CreateBatch"); err != nil {
		return err
	}
	r.s.data.batches = append(r.s.data.batches, *batch)
	return nil
}

func (r *RepaymentRepository) UpsertConfirmation(_ context.Context, batchID, payoutID uuid.UUID, amount decimal.Decimal, settledAt time.Time) (*repayment.Confirmation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("repayments.UpsertConfirmation"); err != nil {
		return nil, err
	}
	for i, c := range r.s.data.confirmations {
		if c.PaymentBatchID == batchID && c.LoanPayoutID == payoutID {
			c.AmountSettled = c.AmountSettled.Add(amount)
			c.SettledAt = settledAt
			r.s.data.confirmations[i] = c
			return &c, nil
		}
	}
	c := repayment.Confirmation{
		ID:             uuid.New(),
		PaymentBatchID: batchID,
		LoanPayoutID:   payoutID,
		AmountSettled:  amount,
		SettledAt:      settledAt,
	}
	r.s.data.confirmations = append(r.s.data.confirmations, c)
	return &c, nil
}

func (r *RepaymentRepository) ListConfirmations(_ context.Context, batchID uuid.UUID) ([]*repayment.Confirmation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []*repayment.Confirmation
	for _, c := range r.s.data.confirmations {
		if c.PaymentBatchID == batchID {
			found := c
			matched = append(matched, &found)
		}
	}
	return matched, nil
}

type TransactionRepository struct {
	s *Store
}

func (r *TransactionRepository) WithTx(pgx.Tx) repayment.TransactionRepository {
	return r
}

func (r *TransactionRepository) Insert(_ context.Context, txn *repayment.ExternalTransaction) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("transactions.Insert"); err != nil {
		return false, err
	}
	for _, existing := range r.s.data.transactions {
		if existing.TransID == txn.TransID {
			txn.ID = existing.ID
			return false, nil
		}
	}
	txn.ID = r.s.id()
	r.s.data.transactions = append(r.s.data.transactions, *txn)
	return true, nil
}

func (r *TransactionRepository) ListUnprocessed(_ context.Context, afterID int64, limit int) ([]*repayment.ExternalTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []*repayment.ExternalTransaction
	for _, t := range r.s.data.transactions {
		if t.Processed || t.ID <= afterID {
			continue
		}
		found := t
		matched = append(matched, &found)
		if len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func (r *TransactionRepository) LockForUpdate(_ context.Context, id int64) (*repayment.ExternalTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.data.transactions {
		if t.ID == id {
			found := t
			return &found, nil
		}
	}
	return nil, repayment.ErrTransactionNotFound{ID: id}
}

func (r *TransactionRepository) MarkProcessed(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("transactions.MarkProcessed"); err != nil {
		return err
	}
	for i := range r.s.data.transactions {
		if r.s.data.transactions[i].ID == id {
			r.s.data.transactions[i].Processed = true
			r.s.data.transactions[i].ProcessedAt = &at
			return nil
		}
	}
	return repayment.ErrTransactionNotFound{ID: id}
}
