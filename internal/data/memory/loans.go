package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/shopspring/decimal"
)

type LoanRepository struct {
	s *Store
}

func (r *LoanRepository) WithTx(pgx.Tx) loan.Repository {
	return r
}

func (r *LoanRepository) Create(_ context.Context, l *loan.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("loans.Create"); err != nil {
		return err
	}
	r.s.data.loans[l.ID] = *l
	return nil
}

func (r *LoanRepository) GetByID(_ context.Context, tenantID, id uuid.UUID) (*loan.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.data.loans[id]
	if !ok || l.TenantID != tenantID {
		return nil, loan.ErrLoanNotFound{LoanID: id}
	}
	return &l, nil
}

func (r *LoanRepository) LockForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*loan.Loan, error) {
	return r.GetByID(ctx, tenantID, id)
}

func (r *LoanRepository) LockByGatewayReference(_ context.Context, tenantID uuid.UUID, reference string) (*loan.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.data.loans {
		if l.TenantID != tenantID {
			continue
		}
		if l.ConversationID == reference || l.MpesaTransactionID == reference {
			found := l
			return &found, nil
		}
	}
	return nil, loan.ErrGatewayReferenceNotFound{Reference: reference}
}

func (r *LoanRepository) Update(_ context.Context, l *loan.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("loans.Update"); err != nil {
		return err
	}
	if _, ok := r.s.data.loans[l.ID]; !ok {
		return loan.ErrLoanNotFound{LoanID: l.ID}
	}
	if l.ConversationID != "" {
		for id, other := range r.s.data.loans {
			if id != l.ID && other.ConversationID == l.ConversationID {
				return loan.ErrDuplicateConversationID{ConversationID: l.ConversationID}
			}
		}
	}
	r.s.data.loans[l.ID] = *l
	return nil
}

func (r *LoanRepository) SumCapExposure(_ context.Context, tenantID, borrowerID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := decimal.Zero
	for _, l := range r.s.data.loans {
		if l.TenantID != tenantID || l.BorrowerID != borrowerID || !l.CountsTowardsCap() {
			continue
		}
		if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
			continue
		}
		total = total.Add(l.Amount)
	}
	return total, nil
}

func (r *LoanRepository) List(_ context.Context, filter loan.Filter, limit, offset int) ([]*loan.Loan, error) {
	matched := r.filter(filter)
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (r *LoanRepository) Count(_ context.Context, filter loan.Filter) (int64, error) {
	return int64(len(r.filter(filter))), nil
}

func (r *LoanRepository) filter(filter loan.Filter) []*loan.Loan {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []*loan.Loan
	for _, l := range r.s.data.loans {
		if l.TenantID != filter.TenantID {
			continue
		}
		if filter.OrganizationID != nil && l.OrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.BorrowerID != nil && l.BorrowerID != *filter.BorrowerID {
			continue
		}
		if filter.Status != nil && l.Status != *filter.Status {
			continue
		}
		found := l
		matched = append(matched, &found)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched
}

type PayoutRepository struct {
	s *Store
}

func (r *PayoutRepository) WithTx(pgx.Tx) loan.PayoutRepository {
	return r
}

func (r *PayoutRepository) Create(_ context.Context, p *loan.Payout) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("payouts.Create"); err != nil {
		return err
	}
	r.s.data.payouts = append(r.s.data.payouts, *p)
	return nil
}

func (r *PayoutRepository) Update(_ context.Context, p *loan.Payout) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("payouts.Update"); err != nil {
		return err
	}
	for i := range r.s.data.payouts {
		if r.s.data.payouts[i].ID == p.ID {
			r.s.data.payouts[i] = *p
			return nil
		}
	}
	return loan.ErrPayoutNotFound{PayoutID: p.ID}
}

func (r *PayoutRepository) LockForUpdate(_ context.Context, id uuid.UUID) (*loan.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.data.payouts {
		if p.ID == id {
			found := p
			return &found, nil
		}
	}
	return nil, loan.ErrPayoutNotFound{PayoutID: id}
}

func (r *PayoutRepository) LockLatestByLoanID(_ context.Context, loanID uuid.UUID) (*loan.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.data.payouts) - 1; i >= 0; i-- {
		if r.s.data.payouts[i].LoanID == loanID {
			found := r.s.data.payouts[i]
			return &found, nil
		}
	}
	return nil, loan.ErrPayoutNotFound{LoanID: loanID}
}

func (r *PayoutRepository) FindByGatewayReference(_ context.Context, tenantID uuid.UUID, reference string) (*loan.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.data.payouts) - 1; i >= 0; i-- {
		p := r.s.data.payouts[i]
		if p.TenantID != tenantID {
			continue
		}
		if p.ConversationID == reference || p.MpesaTransactionID == reference {
			found := p
			return &found, nil
		}
	}
	return nil, loan.ErrGatewayReferenceNotFound{Reference: reference}
}

func (r *PayoutRepository) LockRepayable(_ context.Context, tenantID uuid.UUID, borrowerIDs []uuid.UUID) ([]*loan.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	borrowers := make(map[uuid.UUID]struct{}, len(borrowerIDs))
	for _, id := range borrowerIDs {
		borrowers[id] = struct{}{}
	}

	var matched []*loan.Payout
	for _, p := range r.s.data.payouts {
		if p.TenantID != tenantID {
			continue
		}
		if p.Status != loan.PayoutStatusDisbursed && p.Status != loan.PayoutStatusPartiallyPaid {
			continue
		}
		l, ok := r.s.data.loans[p.LoanID]
		if !ok || !l.Repayable() {
			continue
		}
		if _, ok := borrowers[l.BorrowerID]; !ok {
			continue
		}
		found := p
		matched = append(matched, &found)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		li, lj := r.s.data.loans[matched[i].LoanID], r.s.data.loans[matched[j].LoanID]
		if !li.CreatedAt.Equal(lj.CreatedAt) {
			return li.CreatedAt.Before(lj.CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (r *PayoutRepository) ListByLoanID(_ context.Context, loanID uuid.UUID) ([]*loan.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []*loan.Payout
	for _, p := range r.s.data.payouts {
		if p.LoanID == loanID {
			found := p
			matched = append(matched, &found)
		}
	}
	return matched, nil
}
