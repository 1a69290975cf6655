package memory

import (
	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/fee"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/repayment"
)

func (s *Store) AddTenant(t organization.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.tenants[t.ID] = t
}

func (s *Store) AddOrganization(o organization.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.orgs[o.ID] = o
}

func (s *Store) AddUser(u organization.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[u.ID] = u
}

func (s *Store) AddEmployee(e organization.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.id()
	}
	s.data.employees[e.UserID] = e
}

func (s *Store) AddFeeBand(b fee.Band) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.feeBands = append(s.data.feeBands, b)
}

func (s *Store) AddSnapshot(snap gateway.BalanceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.ID = s.id()
	s.data.snapshots = append(s.data.snapshots, snap)
}

func (s *Store) AddLoan(l loan.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.loans[l.ID] = l
}

func (s *Store) AddPayout(p loan.Payout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.payouts = append(s.data.payouts, p)
}

func (s *Store) AddTransaction(t repayment.ExternalTransaction) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	s.data.transactions = append(s.data.transactions, t)
	return t.ID
}

// Loan returns a copy of the stored loan, or nil
func (s *Store) Loan(id uuid.UUID) *loan.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.data.loans[id]
	if !ok {
		return nil
	}
	return &l
}

func (s *Store) LoanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.loans)
}

// PayoutsOf returns the loan's payouts in creation order
func (s *Store) PayoutsOf(loanID uuid.UUID) []loan.Payout {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []loan.Payout
	for _, p := range s.data.payouts {
		if p.LoanID == loanID {
			matched = append(matched, p)
		}
	}
	return matched
}

func (s *Store) Organization(id int64) *organization.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.orgs[id]
	if !ok {
		return nil
	}
	return &o
}

func (s *Store) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.data.events...)
}

func (s *Store) EventsOfKind(kind audit.Kind) []audit.Event {
	var matched []audit.Event
	for _, e := range s.Events() {
		if e.Kind == kind {
			matched = append(matched, e)
		}
	}
	return matched
}

func (s *Store) BalanceSnapshots() []gateway.BalanceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.BalanceSnapshot(nil), s.data.snapshots...)
}

func (s *Store) Confirmations() []repayment.Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repayment.Confirmation(nil), s.data.confirmations...)
}

func (s *Store) Batches() []repayment.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repayment.Batch(nil), s.data.batches...)
}

func (s *Store) Transaction(id int64) *repayment.ExternalTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.data.transactions {
		if t.ID == id {
			return &t
		}
	}
	return nil
}
