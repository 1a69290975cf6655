// Package memory is an in-process implementation of the repositories with transaction rollback,
// used to run the services without Postgres.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/fee"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/repayment"
)

type state struct {
	loans         map[uuid.UUID]loan.Loan
	payouts       []loan.Payout
	orgs          map[int64]organization.Organization
	employees     map[uuid.UUID]organization.Employee // keyed by user id
	users         map[uuid.UUID]organization.User
	tenants       map[uuid.UUID]organization.Tenant
	feeBands      []fee.Band
	snapshots     []gateway.BalanceSnapshot
	batches       []repayment.Batch
	confirmations []repayment.Confirmation
	transactions  []repayment.ExternalTransaction
	events        []audit.Event
	nextID        int64
}

func newState() state {
	return state{
		loans:     make(map[uuid.UUID]loan.Loan),
		orgs:      make(map[int64]organization.Organization),
		employees: make(map[uuid.UUID]organization.Employee),
		users:     make(map[uuid.UUID]organization.User),
		tenants:   make(map[uuid.UUID]organization.Tenant),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.orgs {
		c.orgs[k] = v
	}
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	c.payouts = append([]loan.Payout(nil), s.payouts...)
	c.feeBands = append([]fee.Band(nil), s.feeBands...)
	c.snapshots = append([]gateway.BalanceSnapshot(nil), s.snapshots...)
	c.batches = append([]repayment.Batch(nil), s.batches...)
	c.confirmations = append([]repayment.Confirmation(nil), s.confirmations...)
	c.transactions = append([]repayment.ExternalTransaction(nil), s.transactions...)
	c.events = append([]audit.Event(nil), s.events...)
	c.nextID = s.nextID
	return c
}

// Store holds all entities. Transactions are serialized and roll back on error.
type Store struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	data     state
	failures map[string]error
}

func NewStore() *Store {
	return &Store{data: newState(), failures: make(map[string]error)}
}

// ExecuteTx runs fn against the store, restoring the previous state when fn fails.
// fn receives a nil pgx.Tx; the repositories' WithTx ignores it.
func (s *Store) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	saved := s.data.clone()
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.data = saved
		s.mu.Unlock()
		return err
	}
	return nil
}

// Fail makes the named operation, e.g. "loans.Update", return err until cleared with a nil err
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// failure must be called with mu held
func (s *Store) failure(op string) error {
	return s.failures[op]
}

func (s *Store) id() int64 {
	s.data.nextID++
	return s.data.nextID
}

func (s *Store) Loans() loan.Repository {
	return &LoanRepository{s: s}
}

func (s *Store) Payouts() loan.PayoutRepository {
	return &PayoutRepository{s: s}
}

func (s *Store) Organizations() organization.Repository {
	return &OrganizationRepository{s: s}
}

func (s *Store) Employees() organization.EmployeeRepository {
	return &EmployeeRepository{s: s}
}

func (s *Store) Users() organization.UserRepository {
	return &UserRepository{s: s}
}

func (s *Store) Tenants() organization.TenantRepository {
	return &TenantRepository{s: s}
}

func (s *Store) FeeBands() fee.Repository {
	return &FeeBandRepository{s: s}
}

func (s *Store) Snapshots() gateway.SnapshotRepository {
	return &SnapshotRepository{s: s}
}

func (s *Store) Repayments() repayment.Repository {
	return &RepaymentRepository{s: s}
}

func (s *Store) Transactions() repayment.TransactionRepository {
	return &TransactionRepository{s: s}
}

func (s *Store) AuditRecorder() *AuditRecorder {
	return &AuditRecorder{s: s}
}
