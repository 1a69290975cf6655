package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/data/memory"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/repayment"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
)

const (
	testOrgID     int64 = 1
	otherOrgID    int64 = 2
	borrowerPhone       = "0712345678"
	coworkerPhone       = "0733445566"
	adminPhone          = "0722000001"
)

// recordingNotifier keeps every queued SMS
type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (n *recordingNotifier) Notify(_ uuid.UUID, phone, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[string][]string)
	}
	n.sent[phone] = append(n.sent[phone], message)
}

func (n *recordingNotifier) SentTo(phone string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent[phone]...)
}

func (n *recordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, msgs := range n.sent {
		total += len(msgs)
	}
	return total
}

type directory struct {
	users organization.UserRepository
}

func (d directory) BorrowerPhone(ctx context.Context, tenantID, userID uuid.UUID) string {
	u, err := d.users.GetByID(ctx, tenantID, userID)
	if err != nil {
		return ""
	}
	return u.Phone
}

func (d directory) AdminPhones(ctx context.Context, tenantID uuid.UUID, organizationID int64) []string {
	admins, _ := d.users.ListActiveByRole(ctx, tenantID, shared.RoleOrgAdmin, &organizationID)
	phones := make([]string, 0, len(admins))
	for _, a := range admins {
		phones = append(phones, a.Phone)
	}
	return phones
}

type harness struct {
	store    *memory.Store
	notifier *recordingNotifier
	service  *ReconciliationService

	tenantID uuid.UUID
	borrower organization.User
	coworker organization.User
	admin    organization.User
	outsider organization.User
	drifter  organization.User // no organization
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()

	store := memory.NewStore()
	h := &harness{store: store, notifier: &recordingNotifier{}, tenantID: uuid.New()}

	org, other := testOrgID, otherOrgID
	store.AddTenant(organization.Tenant{ID: h.tenantID, Name: "Acme Credit", Timezone: "Africa/Nairobi"})
	store.AddOrganization(organization.Organization{
		ID: testOrgID, TenantID: h.tenantID, Name: "Widgets Ltd", CreditBalance: decimal.Zero, Active: true,
	})
	store.AddOrganization(organization.Organization{
		ID: otherOrgID, TenantID: h.tenantID, Name: "Gadgets Ltd", CreditBalance: decimal.Zero, Active: true,
	})

	h.borrower = organization.User{
		ID: uuid.New(), TenantID: h.tenantID, OrganizationID: &org, Phone: borrowerPhone,
		FirstName: "Jane", Roles: []shared.Role{shared.RoleEmployee}, Active: true,
	}
	h.coworker = organization.User{
		ID: uuid.New(), TenantID: h.tenantID, OrganizationID: &org, Phone: coworkerPhone,
		FirstName: "Tom", Roles: []shared.Role{shared.RoleEmployee}, Active: true,
	}
	h.admin = organization.User{
		ID: uuid.New(), TenantID: h.tenantID, OrganizationID: &org, Phone: adminPhone,
		FirstName: "Ann", Roles: []shared.Role{shared.RoleOrgAdmin}, Active: true,
	}
	h.outsider = organization.User{
		ID: uuid.New(), TenantID: h.tenantID, OrganizationID: &other, Phone: "0722000003",
		FirstName: "Oscar", Roles: []shared.Role{shared.RoleOrgAdmin}, Active: true,
	}
	h.drifter = organization.User{
		ID: uuid.New(), TenantID: h.tenantID, Phone: "0799000000",
		FirstName: "Dan", Roles: []shared.Role{shared.RoleEmployee}, Active: true,
	}
	for _, u := range []organization.User{h.borrower, h.coworker, h.admin, h.outsider, h.drifter} {
		store.AddUser(u)
	}
	for _, u := range []organization.User{h.borrower, h.coworker} {
		store.AddEmployee(organization.Employee{
			TenantID: h.tenantID, UserID: u.ID, OrganizationID: testOrgID,
			GrossSalary: decimal.NewFromInt(50000), Active: true,
		})
	}

	h.service = NewReconciliationService(discardLogger(), Dependencies{
		DB:           store,
		Transactions: store.Transactions(),
		Orgs:         store.Organizations(),
		Employees:    store.Employees(),
		Users:        store.Users(),
		Tenants:      store.Tenants(),
		Allocator:    NewAllocator(store.Loans(), store.Payouts(), store.Repayments(), store.Organizations()),
		Audit:        store.AuditRecorder(),
		Notifier:     h.notifier,
		Recipients:   directory{users: store.Users()},
	}, Settings{BatchSize: batchSize, Currency: "KES"})
	return h
}

// disbursedLoan stores a DISBURSED loan with one DISBURSED payout; age orders loans oldest first
func (h *harness) disbursedLoan(t *testing.T, borrower organization.User, total int64, age time.Duration) (*loan.Loan, *loan.Payout) {
	t.Helper()
	created := time.Now().UTC().Add(-age)
	disbursed := created.Add(time.Minute)
	l := loan.Loan{
		ID:             uuid.New(),
		TenantID:       h.tenantID,
		OrganizationID: *borrower.OrganizationID,
		BorrowerID:     borrower.ID,
		Amount:         decimal.NewFromInt(total),
		TotalRepayable: decimal.NewFromInt(total),
		RepaidAmount:   decimal.Zero,
		Status:         loan.StatusDisbursed,
		DisbursedAt:    &disbursed,
		CreatedAt:      created,
		UpdatedAt:      disbursed,
	}
	h.store.AddLoan(l)

	p := loan.NewPayout(&l, nil, created)
	p.MarkDisbursed("RKT"+l.ID.String()[:6], disbursed)
	h.store.AddPayout(*p)
	return &l, p
}

func (h *harness) queue(reference string, amount string) int64 {
	return h.store.AddTransaction(repayment.ExternalTransaction{
		TenantID:   h.tenantID,
		TransID:    "TX" + uuid.NewString()[:8],
		TransTime:  "20240105143000",
		Amount:     decimal.RequireFromString(amount),
		Reference:  reference,
		MSISDN:     "254712345678",
		FirstName:  "JANE",
		ReceivedAt: time.Now().UTC(),
	})
}

func (h *harness) callerFor(u organization.User) auth.Caller {
	return auth.Caller{UserID: u.ID, TenantID: h.tenantID, OrganizationID: u.OrganizationID, Roles: u.Roles}
}

func (h *harness) tenantAdmin() auth.Caller {
	return auth.Caller{UserID: uuid.New(), TenantID: h.tenantID, Roles: []shared.Role{shared.RoleAdmin}}
}

func (h *harness) creditBalance(orgID int64) decimal.Decimal {
	return h.store.Organization(orgID).CreditBalance
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
