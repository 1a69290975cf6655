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
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/fee"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testOrgID         int64 = 1
	otherOrgID        int64 = 2
	borrowerPhone           = "0712345678"
	borrowerGatewayID       = "254712345678"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Disburse(ctx context.Context, req mpesa.DisburseRequest, creds mpesa.Credentials) mpesa.DisburseResult {
	args := m.Called(ctx, req, creds)
	return args.Get(0).(mpesa.DisburseResult)
}

// MockNotifier records every queued SMS
type MockNotifier struct {
	mock.Mock
	mu   sync.Mutex
	sent []sentSMS
}

type sentSMS struct {
	Phone   string
	Message string
}

func (m *MockNotifier) Notify(tenantID uuid.UUID, phone, message string) {
	m.mu.Lock()
	m.sent = append(m.sent, sentSMS{Phone: phone, Message: message})
	m.mu.Unlock()
	m.Called(tenantID, phone, message)
}

func (m *MockNotifier) SentTo(phone string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var messages []string
	for _, s := range m.sent {
		if s.Phone == phone {
			messages = append(messages, s.Message)
		}
	}
	return messages
}

// directory resolves recipients straight from the store's users
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
	store        *memory.Store
	gateway      *MockGateway
	notifier     *MockNotifier
	lifecycle    *LifecycleService
	disbursement *DisbursementService
	callbacks    *CallbackService

	tenantID uuid.UUID
	borrower organization.User
	adminA   organization.User
	adminB   organization.User
	outsider organization.User
}

func testNow() time.Time {
	return time.Now().UTC()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newHarness(t *testing.T, approvalSteps int) *harness {
	t.Helper()

	store := memory.NewStore()
	h := &harness{
		store:    store,
		gateway:  new(MockGateway),
		notifier: new(MockNotifier),
		tenantID: uuid.New(),
	}
	h.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return()

	org := testOrgID
	other := otherOrgID
	store.AddTenant(organization.Tenant{
		ID:                     h.tenantID,
		Name:                   "Acme Credit",
		Timezone:               "Africa/Nairobi",
		MpesaShortCode:         "600000",
		MpesaConsumerKey:       "key",
		MpesaConsumerSecret:    "secret",
		MpesaInitiatorName:     "initiator",
		MpesaInitiatorPassword: "password",
	})
	store.AddOrganization(organization.Organization{
		ID:                  testOrgID,
		TenantID:            h.tenantID,
		Name:                "Widgets Ltd",
		ApprovalSteps:       approvalSteps,
		LoanLimitMultiplier: decimal.RequireFromString("0.5"),
		InterestRate:        decimal.RequireFromString("0.1"),
		CreditBalance:       decimal.Zero,
		Active:              true,
	})

	h.borrower = organization.User{
		ID: uuid.New(), TenantID: h.tenantID, OrganizationID: &org, Phone: borrowerPhone,
		FirstName: "Jane", LastName: "Wanjiru", Roles: []shared.Role{shared.RoleEmployee}, Active: true,
	}
	h.adminA = organization.User{
		ID: uuid.New(), TenantID: h.tenantID, OrganizationID: &org, Phone: "0722000001",
		FirstName: "Ann", Roles: []shared.Role{shared.RoleOrgAdmin}, Active: true,
	}
	h.adminB = organization.User{
		ID: uuid.New(), TenantID: h.tenantID, OrganizationID: &org, Phone: "0722000002",
		FirstName: "Ben", Roles: []shared.Role{shared.RoleOrgAdmin}, Active: true,
	}
	h.outsider = organization.User{
		ID: uuid.New(), TenantID: h.tenantID, OrganizationID: &other, Phone: "0722000003",
		FirstName: "Oscar", Roles: []shared.Role{shared.RoleOrgAdmin}, Active: true,
	}
	for _, u := range []organization.User{h.borrower, h.adminA, h.adminB, h.outsider} {
		store.AddUser(u)
	}
	store.AddEmployee(organization.Employee{
		TenantID:       h.tenantID,
		UserID:         h.borrower.ID,
		OrganizationID: testOrgID,
		GrossSalary:    decimal.NewFromInt(50000),
		Active:         true,
	})
	store.AddFeeBand(fee.Band{
		TenantID: h.tenantID,
		Min:      decimal.NewFromInt(1),
		Max:      decimal.NewFromInt(100000),
		Cost:     decimal.NewFromInt(50),
	})

	log := discardLogger()
	recorder := store.AuditRecorder()
	recipients := directory{users: store.Users()}

	h.disbursement = NewDisbursementService(log, DisbursementDependencies{
		DB:        store,
		Loans:     store.Loans(),
		Payouts:   store.Payouts(),
		Users:     store.Users(),
		Tenants:   store.Tenants(),
		Snapshots: store.Snapshots(),
		Gateway:   h.gateway,
		Audit:     recorder,
		Notifier:  h.notifier,
	}, "KES")

	h.lifecycle = NewLifecycleService(log, LifecycleDependencies{
		DB:         store,
		Loans:      store.Loans(),
		Payouts:    store.Payouts(),
		Orgs:       store.Organizations(),
		Employees:  store.Employees(),
		Users:      store.Users(),
		Tenants:    store.Tenants(),
		Fees:       fee.NewResolver(log, store.FeeBands()),
		Disburser:  h.disbursement,
		Audit:      recorder,
		Notifier:   h.notifier,
		Recipients: recipients,
	}, Policy{Currency: "KES", DefaultDurationDays: 30, MaxDurationDays: 90})

	h.callbacks = NewCallbackService(log, CallbackDependencies{
		DB:         store,
		Loans:      store.Loans(),
		Payouts:    store.Payouts(),
		Snapshots:  store.Snapshots(),
		Audit:      recorder,
		Notifier:   h.notifier,
		Recipients: recipients,
	}, "KES")

	return h
}

func callerFor(u organization.User) auth.Caller {
	return auth.Caller{UserID: u.ID, TenantID: u.TenantID, OrganizationID: u.OrganizationID, Roles: u.Roles}
}

func (h *harness) tenantAdmin() auth.Caller {
	return auth.Caller{UserID: uuid.New(), TenantID: h.tenantID, Roles: []shared.Role{shared.RoleAdmin}}
}

func acceptedResult(gatewayConversationID string) mpesa.DisburseResult {
	return mpesa.DisburseResult{
		Accepted:                 true,
		ConversationID:           gatewayConversationID,
		OriginatorConversationID: "ignored",
		ResponseCode:             "0",
		ResponseDescription:      "Accept the service request successfully.",
	}
}

func (h *harness) gatewayAccepts(gatewayConversationID string) {
	h.gateway.On("Disburse", mock.Anything, mock.Anything, mock.Anything).Return(acceptedResult(gatewayConversationID))
}

// apply files an application as the borrower and fails the test on error
func (h *harness) apply(t *testing.T, amount int64) *ApplyResult {
	t.Helper()
	result, err := h.lifecycle.Apply(context.Background(), callerFor(h.borrower), ApplyRequest{Amount: decimal.NewFromInt(amount)})
	require.NoError(t, err)
	return result
}

// approvedLoan builds an APPROVED, never-disbursed loan for the borrower without storing it
func (h *harness) approvedLoan(amount int64) loan.Loan {
	a := decimal.NewFromInt(amount)
	terms, _ := loan.ComputeTerms(a, loan.RateInputs{Regime: loan.RegimeMonthly, MonthlyRate: decimal.RequireFromString("0.1")}, 30, testNow())
	l := loan.NewLoan(h.tenantID, testOrgID, h.borrower.ID, a, terms, decimal.Zero, 0, testNow())
	return *l
}

// testMonth is the tenant-local month the harness tenant is in right now
func testMonth() (time.Time, time.Time) {
	tenant := organization.Tenant{Timezone: "Africa/Nairobi"}
	return organization.MonthBounds(testNow(), tenant.Location(time.UTC))
}

func (h *harness) kinds() []audit.Kind {
	var kinds []audit.Kind
	for _, e := range h.store.Events() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
