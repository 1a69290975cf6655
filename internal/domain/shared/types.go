package shared

// OutboxStatus defines audit outbox publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)

// PaymentMethod identifies how money moved
type PaymentMethod string

const (
	PaymentMethodMobileMoney  PaymentMethod = "MPESA"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodCheque       PaymentMethod = "CHEQUE"
)

// Valid reports whether the method is one the system records.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodMobileMoney, PaymentMethodBankTransfer, PaymentMethodCash, PaymentMethodCheque:
		return true
	}
	return false
}

// Role is a capability granted to a user by the auth collaborator
type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleOrgAdmin Role = "ORG_ADMIN"
	RoleAdmin    Role = "ADMIN"
)
