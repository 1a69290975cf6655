package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names the action an audit event records
type Kind string

const (
	KindLoanApplied                 Kind = "LOAN_APPLIED"
	KindLoanApproved                Kind = "LOAN_APPROVED"
	KindLoanRejected                Kind = "LOAN_REJECTED"
	KindDisbursementInitiated       Kind = "DISBURSEMENT_INITIATED"
	KindDisbursed                   Kind = "DISBURSED"
	KindDisbursementFailed          Kind = "DISBURSEMENT_FAILED"
	KindGatewayResult               Kind = "GATEWAY_RESULT"
	KindGatewayTimeout              Kind = "GATEWAY_TIMEOUT"
	KindRepaymentAllocated          Kind = "REPAYMENT_ALLOCATED"
	KindOrganizationPaymentRecorded Kind = "ORGANIZATION_PAYMENT_RECORDED"
)

// Details is the typed body of one audit event kind
type Details interface {
	Kind() Kind
}

// Event is an immutable audit trail entry
type Event struct {
	ID            uuid.UUID       `json:"id" bson:"event_id"`
	TenantID      uuid.UUID       `json:"tenant_id" bson:"tenant_id"`
	LoanID        *uuid.UUID      `json:"loan_id,omitempty" bson:"loan_id,omitempty"`
	Kind          Kind            `json:"kind" bson:"kind"`
	ActorID       *uuid.UUID      `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	Details       json.RawMessage `json:"details" bson:"-"`
	CorrelationID string          `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at" bson:"occurred_at"`
}

func NewEvent(tenantID uuid.UUID, loanID, actorID *uuid.UUID, details Details, correlationID string, now time.Time) (*Event, error) {
	body, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s details: %w", details.Kind(), err)
	}

	return &Event{
		ID:            uuid.New(),
		TenantID:      tenantID,
		LoanID:        loanID,
		Kind:          details.Kind(),
		ActorID:       actorID,
		Details:       body,
		CorrelationID: correlationID,
		OccurredAt:    now,
	}, nil
}

// DecodeDetails unmarshals the event body into the struct registered for its kind.
func (e *Event) DecodeDetails() (Details, error) {
	var target Details
	switch e.Kind {
	case KindLoanApplied:
		target = &LoanApplied{}
	case KindLoanApproved:
		target = &LoanApproved{}
	case KindLoanRejected:
		target = &LoanRejected{}
	case KindDisbursementInitiated:
		target = &DisbursementInitiated{}
	case KindDisbursed:
		target = &Disbursed{}
	case KindDisbursementFailed:
		target = &DisbursementFailed{}
	case KindGatewayResult:
		target = &GatewayResult{}
	case KindGatewayTimeout:
		target = &GatewayTimeout{}
	case KindRepaymentAllocated:
		target = &RepaymentAllocated{}
	case KindOrganizationPaymentRecorded:
		target = &OrganizationPaymentRecorded{}
	default:
		return nil, fmt.Errorf("unknown audit kind %q", e.Kind)
	}

	if err := json.Unmarshal(e.Details, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s details: %w", e.Kind, err)
	}
	return target, nil
}
