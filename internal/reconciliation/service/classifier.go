package service

import (
	"strconv"
	"strings"

	"github.com/salary-advance-lending/internal/platform/mpesa"
)

// PayerKind is who a C2B account reference points at
type PayerKind string

const (
	PayerIndividual   PayerKind = "INDIVIDUAL"
	PayerOrganization PayerKind = "ORGANIZATION"
	PayerUnknown      PayerKind = "UNKNOWN"
)

// Organization ids longer than this are treated as mistyped phone numbers.
// Nine digits is a subscriber number without its leading zero.
const maxOrganizationIDDigits = 8

// Payer is a classified account reference
type Payer struct {
	Kind           PayerKind
	Phone          string // local format, set for individuals
	OrganizationID int64  // set for organizations
}

// ClassifyReference decides whether a BillRefNumber names a borrower's phone or an organization id.
// A reference that reads as a phone number always wins.
func ClassifyReference(reference string) Payer {
	if phone, ok := mpesa.NormalizeLocal(reference); ok {
		return Payer{Kind: PayerIndividual, Phone: phone}
	}

	ref := strings.TrimSpace(reference)
	if ref == "" || len(ref) > maxOrganizationIDDigits {
		return Payer{Kind: PayerUnknown}
	}
	for _, r := range ref {
		if r < '0' || r > '9' {
			return Payer{Kind: PayerUnknown}
		}
	}

	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return Payer{Kind: PayerUnknown}
	}
	return Payer{Kind: PayerOrganization, OrganizationID: id}
}
