package service

import (
	"errors"

	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/shared"
)

// classify maps repository not-found errors onto the caller-facing taxonomy and passes everything else through
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case shared.KindOf(err) != "":
		return err
	case errors.Is(err, loan.ErrLoanNotFound{}):
		return shared.Wrap(shared.KindNotFound, err, "loan not found")
	case errors.Is(err, organization.ErrEmployeeNotFound{}):
		return shared.Wrap(shared.KindNotFound, err, "employee record not found")
	case errors.Is(err, organization.ErrOrganizationNotFound{}):
		return shared.Wrap(shared.KindNotFound, err, "organization not found")
	case errors.Is(err, organization.ErrTenantNotFound{}):
		return shared.Wrap(shared.KindNotFound, err, "tenant not found")
	case errors.Is(err, organization.ErrUserNotFound{}):
		return shared.Wrap(shared.KindNotFound, err, "user not found")
	}
	return err
}

func transitionConflict(err error) error {
	switch {
	case errors.Is(err, loan.ErrNotPending):
		return shared.Wrap(shared.KindConflict, err, "loan is not pending")
	case errors.Is(err, loan.ErrDuplicateApproval):
		return shared.Wrap(shared.KindConflict, err, "you have already approved this loan")
	case errors.Is(err, loan.ErrAlreadyDisbursed):
		return shared.Wrap(shared.KindConflict, err, "loan has already been disbursed")
	case errors.Is(err, loan.ErrResultOutstanding):
		return shared.Wrap(shared.KindConflict, err, "the previous disbursement attempt timed out and its result has not arrived yet")
	case errors.Is(err, loan.ErrNotDisbursable):
		return shared.Wrap(shared.KindConflict, err, "loan is not in a disbursable state")
	}
	return err
}
