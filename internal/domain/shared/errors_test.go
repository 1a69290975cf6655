package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := NewConflictError("loan %s is not pending", "abc")
	wrapped := fmt.Errorf("approve: %w", err)

	assert.True(t, errors.Is(wrapped, ErrConflict))
	assert.False(t, errors.Is(wrapped, ErrNotFound))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindConflict, Message: "loan abc is not pending"}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: KindConflict, Message: "other"}))
}

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"validation", NewValidationError("bad amount"), KindValidation},
		{"authorization", NewAuthorizationError("no"), KindAuthorization},
		{"capacity wrapped", fmt.Errorf("apply: %w", NewCapacityError("cap")), KindCapacity},
		{"plain", errors.New("boom"), ""},
		{"nil", nil, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("db down")
	err := Wrap(KindNotFound, cause, "tenant missing")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "tenant missing")
	assert.Contains(t, err.Error(), "db down")
}

func TestPaymentMethod_Valid(t *testing.T) {
	assert.True(t, PaymentMethodMobileMoney.Valid())
	assert.True(t, PaymentMethodBankTransfer.Valid())
	assert.False(t, PaymentMethod("BARTER").Valid())
}
