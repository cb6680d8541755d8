package payment

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrNotPayable      = errors.New("order not payable")
	ErrAlreadyPaid     = errors.New("order already paid")
	ErrNotOwner        = errors.New("order belongs to another user")

	// ErrAmountMismatch rejects a success callback whose declared amount
	// differs from the record. The order is left untouched for manual review.
	ErrAmountMismatch = errors.New("callback amount mismatch")
)

type AmountMismatchError struct {
	PaymentNo string
	Declared  decimal.Decimal
	Expected  decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payment %s: declared amount %s does not match %s",
		e.PaymentNo, e.Declared, e.Expected)
}

func (e *AmountMismatchError) Is(target error) bool {
	return target == ErrAmountMismatch
}
