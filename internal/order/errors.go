package order

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrIllegalTransition marks a transition not present in the table.
	// It is never coerced to a "close enough" state; callers decide recovery.
	ErrIllegalTransition = errors.New("illegal status transition")
)

type IllegalTransitionError struct {
	OrderNo string
	From    Status
	To      Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s", e.OrderNo, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
