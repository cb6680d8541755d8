package stock

import (
	"errors"
	"fmt"
)

var (
	ErrSKUNotFound = errors.New("sku not found")

	// ErrConcurrentModification surfaces after the bounded version-conflict
	// retry is exhausted. Callers may retry the whole operation.
	ErrConcurrentModification = errors.New("concurrent stock modification")

	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError carries enough detail for the caller to report
// which SKU fell short, without exposing ledger internals.
type InsufficientStockError struct {
	SKUID     string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %s: requested %d, available %d",
		e.SKUID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
