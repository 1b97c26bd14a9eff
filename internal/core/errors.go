package core

import (
	"errors"
	"fmt"
)

// ErrStaleStock signals that a variant's pools changed between the snapshot read
// and the conditional write. The whole order's writes were rolled back. Callers
// retry with a fresh read; the engine never retries on their behalf when the
// retry could change what the user consented to.
var ErrStaleStock = errors.New("stock changed concurrently, no writes applied")

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrVariantNotFound = errors.New("variant not found")
	ErrOrgNotFound     = errors.New("organization not found")

	// ErrVariantInUse blocks catalog deletion while any order line still
	// references the variant.
	ErrVariantInUse = errors.New("variant has outstanding order lines")
)

// InsufficientStockError is terminal: the requested quantity cannot be met even
// after draining the safety buffer and the reserved warehouse. It carries the
// per-line deficits so the caller can render them.
type InsufficientStockError struct {
	Deficits []LineDeficit
}

func (e *InsufficientStockError) Error() string {
	if len(e.Deficits) == 1 {
		d := e.Deficits[0]
		return fmt.Sprintf("insufficient stock for %s: requested %d, at most %d fulfillable",
			d.Key, d.Requested, d.MaxFulfillable)
	}
	return fmt.Sprintf("insufficient stock on %d order lines", len(e.Deficits))
}

// ValidationError is terminal: the input never reached the allocation protocol.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
