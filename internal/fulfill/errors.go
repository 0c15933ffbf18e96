package fulfill

import (
	"errors"
	"fmt"
)

// Admission errors.
var (
	ErrVendorClosed = errors.New("vendor closed")
	ErrNotAccepting = errors.New("vendor not accepting orders")
	ErrLimitReached = errors.New("vendor order limit reached")
)

// Stock errors.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrItemUnavailable   = errors.New("item unavailable")
)

// Redemption errors.
var (
	ErrTokenAlreadyUsed = errors.New("redemption token already used")
	ErrOrderNotReady    = errors.New("order not ready for pickup")
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrVendorNotFound = errors.New("vendor not found")
	ErrNoItems        = errors.New("order has no items")
	ErrInvalidQty     = errors.New("invalid quantity")
)

// InvalidTransitionError reports a lifecycle edge outside the vendor
// type's graph, carrying the status actually persisted at the time of
// the attempt.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.To)
}

// IsAdmissionDenied reports whether err belongs to the admission family.
func IsAdmissionDenied(err error) bool {
	return errors.Is(err, ErrVendorClosed) || errors.Is(err, ErrNotAccepting) || errors.Is(err, ErrLimitReached)
}

// IsStockError reports whether err belongs to the stock family.
func IsStockError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrItemUnavailable)
}
