package fulfill

import (
	"context"
	"time"
)

// Store is the persistence port for the engine. Implementations must make
// each individual method atomic with respect to concurrent callers, and
// WithVendorLock must serialize its callback against every other
// WithVendorLock call for the same vendor — that critical section is what
// makes admission-check + stock-reserve + order-insert one unit.
//
// The Postgres implementation backs WithVendorLock with a transaction plus
// a vendor-keyed advisory lock and carries the transaction in ctx; the
// in-memory implementation uses a per-vendor mutex. Methods called inside
// the callback must use the ctx it receives.
type Store interface {
	WithVendorLock(ctx context.Context, vendorID string, fn func(ctx context.Context) error) error

	VendorConfig(ctx context.Context, vendorID string) (VendorConfig, error)
	MenuItems(ctx context.Context, vendorID string, itemIDs []string) ([]MenuItem, error)

	CountActiveOrders(ctx context.Context, vendorID string) (int, error)
	// NextSequenceNo allocates the next per-(vendor, day) display number.
	NextSequenceNo(ctx context.Context, vendorID, day string) (int, error)
	OpenCodeExists(ctx context.Context, vendorID, code string) (bool, error)

	StockEntry(ctx context.Context, vendorID, itemID, day string) (StockEntry, error)
	UpsertStock(ctx context.Context, entry StockEntry) error
	// ReserveStock atomically checks remaining >= qty and decrements,
	// returning the new remaining. ErrItemUnavailable when no ledger row
	// exists for the day, ErrInsufficientStock when remaining < qty.
	ReserveStock(ctx context.Context, vendorID, itemID, day string, qty int) (int, error)
	// ReleaseStock compensates a reservation, capped at TotalQuantity.
	ReleaseStock(ctx context.Context, vendorID, itemID, day string, qty int) (int, error)

	InsertOrder(ctx context.Context, o Order, items []OrderLineItem) error
	Order(ctx context.Context, orderID string) (Order, error)
	OrderByToken(ctx context.Context, token string) (Order, error)
	// ReadyOrderByCode finds the unique order with this vendor, code and
	// status ready. Scoping to ready avoids ambiguity with closed orders
	// that reused the code.
	ReadyOrderByCode(ctx context.Context, vendorID, code string) (Order, error)
	OrderItems(ctx context.Context, orderID string) ([]OrderLineItem, error)

	// TransitionOrder compare-and-sets status from -> to against the
	// persisted row, never a caller-cached status. A non-nil eta is
	// stored with the transition. Returns *InvalidTransitionError with
	// the actual current status when the CAS misses.
	TransitionOrder(ctx context.Context, orderID string, from, to Status, eta *time.Time) (Order, error)
	// CompleteOrder is the single atomic completion primitive both
	// redemption credentials funnel into: in one compare-and-set it moves
	// a ready order to completed and consumes the token. Exactly one of
	// any set of concurrent calls can succeed; the rest get
	// ErrOrderNotReady and must classify against the post-completion row.
	CompleteOrder(ctx context.Context, orderID string) (Order, error)
}
