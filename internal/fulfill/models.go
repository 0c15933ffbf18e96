package fulfill

import "time"

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// StockMode controls whether a vendor's items draw from a finite daily
// ledger or are treated as unlimited.
type StockMode string

const (
	StockModeSimple StockMode = "simple"
	StockModeDaily  StockMode = "daily"
)

type Order struct {
	ID            string
	VendorID      string
	BuyerID       string
	Status        Status
	PaymentStatus PaymentStatus

	// PickupCode and RedemptionToken are the two interchangeable
	// single-use credentials for redemption. The code is unique only
	// among the vendor's open orders; the token is globally unique and
	// TokenUsed flips false->true exactly once.
	PickupCode      string
	RedemptionToken string
	TokenUsed       bool

	EstimatedReadyTime *time.Time
	SequenceNo         int
	TotalCents         int
	CreatedAt          time.Time
}

// OrderLineItem snapshots name and price at order time; later catalog
// edits never touch it.
type OrderLineItem struct {
	OrderID    string
	MenuItemID string
	Name       string
	PriceCents int
	Quantity   int
}

// StockEntry is one day's finite inventory for one item.
// 0 <= RemainingQuantity <= TotalQuantity always holds.
type StockEntry struct {
	VendorID          string
	MenuItemID        string
	Day               string // YYYY-MM-DD in the vendor's local time
	TotalQuantity     int
	RemainingQuantity int
}

func (e StockEntry) SoldOut() bool { return e.RemainingQuantity == 0 }

// VendorConfig is owned and edited by the vendor console; this engine
// only reads it.
type VendorConfig struct {
	VendorID          string
	VendorType        VendorType
	OrderLimit        *int // nil = unlimited
	IsAcceptingOrders bool
	IsOpen            bool
	StockMode         StockMode
	Timezone          string
	// EtaOnCreate picks when the ready-time estimate is computed: at
	// checkout, or deferred until the vendor accepts.
	EtaOnCreate bool
}

// Location resolves the vendor's civil timezone, falling back to UTC.
func (c VendorConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type MenuItem struct {
	ID          string
	VendorID    string
	Name        string
	PriceCents  int
	PrepMinutes int
}

// DayKey renders the calendar day a timestamp falls on in the given zone,
// the composite-key component for daily stock and sequence counters.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
