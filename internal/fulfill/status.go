package fulfill

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// VendorType selects which lifecycle graph an order follows. Counter-style
// vendors go pending -> accepted -> ready; shop-style vendors insert an
// explicit confirmed/preparing stage and terminate with cancelled instead
// of rejected. Both graphs share the same shape: one pre-fulfillment fork,
// one linear happy path, two terminal states.
type VendorType string

const (
	VendorTypeCounter VendorType = "counter"
	VendorTypeShop    VendorType = "shop"
)

var counterNext = map[Status]map[Status]bool{
	StatusPending:   {StatusAccepted: true, StatusRejected: true},
	StatusAccepted:  {StatusReady: true},
	StatusReady:     {StatusCompleted: true},
	StatusCompleted: {},
	StatusRejected:  {},
}

var shopNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusPreparing: true},
	StatusPreparing: {StatusReady: true},
	StatusReady:     {StatusCompleted: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

func CanTransition(vt VendorType, from, to Status) bool {
	if vt == VendorTypeShop {
		return shopNext[from][to]
	}
	return counterNext[from][to]
}

// Statuses enumerates every state reachable under the given vendor type.
func Statuses(vt VendorType) []Status {
	if vt == VendorTypeShop {
		return []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled}
	}
	return []Status{StatusPending, StatusAccepted, StatusReady, StatusCompleted, StatusRejected}
}

// Active reports whether an order in this status counts against the
// vendor's order limit: paid and not yet ready or terminated.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusConfirmed, StatusPreparing:
		return true
	}
	return false
}

// Open reports whether the order still owns its pickup code. Codes are
// unique only among a vendor's open orders; closed orders free theirs.
func (s Status) Open() bool {
	return !s.Terminal()
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// AcceptedStatus is the state an order enters when the vendor takes it on.
func AcceptedStatus(vt VendorType) Status {
	if vt == VendorTypeShop {
		return StatusConfirmed
	}
	return StatusAccepted
}

// RejectedStatus is the vendor-side terminal refusal state.
func RejectedStatus(vt VendorType) Status {
	if vt == VendorTypeShop {
		return StatusCancelled
	}
	return StatusRejected
}

// ReadyFrom is the state a vendor marks ready from.
func ReadyFrom(vt VendorType) Status {
	if vt == VendorTypeShop {
		return StatusPreparing
	}
	return StatusAccepted
}
