package fulfill

import (
	"math"
	"time"
)

// Peak windows in the vendor's local civil time, half-open on the hour.
const (
	middayStartHour  = 11
	middayEndHour    = 13
	eveningStartHour = 17
	eveningEndHour   = 19

	middayMultiplier  = 1.3
	eveningMultiplier = 1.2

	queuePenaltyPerOrder = 2 // minutes added per active order ahead in the queue
)

// EstimateReady computes the ready-time estimate for a set of items:
// the slowest item's prep time, plus two minutes per order already in the
// vendor's queue, scaled by the time-of-day load factor. Pure function of
// its inputs; the result is meaningful only as of asOf and is stored, not
// recomputed.
func EstimateReady(asOf time.Time, loc *time.Location, prepMinutes []int, activeOrders int) time.Time {
	prep := 0
	for _, m := range prepMinutes {
		if m > prep {
			prep = m
		}
	}
	penalty := activeOrders * queuePenaltyPerOrder
	mult := peakMultiplier(asOf.In(loc))
	total := int(math.Round(float64(prep+penalty) * mult))
	return asOf.Add(time.Duration(total) * time.Minute)
}

func peakMultiplier(local time.Time) float64 {
	h := local.Hour()
	switch {
	case h >= middayStartHour && h < middayEndHour:
		return middayMultiplier
	case h >= eveningStartHour && h < eveningEndHour:
		return eveningMultiplier
	default:
		return 1.0
	}
}
