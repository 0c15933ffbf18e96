package fulfill

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionCounter(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusAccepted}:  true,
		{StatusPending, StatusRejected}:  true,
		{StatusAccepted, StatusReady}:    true,
		{StatusReady, StatusCompleted}:   true,
	}
	for _, from := range Statuses(VendorTypeCounter) {
		for _, to := range Statuses(VendorTypeCounter) {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(VendorTypeCounter, from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransitionShop(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusConfirmed}:   true,
		{StatusPending, StatusCancelled}:   true,
		{StatusConfirmed, StatusPreparing}: true,
		{StatusPreparing, StatusReady}:     true,
		{StatusReady, StatusCompleted}:     true,
	}
	for _, from := range Statuses(VendorTypeShop) {
		for _, to := range Statuses(VendorTypeShop) {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(VendorTypeShop, from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	active := map[Status]bool{
		StatusPending: true, StatusAccepted: true, StatusConfirmed: true, StatusPreparing: true,
	}
	terminal := map[Status]bool{
		StatusCompleted: true, StatusRejected: true, StatusCancelled: true,
	}
	all := []Status{
		StatusPending, StatusAccepted, StatusConfirmed, StatusPreparing,
		StatusReady, StatusCompleted, StatusRejected, StatusCancelled,
	}
	for _, s := range all {
		assert.Equal(t, active[s], s.Active(), "Active(%s)", s)
		assert.Equal(t, terminal[s], s.Terminal(), "Terminal(%s)", s)
		assert.Equal(t, !terminal[s], s.Open(), "Open(%s)", s)
	}
}

func TestVendorTypeHelpers(t *testing.T) {
	assert.Equal(t, StatusAccepted, AcceptedStatus(VendorTypeCounter))
	assert.Equal(t, StatusConfirmed, AcceptedStatus(VendorTypeShop))
	assert.Equal(t, StatusRejected, RejectedStatus(VendorTypeCounter))
	assert.Equal(t, StatusCancelled, RejectedStatus(VendorTypeShop))
	assert.Equal(t, StatusAccepted, ReadyFrom(VendorTypeCounter))
	assert.Equal(t, StatusPreparing, ReadyFrom(VendorTypeShop))
}
