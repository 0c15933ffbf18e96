package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizalf/go-pickup-orders/internal/fulfill"
)

const day = "2026-03-02"

func seedStock(t *testing.T, s *Store, total int) {
	t.Helper()
	require.NoError(t, s.UpsertStock(context.Background(), fulfill.StockEntry{
		VendorID: "v1", MenuItemID: "m1", Day: day,
		TotalQuantity: total, RemainingQuantity: total,
	}))
}

func TestReserveStock(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedStock(t, s, 3)

	remaining, err := s.ReserveStock(ctx, "v1", "m1", day, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	remaining, err = s.ReserveStock(ctx, "v1", "m1", day, 2)
	assert.ErrorIs(t, err, fulfill.ErrInsufficientStock)
	assert.Equal(t, 1, remaining)

	_, err = s.ReserveStock(ctx, "v1", "m1", "2026-03-03", 1)
	assert.ErrorIs(t, err, fulfill.ErrItemUnavailable)
}

func TestConcurrentReservesSumToAvailable(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedStock(t, s, 7)

	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ReserveStock(ctx, "v1", "m1", day, 1); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, reserved)
	entry, err := s.StockEntry(ctx, "v1", "m1", day)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.RemainingQuantity)
}

func TestReleaseStockCappedAtTotal(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedStock(t, s, 5)

	_, err := s.ReserveStock(ctx, "v1", "m1", day, 2)
	require.NoError(t, err)

	remaining, err := s.ReleaseStock(ctx, "v1", "m1", day, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func seedOrder(t *testing.T, s *Store, o fulfill.Order) {
	t.Helper()
	require.NoError(t, s.InsertOrder(context.Background(), o, nil))
}

func TestOpenCodeExistsScopedToOpenOrders(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedOrder(t, s, fulfill.Order{ID: "o1", VendorID: "v1", PickupCode: "0042", Status: fulfill.StatusCompleted})

	exists, err := s.OpenCodeExists(ctx, "v1", "0042")
	require.NoError(t, err)
	assert.False(t, exists, "closed orders free their code")

	seedOrder(t, s, fulfill.Order{ID: "o2", VendorID: "v1", PickupCode: "0042", Status: fulfill.StatusPending})
	exists, err = s.OpenCodeExists(ctx, "v1", "0042")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.OpenCodeExists(ctx, "v2", "0042")
	require.NoError(t, err)
	assert.False(t, exists, "codes are scoped per vendor")
}

func TestTransitionOrderReportsPersistedStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedOrder(t, s, fulfill.Order{ID: "o1", VendorID: "v1", Status: fulfill.StatusAccepted})

	// A caller holding a stale pending read cannot force the edge.
	_, err := s.TransitionOrder(ctx, "o1", fulfill.StatusPending, fulfill.StatusRejected, nil)
	var invalid *fulfill.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, fulfill.StatusAccepted, invalid.From)

	eta := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	o, err := s.TransitionOrder(ctx, "o1", fulfill.StatusAccepted, fulfill.StatusReady, &eta)
	require.NoError(t, err)
	assert.Equal(t, fulfill.StatusReady, o.Status)
	require.NotNil(t, o.EstimatedReadyTime)
	assert.Equal(t, eta, *o.EstimatedReadyTime)
}

func TestCompleteOrderExactlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedOrder(t, s, fulfill.Order{ID: "o1", VendorID: "v1", Status: fulfill.StatusReady})

	results := make(chan error, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompleteOrder(ctx, "o1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, notReady int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, fulfill.ErrOrderNotReady):
			notReady++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, notReady)

	o, err := s.Order(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, fulfill.StatusCompleted, o.Status)
	assert.True(t, o.TokenUsed)
}

func TestNextSequenceNoPerVendorDay(t *testing.T) {
	s := New()
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.NextSequenceNo(ctx, "v1", day)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := s.NextSequenceNo(ctx, "v1", "2026-03-03")
	require.NoError(t, err)
	assert.Equal(t, 1, got, "fresh day starts over")

	got, err = s.NextSequenceNo(ctx, "v2", day)
	require.NoError(t, err)
	assert.Equal(t, 1, got, "fresh vendor starts over")
}
