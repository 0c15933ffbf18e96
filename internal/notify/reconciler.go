package notify

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rizalf/go-pickup-orders/internal/clock"
	"github.com/rizalf/go-pickup-orders/internal/fulfill"
	"github.com/rizalf/go-pickup-orders/internal/kafka"
	"github.com/rizalf/go-pickup-orders/internal/redisx"
)

// OrderEvent is the reconciler's view of one change-stream message.
type OrderEvent struct {
	OrderID            string
	BuyerID            string
	VendorID           string
	Status             fulfill.Status
	EstimatedReadyTime *time.Time
}

// DecodeEvent unwraps the stream envelope into a reconciler event.
func DecodeEvent(env fulfill.Envelope) (OrderEvent, error) {
	p, err := kafka.UnwrapPayload[fulfill.OrderEventPayload](env.Payload)
	if err != nil {
		return OrderEvent{}, err
	}
	return OrderEvent{
		OrderID:            p.OrderID,
		BuyerID:            p.BuyerID,
		VendorID:           p.VendorID,
		Status:             p.Status,
		EstimatedReadyTime: p.EstimatedReadyTime,
	}, nil
}

// Alert is a one-time overdue notification for an order whose estimated
// ready time has passed without it going ready.
type Alert struct {
	OrderID string
}

// Reconciler folds the at-least-once order change stream into the banner
// state one buyer sees: a visible set of ready notices, a dismissed tray,
// and a once-only overdue alert per order. Duplicate deliveries fold into
// the same state. Dismissals and fired alerts persist through the KV so a
// session reload neither resurrects a dismissed banner nor re-alerts.
//
// Run is the single loop: events and the overdue tick are handled on it.
// Dismiss and Restore arrive from the UI thread and share the state under
// the mutex.
type Reconciler struct {
	buyerID string
	kv      KV
	clk     clock.Clock

	mu        sync.Mutex
	visible   map[string]OrderEvent
	dismissed map[string]OrderEvent
	etas      map[string]time.Time

	alerts chan Alert
}

func NewReconciler(buyerID string, kv KV, clk clock.Clock) *Reconciler {
	return &Reconciler{
		buyerID:   buyerID,
		kv:        kv,
		clk:       clk,
		visible:   make(map[string]OrderEvent),
		dismissed: make(map[string]OrderEvent),
		etas:      make(map[string]time.Time),
		alerts:    make(chan Alert, 16),
	}
}

// Alerts delivers overdue alerts. The channel is buffered; when the
// receiver falls behind, further alerts for other orders are dropped
// rather than blocking the loop (the persisted flag still records them
// as fired).
func (r *Reconciler) Alerts() <-chan Alert { return r.alerts }

// Run consumes events and drives the overdue watch until ctx ends.
func (r *Reconciler) Run(ctx context.Context, events <-chan OrderEvent, tickEvery time.Duration) {
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.Apply(ctx, ev); err != nil {
				log.Printf("notify apply: %v", err)
			}
		case <-ticker.C:
			if err := r.Tick(ctx, r.clk.Now()); err != nil {
				log.Printf("notify tick: %v", err)
			}
		}
	}
}

// Apply folds one stream event into the banner state. Safe to call with
// the same event any number of times.
func (r *Reconciler) Apply(ctx context.Context, ev OrderEvent) error {
	if r.buyerID != "" && ev.BuyerID != r.buyerID {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Status.Terminal() {
		delete(r.visible, ev.OrderID)
		delete(r.dismissed, ev.OrderID)
		delete(r.etas, ev.OrderID)
		if err := r.kv.Delete(ctx, redisx.KeyDismissed(r.buyerID, ev.OrderID)); err != nil {
			return err
		}
		return r.kv.Delete(ctx, redisx.KeyAlerted(r.buyerID, ev.OrderID))
	}

	if ev.EstimatedReadyTime != nil && ev.Status != fulfill.StatusReady {
		r.etas[ev.OrderID] = *ev.EstimatedReadyTime
	}

	if ev.Status == fulfill.StatusReady {
		delete(r.etas, ev.OrderID) // made it; no overdue alert
		if _, gone := r.dismissed[ev.OrderID]; gone {
			return nil
		}
		_, wasDismissed, err := r.kv.Get(ctx, redisx.KeyDismissed(r.buyerID, ev.OrderID))
		if err != nil {
			return err
		}
		if wasDismissed {
			r.dismissed[ev.OrderID] = ev
			return nil
		}
		r.visible[ev.OrderID] = ev
	}
	return nil
}

// Tick fires at most one overdue alert per order whose estimate has
// passed, guarded by the persisted flag.
func (r *Reconciler) Tick(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, eta := range r.etas {
		if !now.After(eta) {
			continue
		}
		// The entry is only dropped once the flag is durably persisted;
		// on a KV error it stays so the next tick retries the alert.
		_, fired, err := r.kv.Get(ctx, redisx.KeyAlerted(r.buyerID, id))
		if err != nil {
			return err
		}
		if fired {
			delete(r.etas, id)
			continue
		}
		if err := r.kv.Set(ctx, redisx.KeyAlerted(r.buyerID, id), "1", redisx.TTLNotifyState); err != nil {
			return err
		}
		delete(r.etas, id)
		select {
		case r.alerts <- Alert{OrderID: id}:
		default:
		}
	}
	return nil
}

// Dismiss moves a visible banner to the tray.
func (r *Reconciler) Dismiss(ctx context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.visible[orderID]
	if !ok {
		return nil
	}
	delete(r.visible, orderID)
	r.dismissed[orderID] = ev
	return r.kv.Set(ctx, redisx.KeyDismissed(r.buyerID, orderID), "1", redisx.TTLNotifyState)
}

// Restore surfaces a dismissed banner again.
func (r *Reconciler) Restore(ctx context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.dismissed[orderID]
	if !ok {
		return nil
	}
	delete(r.dismissed, orderID)
	r.visible[orderID] = ev
	return r.kv.Delete(ctx, redisx.KeyDismissed(r.buyerID, orderID))
}

// Visible returns the order ids with a surfaced ready banner, sorted for
// stable display.
func (r *Reconciler) Visible() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.visible))
	for id := range r.visible {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Dismissed returns the tray contents, sorted.
func (r *Reconciler) Dismissed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.dismissed))
	for id := range r.dismissed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
