package fulfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rizalf/go-pickup-orders/internal/clock"
)

// Service is the fulfillment engine: admission control, stock
// reservation, the order lifecycle and exactly-once redemption, all
// executed through the Store's atomic primitives.
type Service struct {
	store    Store
	clock    clock.Clock
	sink     EventSink
	producer string
}

func NewService(store Store, clk clock.Clock, sink EventSink, producer string) *Service {
	return &Service{store: store, clock: clk, sink: sink, producer: producer}
}

type CheckoutItem struct {
	MenuItemID string
	Quantity   int
}

type CheckoutInput struct {
	VendorID string
	BuyerID  string
	Items    []CheckoutItem
}

const maxCodeAttempts = 50

// Checkout admits, reserves and creates an order as one unit inside the
// vendor's critical section. On any failure after partial reservation the
// reserved stock is released before the error is returned — checkout is
// all-or-nothing, no Order row exists on error.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (Order, error) {
	if len(in.Items) == 0 {
		return Order{}, ErrNoItems
	}
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return Order{}, ErrInvalidQty
		}
	}

	var created Order
	err := s.store.WithVendorLock(ctx, in.VendorID, func(ctx context.Context) error {
		cfg, err := s.store.VendorConfig(ctx, in.VendorID)
		if err != nil {
			return err
		}
		if !cfg.IsOpen {
			return ErrVendorClosed
		}
		if !cfg.IsAcceptingOrders {
			return ErrNotAccepting
		}
		active, err := s.store.CountActiveOrders(ctx, in.VendorID)
		if err != nil {
			return err
		}
		if cfg.OrderLimit != nil && active >= *cfg.OrderLimit {
			return ErrLimitReached
		}

		now := s.clock.Now()
		loc := cfg.Location()
		day := DayKey(now, loc)

		menu, err := s.menuByID(ctx, in.VendorID, in.Items)
		if err != nil {
			return err
		}

		var reserved []CheckoutItem
		undo := func() { s.releaseAll(ctx, in.VendorID, day, reserved) }
		if cfg.StockMode == StockModeDaily {
			for _, it := range in.Items {
				if _, err := s.store.ReserveStock(ctx, in.VendorID, it.MenuItemID, day, it.Quantity); err != nil {
					undo()
					return err
				}
				reserved = append(reserved, it)
			}
		}

		seq, err := s.store.NextSequenceNo(ctx, in.VendorID, day)
		if err != nil {
			undo()
			return err
		}
		code, err := s.uniqueCode(ctx, in.VendorID)
		if err != nil {
			undo()
			return err
		}

		order := Order{
			ID:              uuid.NewString(),
			VendorID:        in.VendorID,
			BuyerID:         in.BuyerID,
			Status:          StatusPending,
			PaymentStatus:   PaymentPaid, // checkout runs only after the payment collaborator confirms
			PickupCode:      code,
			RedemptionToken: NewRedemptionToken(),
			SequenceNo:      seq,
			CreatedAt:       now,
		}
		lines := make([]OrderLineItem, 0, len(in.Items))
		for _, it := range in.Items {
			mi := menu[it.MenuItemID]
			order.TotalCents += mi.PriceCents * it.Quantity
			lines = append(lines, OrderLineItem{
				OrderID:    order.ID,
				MenuItemID: mi.ID,
				Name:       mi.Name,
				PriceCents: mi.PriceCents,
				Quantity:   it.Quantity,
			})
		}
		if cfg.EtaOnCreate {
			eta := EstimateReady(now, loc, prepTimes(menu, in.Items), active)
			order.EstimatedReadyTime = &eta
		}

		if err := s.store.InsertOrder(ctx, order, lines); err != nil {
			undo()
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.publish(ctx, EventOrderCreated, created, "")
	return created, nil
}

// Accept moves a pending order into the vendor's accepted stage and, for
// vendors that defer estimation, computes and stores the ready-time
// estimate from the order's items and the queue depth at this moment.
func (s *Service) Accept(ctx context.Context, orderID string) (Order, error) {
	o, err := s.store.Order(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	cfg, err := s.store.VendorConfig(ctx, o.VendorID)
	if err != nil {
		return Order{}, err
	}

	var updated Order
	err = s.store.WithVendorLock(ctx, o.VendorID, func(ctx context.Context) error {
		var eta *time.Time
		if !cfg.EtaOnCreate {
			items, err := s.store.OrderItems(ctx, orderID)
			if err != nil {
				return err
			}
			checkout := make([]CheckoutItem, 0, len(items))
			for _, li := range items {
				checkout = append(checkout, CheckoutItem{MenuItemID: li.MenuItemID, Quantity: li.Quantity})
			}
			menu, err := s.menuByID(ctx, o.VendorID, checkout)
			if err != nil {
				return err
			}
			active, err := s.store.CountActiveOrders(ctx, o.VendorID)
			if err != nil {
				return err
			}
			t := EstimateReady(s.clock.Now(), cfg.Location(), prepTimes(menu, checkout), active)
			eta = &t
		}
		updated, err = s.transitionOrder(ctx, cfg.VendorType, orderID, StatusPending, AcceptedStatus(cfg.VendorType), eta)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	s.publish(ctx, EventOrderAccepted, updated, "")
	return updated, nil
}

// Reject terminates a pending order and releases any stock it reserved.
func (s *Service) Reject(ctx context.Context, orderID, reason string) (Order, error) {
	o, err := s.store.Order(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	cfg, err := s.store.VendorConfig(ctx, o.VendorID)
	if err != nil {
		return Order{}, err
	}

	var updated Order
	err = s.store.WithVendorLock(ctx, o.VendorID, func(ctx context.Context) error {
		updated, err = s.transitionOrder(ctx, cfg.VendorType, orderID, StatusPending, RejectedStatus(cfg.VendorType), nil)
		if err != nil {
			return err
		}
		if cfg.StockMode != StockModeDaily {
			return nil
		}
		// Release is best-effort once the order is terminal: a failure here
		// must not unwind the rejection, or the two store implementations
		// would diverge on whether the order stays rejected.
		items, err := s.store.OrderItems(ctx, orderID)
		if err != nil {
			log.Printf("release stock after reject %s: %v", orderID, err)
			return nil
		}
		day := DayKey(o.CreatedAt, cfg.Location())
		for _, li := range items {
			if _, err := s.store.ReleaseStock(ctx, o.VendorID, li.MenuItemID, day, li.Quantity); err != nil {
				log.Printf("release stock after reject %s item %s: %v", orderID, li.MenuItemID, err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.publish(ctx, EventOrderRejected, updated, reason)
	return updated, nil
}

// StartPreparing advances a shop-style order from confirmed to preparing.
func (s *Service) StartPreparing(ctx context.Context, orderID string) (Order, error) {
	o, err := s.store.Order(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	cfg, err := s.store.VendorConfig(ctx, o.VendorID)
	if err != nil {
		return Order{}, err
	}
	updated, err := s.transitionOrder(ctx, cfg.VendorType, orderID, StatusConfirmed, StatusPreparing, nil)
	if err != nil {
		return Order{}, err
	}
	s.publish(ctx, EventOrderPreparing, updated, "")
	return updated, nil
}

// MarkReady moves an order into ready, the precondition for redemption.
func (s *Service) MarkReady(ctx context.Context, orderID string) (Order, error) {
	o, err := s.store.Order(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	cfg, err := s.store.VendorConfig(ctx, o.VendorID)
	if err != nil {
		return Order{}, err
	}
	updated, err := s.transitionOrder(ctx, cfg.VendorType, orderID, ReadyFrom(cfg.VendorType), StatusReady, nil)
	if err != nil {
		return Order{}, err
	}
	s.publish(ctx, EventOrderReady, updated, "")
	return updated, nil
}

// RedeemByCode completes the unique ready order carrying this vendor's
// code. After completion the code no longer matches, so a second attempt
// observes ErrOrderNotFound.
func (s *Service) RedeemByCode(ctx context.Context, vendorID, code string) (Order, error) {
	o, err := s.store.ReadyOrderByCode(ctx, vendorID, code)
	if err != nil {
		return Order{}, err
	}
	done, err := s.store.CompleteOrder(ctx, o.ID)
	if err != nil {
		if !errors.Is(err, ErrOrderNotReady) {
			return Order{}, err
		}
		// Lost the race to a concurrent redemption: the order is no
		// longer ready, so for the code credential it no longer exists.
		return Order{}, ErrOrderNotFound
	}
	s.publish(ctx, EventOrderCompleted, done, "")
	return done, nil
}

// RedeemByToken completes the order owning this token exactly once. Of any
// set of concurrent attempts, by either credential, exactly one succeeds;
// the rest observe the post-completion state.
func (s *Service) RedeemByToken(ctx context.Context, vendorID, token string) (Order, error) {
	o, err := s.store.OrderByToken(ctx, token)
	if err != nil {
		return Order{}, err
	}
	if o.VendorID != vendorID {
		return Order{}, ErrOrderNotFound
	}
	if o.TokenUsed {
		return Order{}, ErrTokenAlreadyUsed
	}
	if o.Status != StatusReady {
		return Order{}, ErrOrderNotReady
	}
	done, err := s.store.CompleteOrder(ctx, o.ID)
	if err != nil {
		if !errors.Is(err, ErrOrderNotReady) {
			return Order{}, err
		}
		// Re-read and classify: a concurrent winner completed the order
		// and consumed the token between our read and the CAS.
		cur, rerr := s.store.OrderByToken(ctx, token)
		if rerr != nil {
			return Order{}, rerr
		}
		if cur.TokenUsed {
			return Order{}, ErrTokenAlreadyUsed
		}
		return Order{}, ErrOrderNotReady
	}
	s.publish(ctx, EventOrderCompleted, done, "")
	return done, nil
}

// CanVendorAccept runs the advisory admission check: nil means one more
// order would currently be admitted. Checkout re-verifies this inside the
// vendor critical section; a prior read alone is never trusted.
func (s *Service) CanVendorAccept(ctx context.Context, vendorID string) error {
	cfg, err := s.store.VendorConfig(ctx, vendorID)
	if err != nil {
		return err
	}
	if !cfg.IsOpen {
		return ErrVendorClosed
	}
	if !cfg.IsAcceptingOrders {
		return ErrNotAccepting
	}
	if cfg.OrderLimit == nil {
		return nil
	}
	active, err := s.store.CountActiveOrders(ctx, vendorID)
	if err != nil {
		return err
	}
	if active >= *cfg.OrderLimit {
		return ErrLimitReached
	}
	return nil
}

func (s *Service) ActiveOrderCount(ctx context.Context, vendorID string) (int, error) {
	return s.store.CountActiveOrders(ctx, vendorID)
}

// NextSequenceNo allocates the next display number for the vendor's
// current local day.
func (s *Service) NextSequenceNo(ctx context.Context, vendorID string) (int, error) {
	cfg, err := s.store.VendorConfig(ctx, vendorID)
	if err != nil {
		return 0, err
	}
	var seq int
	err = s.store.WithVendorLock(ctx, vendorID, func(ctx context.Context) error {
		seq, err = s.store.NextSequenceNo(ctx, vendorID, DayKey(s.clock.Now(), cfg.Location()))
		return err
	})
	return seq, err
}

// EstimateEta computes a fresh estimate for the given items as of now.
func (s *Service) EstimateEta(ctx context.Context, vendorID string, itemIDs []string) (time.Time, error) {
	cfg, err := s.store.VendorConfig(ctx, vendorID)
	if err != nil {
		return time.Time{}, err
	}
	checkout := make([]CheckoutItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		checkout = append(checkout, CheckoutItem{MenuItemID: id, Quantity: 1})
	}
	menu, err := s.menuByID(ctx, vendorID, checkout)
	if err != nil {
		return time.Time{}, err
	}
	active, err := s.store.CountActiveOrders(ctx, vendorID)
	if err != nil {
		return time.Time{}, err
	}
	return EstimateReady(s.clock.Now(), cfg.Location(), prepTimes(menu, checkout), active), nil
}

// Availability is the buyer-facing stock answer for one item today.
type Availability struct {
	Available bool
	Remaining *int
	Reason    string
}

func (s *Service) CheckItemAvailability(ctx context.Context, vendorID, itemID string) (Availability, error) {
	cfg, err := s.store.VendorConfig(ctx, vendorID)
	if err != nil {
		return Availability{}, err
	}
	if cfg.StockMode != StockModeDaily {
		return Availability{Available: true}, nil
	}
	day := DayKey(s.clock.Now(), cfg.Location())
	entry, err := s.store.StockEntry(ctx, vendorID, itemID, day)
	if err != nil {
		if errors.Is(err, ErrItemUnavailable) {
			return Availability{Available: false, Reason: "unavailable"}, nil
		}
		return Availability{}, err
	}
	remaining := entry.RemainingQuantity
	if entry.SoldOut() {
		return Availability{Available: false, Remaining: &remaining, Reason: "sold_out"}, nil
	}
	return Availability{Available: true, Remaining: &remaining}, nil
}

// ReduceDailyStock is the standalone atomic decrement exposed to the
// vendor console; checkout performs its own reservations inside the
// vendor critical section.
func (s *Service) ReduceDailyStock(ctx context.Context, vendorID, itemID string, qty int) (int, error) {
	if qty < 1 {
		return 0, ErrInvalidQty
	}
	cfg, err := s.store.VendorConfig(ctx, vendorID)
	if err != nil {
		return 0, err
	}
	return s.store.ReserveStock(ctx, vendorID, itemID, DayKey(s.clock.Now(), cfg.Location()), qty)
}

// SetDailyStock is the vendor's daily ledger setup for one item.
func (s *Service) SetDailyStock(ctx context.Context, vendorID, itemID string, total int) error {
	if total < 0 {
		return ErrInvalidQty
	}
	cfg, err := s.store.VendorConfig(ctx, vendorID)
	if err != nil {
		return err
	}
	return s.store.UpsertStock(ctx, StockEntry{
		VendorID:          vendorID,
		MenuItemID:        itemID,
		Day:               DayKey(s.clock.Now(), cfg.Location()),
		TotalQuantity:     total,
		RemainingQuantity: total,
	})
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return s.store.Order(ctx, orderID)
}

// GenerateRedemptionToken mints a fresh opaque credential.
func (s *Service) GenerateRedemptionToken() string {
	return NewRedemptionToken()
}

// transitionOrder validates the edge against the vendor type's lifecycle
// graph before handing it to the store's CAS, so every transition site
// enforces the same graph.
func (s *Service) transitionOrder(ctx context.Context, vt VendorType, orderID string, from, to Status, eta *time.Time) (Order, error) {
	if !CanTransition(vt, from, to) {
		return Order{}, &InvalidTransitionError{From: from, To: to}
	}
	return s.store.TransitionOrder(ctx, orderID, from, to, eta)
}

func (s *Service) menuByID(ctx context.Context, vendorID string, items []CheckoutItem) (map[string]MenuItem, error) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.MenuItemID)
	}
	found, err := s.store.MenuItems(ctx, vendorID, ids)
	if err != nil {
		return nil, err
	}
	menu := make(map[string]MenuItem, len(found))
	for _, mi := range found {
		menu[mi.ID] = mi
	}
	for _, it := range items {
		if _, ok := menu[it.MenuItemID]; !ok {
			return nil, fmt.Errorf("menu item %s: %w", it.MenuItemID, ErrItemUnavailable)
		}
	}
	return menu, nil
}

func (s *Service) uniqueCode(ctx context.Context, vendorID string) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := NewPickupCode()
		exists, err := s.store.OpenCodeExists(ctx, vendorID, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique pickup code for vendor %s", vendorID)
}

func (s *Service) releaseAll(ctx context.Context, vendorID, day string, reserved []CheckoutItem) {
	for _, it := range reserved {
		_, _ = s.store.ReleaseStock(ctx, vendorID, it.MenuItemID, day, it.Quantity)
	}
}

func prepTimes(menu map[string]MenuItem, items []CheckoutItem) []int {
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, menu[it.MenuItemID].PrepMinutes)
	}
	return out
}

func (s *Service) publish(ctx context.Context, eventType string, o Order, reason string) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(ctx, Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.clock.Now().UTC(),
		Producer:      s.producer,
		CorrelationID: o.ID,
		Payload: mustMarshal(OrderEventPayload{
			OrderID:            o.ID,
			VendorID:           o.VendorID,
			BuyerID:            o.BuyerID,
			Status:             o.Status,
			SequenceNo:         o.SequenceNo,
			PickupCode:         o.PickupCode,
			EstimatedReadyTime: o.EstimatedReadyTime,
			Reason:             reason,
		}),
	})
}
