// Package memstore is a mutex-based implementation of the fulfill.Store
// port. It backs the test suite and local runs without Postgres while
// honoring the same atomicity contract: every method is atomic, and
// WithVendorLock serializes critical sections per vendor.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/rizalf/go-pickup-orders/internal/fulfill"
)

var _ fulfill.Store = (*Store)(nil)

type stockKey struct {
	vendorID string
	itemID   string
	day      string
}

type seqKey struct {
	vendorID string
	day      string
}

type Store struct {
	mu      sync.Mutex
	vendors map[string]fulfill.VendorConfig
	menu    map[string]fulfill.MenuItem
	stock   map[stockKey]*fulfill.StockEntry
	orders  map[string]*fulfill.Order
	items   map[string][]fulfill.OrderLineItem
	seq     map[seqKey]int

	lockMu      sync.Mutex
	vendorLocks map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		vendors:     make(map[string]fulfill.VendorConfig),
		menu:        make(map[string]fulfill.MenuItem),
		stock:       make(map[stockKey]*fulfill.StockEntry),
		orders:      make(map[string]*fulfill.Order),
		items:       make(map[string][]fulfill.OrderLineItem),
		seq:         make(map[seqKey]int),
		vendorLocks: make(map[string]*sync.Mutex),
	}
}

// SeedVendor registers a vendor config; the console owns this data in
// production.
func (s *Store) SeedVendor(cfg fulfill.VendorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[cfg.VendorID] = cfg
}

func (s *Store) SeedMenuItem(mi fulfill.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menu[mi.ID] = mi
}

func (s *Store) vendorLock(vendorID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	m, ok := s.vendorLocks[vendorID]
	if !ok {
		m = &sync.Mutex{}
		s.vendorLocks[vendorID] = m
	}
	return m
}

func (s *Store) WithVendorLock(ctx context.Context, vendorID string, fn func(ctx context.Context) error) error {
	m := s.vendorLock(vendorID)
	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

func (s *Store) VendorConfig(ctx context.Context, vendorID string) (fulfill.VendorConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.vendors[vendorID]
	if !ok {
		return fulfill.VendorConfig{}, fulfill.ErrVendorNotFound
	}
	return cfg, nil
}

func (s *Store) MenuItems(ctx context.Context, vendorID string, itemIDs []string) ([]fulfill.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fulfill.MenuItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		if mi, ok := s.menu[id]; ok && mi.VendorID == vendorID {
			out = append(out, mi)
		}
	}
	return out, nil
}

func (s *Store) CountActiveOrders(ctx context.Context, vendorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if o.VendorID == vendorID && o.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (s *Store) NextSequenceNo(ctx context.Context, vendorID, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seqKey{vendorID, day}
	s.seq[k]++
	return s.seq[k], nil
}

func (s *Store) OpenCodeExists(ctx context.Context, vendorID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.VendorID == vendorID && o.PickupCode == code && o.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) StockEntry(ctx context.Context, vendorID, itemID, day string) (fulfill.StockEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.stock[stockKey{vendorID, itemID, day}]
	if !ok {
		return fulfill.StockEntry{}, fulfill.ErrItemUnavailable
	}
	return *e, nil
}

func (s *Store) UpsertStock(ctx context.Context, entry fulfill.StockEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry
	s.stock[stockKey{entry.VendorID, entry.MenuItemID, entry.Day}] = &e
	return nil
}

func (s *Store) ReserveStock(ctx context.Context, vendorID, itemID, day string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.stock[stockKey{vendorID, itemID, day}]
	if !ok {
		return 0, fulfill.ErrItemUnavailable
	}
	if e.RemainingQuantity < qty {
		return e.RemainingQuantity, fulfill.ErrInsufficientStock
	}
	e.RemainingQuantity -= qty
	return e.RemainingQuantity, nil
}

func (s *Store) ReleaseStock(ctx context.Context, vendorID, itemID, day string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.stock[stockKey{vendorID, itemID, day}]
	if !ok {
		return 0, fulfill.ErrItemUnavailable
	}
	e.RemainingQuantity += qty
	if e.RemainingQuantity > e.TotalQuantity {
		e.RemainingQuantity = e.TotalQuantity
	}
	return e.RemainingQuantity, nil
}

func (s *Store) InsertOrder(ctx context.Context, o fulfill.Order, items []fulfill.OrderLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := o
	s.orders[o.ID] = &cp
	s.items[o.ID] = append([]fulfill.OrderLineItem(nil), items...)
	return nil
}

func (s *Store) Order(ctx context.Context, orderID string) (fulfill.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fulfill.Order{}, fulfill.ErrOrderNotFound
	}
	return *o, nil
}

func (s *Store) OrderByToken(ctx context.Context, token string) (fulfill.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.RedemptionToken == token {
			return *o, nil
		}
	}
	return fulfill.Order{}, fulfill.ErrOrderNotFound
}

func (s *Store) ReadyOrderByCode(ctx context.Context, vendorID, code string) (fulfill.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.VendorID == vendorID && o.PickupCode == code && o.Status == fulfill.StatusReady {
			return *o, nil
		}
	}
	return fulfill.Order{}, fulfill.ErrOrderNotFound
}

func (s *Store) OrderItems(ctx context.Context, orderID string) ([]fulfill.OrderLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.items[orderID]
	if !ok {
		return nil, fulfill.ErrOrderNotFound
	}
	return append([]fulfill.OrderLineItem(nil), items...), nil
}

func (s *Store) TransitionOrder(ctx context.Context, orderID string, from, to fulfill.Status, eta *time.Time) (fulfill.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fulfill.Order{}, fulfill.ErrOrderNotFound
	}
	if o.Status != from {
		return fulfill.Order{}, &fulfill.InvalidTransitionError{From: o.Status, To: to}
	}
	o.Status = to
	if eta != nil {
		t := *eta
		o.EstimatedReadyTime = &t
	}
	return *o, nil
}

func (s *Store) CompleteOrder(ctx context.Context, orderID string) (fulfill.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fulfill.Order{}, fulfill.ErrOrderNotFound
	}
	if o.Status != fulfill.StatusReady {
		return fulfill.Order{}, fulfill.ErrOrderNotReady
	}
	o.Status = fulfill.StatusCompleted
	o.TokenUsed = true
	return *o, nil
}
