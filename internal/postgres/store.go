package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rizalf/go-pickup-orders/internal/fulfill"
)

// Store implements fulfill.Store on Postgres. WithVendorLock opens a
// transaction and takes a vendor-keyed advisory lock, so the whole
// checkout critical section commits or rolls back as one unit; the
// transaction rides in ctx for the nested calls.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ fulfill.Store = (*Store)(nil)

type txKey struct{}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.pool.Exec(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.pool.QueryRow(ctx, sql, args...)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return s.pool.Query(ctx, sql, args...)
}

func (s *Store) WithVendorLock(ctx context.Context, vendorID string, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, vendorID); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("vendor lock: %w", err)
	}
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) VendorConfig(ctx context.Context, vendorID string) (fulfill.VendorConfig, error) {
	const q = `
SELECT id, vendor_type, order_limit, is_accepting_orders, is_open, stock_mode, timezone, eta_on_create
FROM vendors WHERE id = $1`

	var cfg fulfill.VendorConfig
	var vt, mode string
	err := s.queryRow(ctx, q, vendorID).Scan(
		&cfg.VendorID, &vt, &cfg.OrderLimit, &cfg.IsAcceptingOrders,
		&cfg.IsOpen, &mode, &cfg.Timezone, &cfg.EtaOnCreate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fulfill.VendorConfig{}, fulfill.ErrVendorNotFound
		}
		return fulfill.VendorConfig{}, fmt.Errorf("vendor config: %w", err)
	}
	cfg.VendorType = fulfill.VendorType(vt)
	cfg.StockMode = fulfill.StockMode(mode)
	return cfg, nil
}

func (s *Store) MenuItems(ctx context.Context, vendorID string, itemIDs []string) ([]fulfill.MenuItem, error) {
	const q = `
SELECT id, vendor_id, name, price_cents, prep_minutes
FROM menu_items WHERE vendor_id = $1 AND id = ANY($2)`

	rows, err := s.query(ctx, q, vendorID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("menu items: %w", err)
	}
	defer rows.Close()

	var out []fulfill.MenuItem
	for rows.Next() {
		var mi fulfill.MenuItem
		if err := rows.Scan(&mi.ID, &mi.VendorID, &mi.Name, &mi.PriceCents, &mi.PrepMinutes); err != nil {
			return nil, err
		}
		out = append(out, mi)
	}
	return out, rows.Err()
}

func activeStatuses() []string {
	return []string{
		string(fulfill.StatusPending),
		string(fulfill.StatusAccepted),
		string(fulfill.StatusConfirmed),
		string(fulfill.StatusPreparing),
	}
}

func openStatuses() []string {
	return append(activeStatuses(), string(fulfill.StatusReady))
}

func (s *Store) CountActiveOrders(ctx context.Context, vendorID string) (int, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE vendor_id = $1 AND status = ANY($2)`,
		vendorID, activeStatuses(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active orders: %w", err)
	}
	return n, nil
}

func (s *Store) NextSequenceNo(ctx context.Context, vendorID, day string) (int, error) {
	const q = `
INSERT INTO vendor_sequences (vendor_id, day, last_no)
VALUES ($1, $2, 1)
ON CONFLICT (vendor_id, day)
DO UPDATE SET last_no = vendor_sequences.last_no + 1
RETURNING last_no`

	var n int
	if err := s.queryRow(ctx, q, vendorID, day).Scan(&n); err != nil {
		return 0, fmt.Errorf("next sequence no: %w", err)
	}
	return n, nil
}

func (s *Store) OpenCodeExists(ctx context.Context, vendorID, code string) (bool, error) {
	var exists bool
	err := s.queryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE vendor_id = $1 AND pickup_code = $2 AND status = ANY($3))`,
		vendorID, code, openStatuses(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("open code exists: %w", err)
	}
	return exists, nil
}

func (s *Store) StockEntry(ctx context.Context, vendorID, itemID, day string) (fulfill.StockEntry, error) {
	const q = `
SELECT vendor_id, menu_item_id, to_char(day, 'YYYY-MM-DD'), total_quantity, remaining_quantity
FROM daily_stock WHERE vendor_id = $1 AND menu_item_id = $2 AND day = $3`

	var e fulfill.StockEntry
	err := s.queryRow(ctx, q, vendorID, itemID, day).Scan(
		&e.VendorID, &e.MenuItemID, &e.Day, &e.TotalQuantity, &e.RemainingQuantity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fulfill.StockEntry{}, fulfill.ErrItemUnavailable
		}
		return fulfill.StockEntry{}, fmt.Errorf("stock entry: %w", err)
	}
	return e, nil
}

func (s *Store) UpsertStock(ctx context.Context, entry fulfill.StockEntry) error {
	const q = `
INSERT INTO daily_stock (vendor_id, menu_item_id, day, total_quantity, remaining_quantity)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (vendor_id, menu_item_id, day)
DO UPDATE SET total_quantity = EXCLUDED.total_quantity,
              remaining_quantity = EXCLUDED.remaining_quantity`

	_, err := s.exec(ctx, q, entry.VendorID, entry.MenuItemID, entry.Day, entry.TotalQuantity, entry.RemainingQuantity)
	if err != nil {
		return fmt.Errorf("upsert stock: %w", err)
	}
	return nil
}

// ReserveStock is one conditional UPDATE: the decrement only happens when
// enough remains, so no second caller ever observes an intermediate state.
func (s *Store) ReserveStock(ctx context.Context, vendorID, itemID, day string, qty int) (int, error) {
	const q = `
UPDATE daily_stock
SET remaining_quantity = remaining_quantity - $4
WHERE vendor_id = $1 AND menu_item_id = $2 AND day = $3 AND remaining_quantity >= $4
RETURNING remaining_quantity`

	var remaining int
	err := s.queryRow(ctx, q, vendorID, itemID, day, qty).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("reserve stock: %w", err)
	}
	// Distinguish a missing ledger row from one that is short.
	entry, lookupErr := s.StockEntry(ctx, vendorID, itemID, day)
	if lookupErr != nil {
		return 0, lookupErr
	}
	return entry.RemainingQuantity, fulfill.ErrInsufficientStock
}

func (s *Store) ReleaseStock(ctx context.Context, vendorID, itemID, day string, qty int) (int, error) {
	const q = `
UPDATE daily_stock
SET remaining_quantity = LEAST(total_quantity, remaining_quantity + $4)
WHERE vendor_id = $1 AND menu_item_id = $2 AND day = $3
RETURNING remaining_quantity`

	var remaining int
	err := s.queryRow(ctx, q, vendorID, itemID, day, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fulfill.ErrItemUnavailable
		}
		return 0, fmt.Errorf("release stock: %w", err)
	}
	return remaining, nil
}

func (s *Store) InsertOrder(ctx context.Context, o fulfill.Order, items []fulfill.OrderLineItem) error {
	const q = `
INSERT INTO orders (id, vendor_id, buyer_id, status, payment_status, pickup_code,
                    qr_token, qr_used, estimated_ready_time, order_no, total_cents, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.exec(ctx, q,
		o.ID, o.VendorID, o.BuyerID, string(o.Status), string(o.PaymentStatus), o.PickupCode,
		o.RedemptionToken, o.TokenUsed, o.EstimatedReadyTime, o.SequenceNo, o.TotalCents, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	for _, li := range items {
		_, err := s.exec(ctx,
			`INSERT INTO order_items (order_id, menu_item_id, name, price_cents, quantity) VALUES ($1, $2, $3, $4, $5)`,
			li.OrderID, li.MenuItemID, li.Name, li.PriceCents, li.Quantity,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

const orderColumns = `id, vendor_id, buyer_id, status, payment_status, pickup_code,
       COALESCE(qr_token, ''), qr_used, estimated_ready_time, order_no, total_cents, created_at`

func (s *Store) scanOrder(row pgx.Row) (fulfill.Order, error) {
	var o fulfill.Order
	var status, payment string
	err := row.Scan(
		&o.ID, &o.VendorID, &o.BuyerID, &status, &payment, &o.PickupCode,
		&o.RedemptionToken, &o.TokenUsed, &o.EstimatedReadyTime, &o.SequenceNo, &o.TotalCents, &o.CreatedAt,
	)
	if err != nil {
		return fulfill.Order{}, err
	}
	o.Status = fulfill.Status(status)
	o.PaymentStatus = fulfill.PaymentStatus(payment)
	return o, nil
}

func (s *Store) Order(ctx context.Context, orderID string) (fulfill.Order, error) {
	o, err := s.scanOrder(s.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fulfill.Order{}, fulfill.ErrOrderNotFound
		}
		return fulfill.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *Store) OrderByToken(ctx context.Context, token string) (fulfill.Order, error) {
	o, err := s.scanOrder(s.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE qr_token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fulfill.Order{}, fulfill.ErrOrderNotFound
		}
		return fulfill.Order{}, fmt.Errorf("order by token: %w", err)
	}
	return o, nil
}

func (s *Store) ReadyOrderByCode(ctx context.Context, vendorID, code string) (fulfill.Order, error) {
	o, err := s.scanOrder(s.queryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE vendor_id = $1 AND pickup_code = $2 AND status = $3`,
		vendorID, code, string(fulfill.StatusReady),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fulfill.Order{}, fulfill.ErrOrderNotFound
		}
		return fulfill.Order{}, fmt.Errorf("ready order by code: %w", err)
	}
	return o, nil
}

func (s *Store) OrderItems(ctx context.Context, orderID string) ([]fulfill.OrderLineItem, error) {
	rows, err := s.query(ctx,
		`SELECT order_id, menu_item_id, name, price_cents, quantity FROM order_items WHERE order_id = $1`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("order items: %w", err)
	}
	defer rows.Close()

	var out []fulfill.OrderLineItem
	for rows.Next() {
		var li fulfill.OrderLineItem
		if err := rows.Scan(&li.OrderID, &li.MenuItemID, &li.Name, &li.PriceCents, &li.Quantity); err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

func (s *Store) TransitionOrder(ctx context.Context, orderID string, from, to fulfill.Status, eta *time.Time) (fulfill.Order, error) {
	const q = `
UPDATE orders
SET status = $3, estimated_ready_time = COALESCE($4, estimated_ready_time)
WHERE id = $1 AND status = $2
RETURNING ` + orderColumns

	o, err := s.scanOrder(s.queryRow(ctx, q, orderID, string(from), string(to), eta))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fulfill.Order{}, fmt.Errorf("transition order: %w", err)
	}
	// CAS missed: report against the status actually persisted right now.
	cur, lookupErr := s.Order(ctx, orderID)
	if lookupErr != nil {
		return fulfill.Order{}, lookupErr
	}
	return fulfill.Order{}, &fulfill.InvalidTransitionError{From: cur.Status, To: to}
}

// CompleteOrder flips status and token consumption in one statement, so
// two concurrent redemptions can never both see a ready row.
func (s *Store) CompleteOrder(ctx context.Context, orderID string) (fulfill.Order, error) {
	const q = `
UPDATE orders
SET status = $2, qr_used = TRUE
WHERE id = $1 AND status = $3
RETURNING ` + orderColumns

	o, err := s.scanOrder(s.queryRow(ctx, q, orderID, string(fulfill.StatusCompleted), string(fulfill.StatusReady)))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fulfill.Order{}, fmt.Errorf("complete order: %w", err)
	}
	if _, lookupErr := s.Order(ctx, orderID); lookupErr != nil {
		return fulfill.Order{}, lookupErr
	}
	return fulfill.Order{}, fulfill.ErrOrderNotReady
}
