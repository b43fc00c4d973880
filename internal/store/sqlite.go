package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradexec/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ FillStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)
var _ InconsistencyStore = (*SQLiteStore)(nil)

// SQLiteStore implements all audit stores backed by a single SQLite database.
// Decimal columns are stored as TEXT to keep exact values.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema migration, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			qty TEXT NOT NULL,
			limit_price TEXT NOT NULL,
			filled_qty TEXT NOT NULL,
			filled_avg_price TEXT NOT NULL,
			status TEXT NOT NULL,
			venue_ref TEXT NOT NULL DEFAULT '',
			revision INTEGER NOT NULL,
			idempotency_key TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE TABLE IF NOT EXISTS fills (
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			seq INTEGER NOT NULL,
			qty TEXT NOT NULL,
			price TEXT NOT NULL,
			ts INTEGER NOT NULL,
			PRIMARY KEY (order_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty TEXT NOT NULL,
			limit_price TEXT,
			source TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inconsistencies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			reason TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts a new order.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, symbol, side, type, qty, limit_price, filled_qty,
			filled_avg_price, status, venue_ref, revision, idempotency_key,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Symbol, string(o.Side), string(o.Type), o.Qty.String(),
		o.LimitPrice.String(), o.FilledQty.String(), o.FilledAvgPrice.String(),
		string(o.Status), o.VenueRef, o.Revision, o.IdempotencyKey,
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, side, type, qty, limit_price, filled_qty,
			filled_avg_price, status, venue_ref, revision, idempotency_key,
			created_at, updated_at
		FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", id, err)
	}
	return o, nil
}

// ListOrders returns orders matching the given status, newest first. An
// empty status returns everything.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	query := `
		SELECT id, symbol, side, type, qty, limit_price, filled_qty,
			filled_avg_price, status, venue_ref, revision, idempotency_key,
			created_at, updated_at
		FROM orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// UpdateOrder persists changes to an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET filled_qty = ?, filled_avg_price = ?, status = ?,
			venue_ref = ?, revision = ?, updated_at = ?
		WHERE id = ?`,
		o.FilledQty.String(), o.FilledAvgPrice.String(), string(o.Status),
		o.VenueRef, o.Revision, o.UpdatedAt.UnixMilli(), o.ID)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var side, otype, status string
	var qty, limitPrice, filledQty, filledAvg string
	var createdAt, updatedAt int64

	err := row.Scan(&o.ID, &o.Symbol, &side, &otype, &qty, &limitPrice,
		&filledQty, &filledAvg, &status, &o.VenueRef, &o.Revision,
		&o.IdempotencyKey, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	o.Side = domain.Side(side)
	o.Type = domain.OrderType(otype)
	o.Status = domain.OrderStatus(status)
	if o.Qty, err = decimal.NewFromString(qty); err != nil {
		return nil, err
	}
	if o.LimitPrice, err = decimal.NewFromString(limitPrice); err != nil {
		return nil, err
	}
	if o.FilledQty, err = decimal.NewFromString(filledQty); err != nil {
		return nil, err
	}
	if o.FilledAvgPrice, err = decimal.NewFromString(filledAvg); err != nil {
		return nil, err
	}
	o.CreatedAt = time.UnixMilli(createdAt)
	o.UpdatedAt = time.UnixMilli(updatedAt)
	return &o, nil
}

// ---------------------------------------------------------------------------
// FillStore implementation
// ---------------------------------------------------------------------------

// SaveFill appends a fill to the audit trail.
func (s *SQLiteStore) SaveFill(ctx context.Context, f *domain.Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, symbol, side, seq, qty, price, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.Symbol, string(f.Side), f.Seq, f.Qty.String(),
		f.Price.String(), f.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving fill %s/%d: %w", f.OrderID, f.Seq, err)
	}
	return nil
}

// ListFills returns fills for the given order in sequence order, or every
// fill when orderID is empty.
func (s *SQLiteStore) ListFills(ctx context.Context, orderID string) ([]domain.Fill, error) {
	query := `SELECT order_id, symbol, side, seq, qty, price, ts FROM fills`
	args := []any{}
	if orderID != "" {
		query += ` WHERE order_id = ?`
		args = append(args, orderID)
	}
	query += ` ORDER BY ts, order_id, seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side, qty, price string
		var ts int64
		if err := rows.Scan(&f.OrderID, &f.Symbol, &side, &f.Seq, &qty, &price, &ts); err != nil {
			return nil, fmt.Errorf("scanning fill: %w", err)
		}
		f.Side = domain.Side(side)
		if f.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		f.Timestamp = time.UnixMilli(ts)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal inserts a new signal.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	var limit any
	if sig.LimitPrice != nil {
		limit = sig.LimitPrice.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (symbol, side, qty, limit_price, source, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sig.Symbol, string(sig.Side), sig.Qty.String(), limit, sig.Source,
		sig.IdempotencyKey, sig.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving signal %s: %w", sig.IdempotencyKey, err)
	}
	return nil
}

// ListSignals returns the most recent signals, up to limit.
func (s *SQLiteStore) ListSignals(ctx context.Context, limit int) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, qty, limit_price, source, idempotency_key, created_at
		FROM signals ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var side, qty string
		var limitPrice sql.NullString
		var createdAt int64
		if err := rows.Scan(&sig.Symbol, &side, &qty, &limitPrice, &sig.Source,
			&sig.IdempotencyKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning signal: %w", err)
		}
		sig.Side = domain.Side(side)
		if sig.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if limitPrice.Valid {
			lp, err := decimal.NewFromString(limitPrice.String)
			if err != nil {
				return nil, err
			}
			sig.LimitPrice = &lp
		}
		sig.CreatedAt = time.UnixMilli(createdAt)
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// ---------------------------------------------------------------------------
// InconsistencyStore implementation
// ---------------------------------------------------------------------------

// SaveInconsistency records a rejected event.
func (s *SQLiteStore) SaveInconsistency(ctx context.Context, inc *domain.Inconsistency) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inconsistencies (order_id, seq, event_type, reason, ts)
		VALUES (?, ?, ?, ?, ?)`,
		inc.OrderID, inc.Seq, inc.EventType, inc.Reason, inc.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving inconsistency for %s: %w", inc.OrderID, err)
	}
	return nil
}

// ListInconsistencies returns the most recent records, up to limit.
func (s *SQLiteStore) ListInconsistencies(ctx context.Context, limit int) ([]domain.Inconsistency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, seq, event_type, reason, ts
		FROM inconsistencies ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing inconsistencies: %w", err)
	}
	defer rows.Close()

	var incs []domain.Inconsistency
	for rows.Next() {
		var inc domain.Inconsistency
		var ts int64
		if err := rows.Scan(&inc.OrderID, &inc.Seq, &inc.EventType, &inc.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scanning inconsistency: %w", err)
		}
		inc.Timestamp = time.UnixMilli(ts)
		incs = append(incs, inc)
	}
	return incs, rows.Err()
}
