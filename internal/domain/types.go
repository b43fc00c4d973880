// Package domain defines the core types of the execution engine: signals,
// orders, fills, positions, and the venue event vocabulary shared across
// packages.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a signal or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether the side is one of the known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType distinguishes market orders from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Signal is an intent to trade received from outside the engine. It is
// immutable once accepted; the engine derives exactly one Order from it.
type Signal struct {
	Symbol         string
	Side           Side
	Qty            decimal.Decimal
	LimitPrice     *decimal.Decimal // nil for market execution
	Source         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Fill is a venue-confirmed (partial or full) execution of an order.
// Fills are append-only: once recorded they are never modified or deleted.
type Fill struct {
	OrderID   string
	Symbol    string
	Side      Side
	Seq       int64
	Qty       decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
}

// Notional returns the unsigned cash value of the fill (qty * price).
func (f Fill) Notional() decimal.Decimal {
	return f.Qty.Mul(f.Price)
}

// Position is the net holding for one symbol. Qty is negative for short
// positions. AvgCost is the volume-weighted average entry price of the open
// quantity; RealizedPnL accumulates profit booked on reductions and flips.
type Position struct {
	Symbol      string
	Qty         decimal.Decimal
	AvgCost     decimal.Decimal
	RealizedPnL decimal.Decimal
}

// Flat reports whether the position holds no quantity.
func (p Position) Flat() bool {
	return p.Qty.IsZero()
}

// Portfolio is a point-in-time snapshot of cash and all positions.
type Portfolio struct {
	Cash      decimal.Decimal
	Positions map[string]Position
	UpdatedAt time.Time
}

// Inconsistency records an event the engine refused to apply: an illegal
// state transition, an overfill, or a sequence gap that never closed. These
// are surfaced to operators separately from normal order updates.
type Inconsistency struct {
	OrderID   string
	Seq       int64
	EventType string
	Reason    string
	Timestamp time.Time
}
