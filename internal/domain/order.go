package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"          // created, not yet handed to the venue
	OrderStatusSubmitted       OrderStatus = "submitted"        // at the venue, awaiting fills
	OrderStatusPartiallyFilled OrderStatus = "partially_filled" // some quantity executed
	OrderStatusFilled          OrderStatus = "filled"           // terminal
	OrderStatusRejected        OrderStatus = "rejected"         // terminal
	OrderStatusCancelled       OrderStatus = "cancelled"        // terminal
	OrderStatusFailed          OrderStatus = "failed"           // terminal, submission retries exhausted
)

// Terminal reports whether no further transitions are possible from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// legalEdges is the full transition table. Anything not listed here is an
// illegal transition and must be rejected.
var legalEdges = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusSubmitted, OrderStatusFailed},
	OrderStatusSubmitted:       {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled},
}

// CanTransitionTo reports whether the edge s -> next is legal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, t := range legalEdges[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Order is the engine's tracked request to a venue, derived from exactly one
// Signal. All mutation goes through Transition and ApplyFill, which enforce
// the lifecycle edges and bump the revision counter.
type Order struct {
	ID             string
	Symbol         string
	Side           Side
	Type           OrderType
	Qty            decimal.Decimal
	LimitPrice     decimal.Decimal // zero for market orders
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	Status         OrderStatus
	VenueRef       string // venue-assigned reference, empty until acknowledged
	Revision       int64
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RemainingQty returns the unfilled quantity.
func (o *Order) RemainingQty() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

// Transition moves the order from expected to next. The expected state is the
// caller's view of the current state; a mismatch means the event was built
// against a stale revision and is rejected (optimistic concurrency).
func (o *Order) Transition(expected, next OrderStatus, now time.Time) error {
	if o.Status != expected {
		return fmt.Errorf("%w: order %s is %s, event expected %s", ErrInvalidState, o.ID, o.Status, expected)
	}
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: order %s cannot go %s -> %s", ErrInvalidState, o.ID, o.Status, next)
	}
	o.Status = next
	o.Revision++
	o.UpdatedAt = now
	return nil
}

// ApplyFill folds a fill into the cumulative filled quantity and average
// price, then moves the order to PartiallyFilled or Filled. The cumulative
// quantity must never exceed the requested quantity, and fills can only land
// on a working order.
func (o *Order) ApplyFill(f Fill, now time.Time) error {
	if o.Status != OrderStatusSubmitted && o.Status != OrderStatusPartiallyFilled {
		return fmt.Errorf("%w: fill for order %s in state %s", ErrInvalidState, o.ID, o.Status)
	}
	if !f.Qty.IsPositive() {
		return fmt.Errorf("%w: fill quantity %s must be positive", ErrValidation, f.Qty)
	}
	newQty := o.FilledQty.Add(f.Qty)
	if newQty.GreaterThan(o.Qty) {
		return fmt.Errorf("%w: fill overruns order %s (%s filled + %s > %s requested)",
			ErrInvalidState, o.ID, o.FilledQty, f.Qty, o.Qty)
	}

	notional := o.FilledAvgPrice.Mul(o.FilledQty).Add(f.Price.Mul(f.Qty))
	o.FilledAvgPrice = notional.Div(newQty)
	o.FilledQty = newQty

	if newQty.Equal(o.Qty) {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	o.Revision++
	o.UpdatedAt = now
	return nil
}

// NewOrderFromSignal derives a Pending order from an accepted signal.
// The caller supplies the order ID.
func NewOrderFromSignal(id string, sig Signal, now time.Time) *Order {
	o := &Order{
		ID:             id,
		Symbol:         sig.Symbol,
		Side:           sig.Side,
		Type:           OrderTypeMarket,
		Qty:            sig.Qty,
		Status:         OrderStatusPending,
		IdempotencyKey: sig.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if sig.LimitPrice != nil {
		o.Type = OrderTypeLimit
		o.LimitPrice = *sig.LimitPrice
	}
	return o
}
