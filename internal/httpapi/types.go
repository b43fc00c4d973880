// Package httpapi exposes the execution engine over HTTP: signal intake,
// order management, portfolio and trade history, and a websocket feed of
// order events.
package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"tradexec/internal/domain"
)

// SignalRequest is the JSON body for signal submission.
type SignalRequest struct {
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Qty            decimal.Decimal  `json:"qty"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	Source         string           `json:"source,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey"`
}

// SubmitResponse acknowledges an accepted signal.
type SubmitResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// OrderJSON is the JSON representation of an order.
type OrderJSON struct {
	ID             string           `json:"id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Qty            decimal.Decimal  `json:"qty"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	FilledQty      decimal.Decimal  `json:"filledQty"`
	FilledAvgPrice decimal.Decimal  `json:"filledAvgPrice"`
	Status         string           `json:"status"`
	VenueRef       string           `json:"venueRef,omitempty"`
	Revision       int64            `json:"revision"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

func convertOrder(o domain.Order) OrderJSON {
	out := OrderJSON{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Qty:            o.Qty,
		FilledQty:      o.FilledQty,
		FilledAvgPrice: o.FilledAvgPrice,
		Status:         string(o.Status),
		VenueRef:       o.VenueRef,
		Revision:       o.Revision,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Type == domain.OrderTypeLimit {
		p := o.LimitPrice
		out.LimitPrice = &p
	}
	return out
}

// PositionJSON is the JSON representation of one position.
type PositionJSON struct {
	Symbol      string          `json:"symbol"`
	Qty         decimal.Decimal `json:"qty"`
	AvgCost     decimal.Decimal `json:"avgCost"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}

// PortfolioResponse is the portfolio snapshot.
type PortfolioResponse struct {
	Cash      decimal.Decimal `json:"cash"`
	Positions []PositionJSON  `json:"positions"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// FillJSON is the JSON representation of an applied fill.
type FillJSON struct {
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Seq       int64           `json:"seq"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

func convertFill(f domain.Fill) FillJSON {
	return FillJSON{
		OrderID:   f.OrderID,
		Symbol:    f.Symbol,
		Side:      string(f.Side),
		Seq:       f.Seq,
		Qty:       f.Qty,
		Price:     f.Price,
		Timestamp: f.Timestamp,
	}
}

// TradesResponse is the trade-history payload.
type TradesResponse struct {
	Date   string     `json:"date,omitempty"`
	Trades []FillJSON `json:"trades"`
}

// InconsistencyJSON is the JSON representation of a rejected venue event.
type InconsistencyJSON struct {
	OrderID   string    `json:"orderId"`
	Seq       int64     `json:"seq"`
	EventType string    `json:"eventType"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Venue   string `json:"venue"`
	Uptime  string `json:"uptime"`
}

// StreamEvent is one websocket frame on /api/stream.
type StreamEvent struct {
	Type  string    `json:"type"`
	Order OrderJSON `json:"order"`
	Fill  *FillJSON `json:"fill,omitempty"`
	At    time.Time `json:"at"`
}
