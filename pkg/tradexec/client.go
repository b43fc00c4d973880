// Package tradexec provides a Go SDK for the tradexec-server API.
package tradexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Client talks to a running tradexec-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new tradexec API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Signal is a trade signal to execute.
type Signal struct {
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Qty            decimal.Decimal  `json:"qty"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	Source         string           `json:"source,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey"`
}

// SubmitAck acknowledges an accepted signal.
type SubmitAck struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// Order is an order as reported by the server.
type Order struct {
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

// Position is one portfolio position.
type Position struct {
	Symbol      string          `json:"symbol"`
	Qty         decimal.Decimal `json:"qty"`
	AvgCost     decimal.Decimal `json:"avgCost"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}

// Portfolio is the cash and position snapshot.
type Portfolio struct {
	Cash      decimal.Decimal `json:"cash"`
	Positions []Position      `json:"positions"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Trade is one applied fill.
type Trade struct {
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Seq       int64           `json:"seq"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Trades is the trade-history payload.
type Trades struct {
	Date   string  `json:"date,omitempty"`
	Trades []Trade `json:"trades"`
}

// Inconsistency is a venue event the engine refused to apply.
type Inconsistency struct {
	OrderID   string    `json:"orderId"`
	Seq       int64     `json:"seq"`
	EventType string    `json:"eventType"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Health is the liveness report.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Venue   string `json:"venue"`
	Uptime  string `json:"uptime"`
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitSignal submits a signal for execution and returns the created order's
// ID.
func (c *Client) SubmitSignal(ctx context.Context, sig Signal) (*SubmitAck, error) {
	var out SubmitAck
	if err := c.do(ctx, http.MethodPost, "/api/signals/execute", sig, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches one order by ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrders fetches orders, optionally filtered by status and symbol.
func (c *Client) ListOrders(ctx context.Context, status, symbol string) ([]Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	path := "/api/orders"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Order
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelOrder requests cancellation of a working order and returns its state
// after the venue confirmed.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodDelete, "/api/orders/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Portfolio fetches the portfolio snapshot.
func (c *Client) Portfolio(ctx context.Context) (*Portfolio, error) {
	var out Portfolio
	if err := c.do(ctx, http.MethodGet, "/api/portfolio", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trades fetches trade history. An empty date returns the current session's
// fills; a YYYY-MM-DD date reads the archived day.
func (c *Client) Trades(ctx context.Context, date string) (*Trades, error) {
	path := "/api/trades"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var out Trades
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Inconsistencies fetches the rejected-event log.
func (c *Client) Inconsistencies(ctx context.Context) ([]Inconsistency, error) {
	var out []Inconsistency
	if err := c.do(ctx, http.MethodGet, "/api/inconsistencies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
