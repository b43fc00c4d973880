package tradexec

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:3004"
	c := NewClient(baseURL)

	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.baseURL != baseURL {
		t.Errorf("expected baseURL %q, got %q", baseURL, c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestSubmitSignal(t *testing.T) {
	var gotPath string
	var gotBody Signal
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(SubmitAck{OrderID: "o-1", Status: "pending"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	limit := decimal.RequireFromString("5.25")
	ack, err := c.SubmitSignal(context.Background(), Signal{
		Symbol:         "AAPL",
		Side:           "buy",
		Qty:            decimal.NewFromInt(10),
		LimitPrice:     &limit,
		IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}
	if ack.OrderID != "o-1" || ack.Status != "pending" {
		t.Fatalf("ack = %+v", ack)
	}
	if gotPath != "/api/signals/execute" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotBody.Symbol != "AAPL" || !gotBody.Qty.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("body = %+v", gotBody)
	}
	if gotBody.LimitPrice == nil || !gotBody.LimitPrice.Equal(limit) {
		t.Fatalf("limit price = %v", gotBody.LimitPrice)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "duplicate signal"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	_, err := c.SubmitSignal(context.Background(), Signal{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "duplicate signal" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestListOrdersQueryParams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "filled" || r.URL.Query().Get("symbol") != "AAPL" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]Order{{ID: "o-1", Status: "filled"}})
	}))
	defer ts.Close()

	orders, err := NewClient(ts.URL).ListOrders(context.Background(), "filled", "AAPL")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "o-1" {
		t.Fatalf("orders = %+v", orders)
	}
}

func TestPortfolioDecimalsRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Portfolio{
			Cash: decimal.RequireFromString("99950.25"),
			Positions: []Position{
				{Symbol: "AAPL", Qty: decimal.NewFromInt(10), AvgCost: decimal.RequireFromString("5.00")},
			},
		})
	}))
	defer ts.Close()

	pf, err := NewClient(ts.URL).Portfolio(context.Background())
	if err != nil {
		t.Fatalf("Portfolio: %v", err)
	}
	if pf.Cash.String() != "99950.25" {
		t.Fatalf("cash = %s", pf.Cash)
	}
	if len(pf.Positions) != 1 || !pf.Positions[0].AvgCost.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("positions = %+v", pf.Positions)
	}
}
