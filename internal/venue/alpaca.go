package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"tradexec/internal/domain"
)

// Compile-time interface check.
var _ Venue = (*AlpacaVenue)(nil)

// AlpacaVenue adapts the Alpaca trading API to the Venue contract for live
// trading. Orders are submitted with the engine's order ID as the client
// order ID so trade updates can be routed back.
//
// Alpaca does not expose an explicit per-order sequence number; the stream
// delivers updates for one order in execution order, so the adapter assigns
// sequence numbers in arrival order.
type AlpacaVenue struct {
	client *alpaca.Client
	log    *slog.Logger

	mu    sync.Mutex
	seqs  map[string]int64
	refs  map[string]string // engine order ID -> alpaca order ID
	close context.CancelFunc

	events chan domain.VenueEvent
}

// NewAlpacaVenue creates the live venue adapter and starts consuming the
// trade-update stream.
func NewAlpacaVenue(apiKey, apiSecret, baseURL string, log *slog.Logger) *AlpacaVenue {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	v := &AlpacaVenue{
		client: client,
		log:    log,
		seqs:   make(map[string]int64),
		refs:   make(map[string]string),
		close:  cancel,
		events: make(chan domain.VenueEvent, 256),
	}

	go func() {
		defer close(v.events)
		if err := client.StreamTradeUpdates(ctx, v.onTradeUpdate, alpaca.StreamTradeUpdatesRequest{}); err != nil && ctx.Err() == nil {
			log.Error("alpaca trade update stream ended", "error", err)
		}
	}()

	return v
}

// Name returns "alpaca".
func (v *AlpacaVenue) Name() string {
	return "alpaca"
}

// Events returns the normalized event stream.
func (v *AlpacaVenue) Events() <-chan domain.VenueEvent {
	return v.events
}

// Submit places the order with Alpaca. The engine's order ID travels as the
// client order ID.
func (v *AlpacaVenue) Submit(_ context.Context, order *domain.Order) error {
	qty := order.Qty
	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(order.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: order.ID,
	}
	if order.Type == domain.OrderTypeLimit {
		limit := order.LimitPrice
		req.Type = alpaca.Limit
		req.LimitPrice = &limit
	}

	placed, err := v.client.PlaceOrder(req)
	if err != nil {
		return fmt.Errorf("placing order %s: %w", order.ID, err)
	}

	v.mu.Lock()
	v.refs[order.ID] = placed.ID
	v.mu.Unlock()
	return nil
}

// Cancel requests cancellation via the Alpaca order ID recorded at submit
// time (or from the acknowledgement if the submit response was lost).
func (v *AlpacaVenue) Cancel(_ context.Context, orderID string) error {
	v.mu.Lock()
	ref, ok := v.refs[orderID]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("no venue reference for order %s", orderID)
	}
	if err := v.client.CancelOrder(ref); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

func (v *AlpacaVenue) onTradeUpdate(tu alpaca.TradeUpdate) {
	orderID := tu.Order.ClientOrderID
	if orderID == "" {
		v.log.Warn("trade update without client order id", "event", tu.Event)
		return
	}

	evt := domain.VenueEvent{OrderID: orderID, VenueRef: tu.Order.ID}
	switch tu.Event {
	case "new", "accepted":
		evt.Type = domain.VenueEventAck
	case "fill", "partial_fill":
		evt.Type = domain.VenueEventFill
		if tu.Qty != nil {
			evt.Qty = *tu.Qty
		}
		if tu.Price != nil {
			evt.Price = *tu.Price
		}
	case "rejected":
		evt.Type = domain.VenueEventReject
		evt.Reason = "rejected by venue"
	case "canceled":
		evt.Type = domain.VenueEventCancelConfirm
	default:
		// Replaced, done_for_day, etc. have nothing for the engine to apply.
		v.log.Debug("ignoring trade update", "event", tu.Event, "orderID", orderID)
		return
	}
	if tu.Timestamp != nil {
		evt.Timestamp = *tu.Timestamp
	}

	v.mu.Lock()
	v.refs[orderID] = tu.Order.ID
	v.seqs[orderID]++
	evt.Seq = v.seqs[orderID]
	v.mu.Unlock()

	v.events <- evt
}

// Close stops the trade-update stream.
func (v *AlpacaVenue) Close() error {
	v.close()
	return nil
}
