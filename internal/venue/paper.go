package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradexec/internal/domain"
)

// Compile-time interface check.
var _ Venue = (*PaperVenue)(nil)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	// FillDelay is the pause between the acknowledgement and each fill.
	FillDelay time.Duration

	// FillParts splits each order into this many partial fills. 1 fills the
	// order in a single report.
	FillParts int

	// EventBuffer is the capacity of the outbound event channel.
	EventBuffer int
}

// PaperVenue simulates an execution venue in-process for paper trading. It
// acknowledges submissions, fills them against a caller-maintained price
// table, and honours cancellations that arrive before the remaining quantity
// is filled. Events carry per-order sequence numbers starting at 1.
type PaperVenue struct {
	cfg PaperConfig
	log *slog.Logger

	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	seqs    map[string]int64
	open    map[string]*paperOrder
	nextRef int64
	closed  bool

	events chan domain.VenueEvent
	quit   chan struct{}
	wg     sync.WaitGroup
}

type paperOrder struct {
	order     domain.Order
	remaining decimal.Decimal
	cancelled bool
}

// NewPaperVenue creates a PaperVenue. Zero-value config fields get sane
// defaults (single fill, no delay).
func NewPaperVenue(cfg PaperConfig, log *slog.Logger) *PaperVenue {
	if cfg.FillParts <= 0 {
		cfg.FillParts = 1
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return &PaperVenue{
		cfg:    cfg,
		log:    log,
		prices: make(map[string]decimal.Decimal),
		seqs:   make(map[string]int64),
		open:   make(map[string]*paperOrder),
		events: make(chan domain.VenueEvent, cfg.EventBuffer),
		quit:   make(chan struct{}),
	}
}

// Name returns "paper".
func (v *PaperVenue) Name() string {
	return "paper"
}

// SetPrice updates the simulated market price for a symbol. Market orders
// execute at this price; a symbol with no price is rejected.
func (v *PaperVenue) SetPrice(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
}

// Events returns the outbound event stream.
func (v *PaperVenue) Events() <-chan domain.VenueEvent {
	return v.events
}

// nextSeq must be called with v.mu held.
func (v *PaperVenue) nextSeq(orderID string) int64 {
	v.seqs[orderID]++
	return v.seqs[orderID]
}

// emit must be called with v.mu held.
func (v *PaperVenue) emit(evt domain.VenueEvent) {
	if v.closed {
		return
	}
	evt.Timestamp = time.Now()
	select {
	case v.events <- evt:
	case <-v.quit:
	default:
		// Dropping keeps the simulator deadlock-free if the consumer stalls.
		v.log.Warn("paper venue event buffer full, dropping event",
			"orderID", evt.OrderID, "seq", evt.Seq, "type", string(evt.Type))
	}
}

// Submit acknowledges the order and schedules its fills.
func (v *PaperVenue) Submit(_ context.Context, order *domain.Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("paper venue closed")
	}
	if _, dup := v.seqs[order.ID]; dup {
		return fmt.Errorf("order %s already submitted", order.ID)
	}

	v.nextRef++
	ref := fmt.Sprintf("paper-%d", v.nextRef)
	v.emit(domain.VenueEvent{
		OrderID:  order.ID,
		Seq:      v.nextSeq(order.ID),
		Type:     domain.VenueEventAck,
		VenueRef: ref,
	})

	price, ok := v.execPrice(order)
	if !ok {
		v.emit(domain.VenueEvent{
			OrderID: order.ID,
			Seq:     v.nextSeq(order.ID),
			Type:    domain.VenueEventReject,
			Reason:  fmt.Sprintf("no market price for %s", order.Symbol),
		})
		return nil
	}

	po := &paperOrder{order: *order, remaining: order.Qty}
	v.open[order.ID] = po

	v.wg.Add(1)
	go v.fillLoop(po, price)
	return nil
}

// execPrice must be called with v.mu held.
func (v *PaperVenue) execPrice(order *domain.Order) (decimal.Decimal, bool) {
	if order.Type == domain.OrderTypeLimit {
		return order.LimitPrice, true
	}
	p, ok := v.prices[order.Symbol]
	return p, ok
}

func (v *PaperVenue) fillLoop(po *paperOrder, price decimal.Decimal) {
	defer v.wg.Done()

	parts := v.cfg.FillParts
	partQty := po.order.Qty.DivRound(decimal.NewFromInt(int64(parts)), 8)

	for i := 0; i < parts; i++ {
		if v.cfg.FillDelay > 0 {
			select {
			case <-time.After(v.cfg.FillDelay):
			case <-v.quit:
				return
			}
		}

		v.mu.Lock()
		if po.cancelled || v.closed || po.remaining.IsZero() {
			v.mu.Unlock()
			return
		}
		qty := partQty
		if i == parts-1 || qty.GreaterThan(po.remaining) {
			qty = po.remaining
		}
		po.remaining = po.remaining.Sub(qty)
		done := po.remaining.IsZero()
		v.emit(domain.VenueEvent{
			OrderID: po.order.ID,
			Seq:     v.nextSeq(po.order.ID),
			Type:    domain.VenueEventFill,
			Qty:     qty,
			Price:   price,
		})
		if done {
			delete(v.open, po.order.ID)
		}
		v.mu.Unlock()

		if done {
			return
		}
	}
}

// Cancel confirms cancellation if the order still has remaining quantity.
func (v *PaperVenue) Cancel(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("paper venue closed")
	}
	po, ok := v.open[orderID]
	if !ok {
		return fmt.Errorf("order %s is not working at the venue", orderID)
	}
	po.cancelled = true
	delete(v.open, orderID)
	v.emit(domain.VenueEvent{
		OrderID: orderID,
		Seq:     v.nextSeq(orderID),
		Type:    domain.VenueEventCancelConfirm,
	})
	return nil
}

// Close stops fill scheduling and closes the event stream.
func (v *PaperVenue) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	close(v.quit)
	v.mu.Unlock()

	v.wg.Wait()
	close(v.events)
	return nil
}
