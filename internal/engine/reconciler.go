package engine

import (
	"fmt"
	"time"

	"tradexec/internal/domain"
	"tradexec/internal/live"
)

// seqState tracks per-order event ordering. The venue numbers events per
// order from 1; events ahead of the expected sequence are buffered until the
// gap closes or the gap timeout rejects them.
type seqState struct {
	next     int64
	buffered map[int64]domain.VenueEvent
	gapSince time.Time
}

// runReconciler is the single goroutine that owns all order mutation. Venue
// events and engine-internal commands are applied here one at a time, which
// serializes every transition and fill application per order.
func (e *Engine) runReconciler() {
	defer e.wg.Done()

	seqs := make(map[string]*seqState)
	events := e.venue.Events()

	sweep := time.NewTicker(e.sweepInterval())
	defer sweep.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				events = nil // venue stream closed; keep serving commands
				continue
			}
			e.handleVenueEvent(seqs, evt)
		case cmd := <-e.cmds:
			e.handleCommand(cmd)
		case <-sweep.C:
			e.expireGaps(seqs)
		}
	}
}

func (e *Engine) sweepInterval() time.Duration {
	iv := e.cfg.ReorderGapTimeout / 4
	if iv < 50*time.Millisecond {
		iv = 50 * time.Millisecond
	}
	if iv > time.Second {
		iv = time.Second
	}
	return iv
}

// handleVenueEvent enforces per-order sequence ordering, then applies the
// event. Replayed sequence numbers are duplicates and are dropped silently;
// future sequence numbers are buffered within the reorder window.
func (e *Engine) handleVenueEvent(seqs map[string]*seqState, evt domain.VenueEvent) {
	st, ok := seqs[evt.OrderID]
	if !ok {
		st = &seqState{next: 1, buffered: make(map[int64]domain.VenueEvent)}
		seqs[evt.OrderID] = st
	}

	switch {
	case evt.Seq < st.next:
		e.log.Debug("duplicate venue event ignored",
			"orderID", evt.OrderID, "seq", evt.Seq, "expected", st.next)
		return

	case evt.Seq > st.next:
		if len(st.buffered) >= e.cfg.ReorderWindow {
			e.recordInconsistency(evt, fmt.Sprintf(
				"reorder window full (%d buffered), dropping out-of-order event", len(st.buffered)))
			return
		}
		if _, dup := st.buffered[evt.Seq]; !dup {
			st.buffered[evt.Seq] = evt
		}
		if st.gapSince.IsZero() {
			st.gapSince = time.Now()
		}
		e.log.Debug("buffering out-of-order venue event",
			"orderID", evt.OrderID, "seq", evt.Seq, "expected", st.next)
		return
	}

	e.applyEvent(evt)
	st.next++

	// Drain anything the arrival unblocked.
	for {
		next, ok := st.buffered[st.next]
		if !ok {
			break
		}
		delete(st.buffered, st.next)
		e.applyEvent(next)
		st.next++
	}
	if len(st.buffered) == 0 {
		st.gapSince = time.Time{}
	} else {
		st.gapSince = time.Now()
	}
}

// expireGaps rejects buffered events whose sequence gap never closed.
func (e *Engine) expireGaps(seqs map[string]*seqState) {
	now := time.Now()
	for orderID, st := range seqs {
		if len(st.buffered) == 0 || st.gapSince.IsZero() {
			continue
		}
		if now.Sub(st.gapSince) < e.cfg.ReorderGapTimeout {
			continue
		}
		for seq, evt := range st.buffered {
			e.recordInconsistency(evt, fmt.Sprintf(
				"sequence gap never closed: expected %d, buffered %d for %s",
				st.next, seq, e.cfg.ReorderGapTimeout))
			delete(st.buffered, seq)
		}
		st.gapSince = time.Time{}
		e.log.Warn("rejected buffered events after gap timeout",
			"orderID", orderID, "expectedSeq", st.next)
	}
}

// handleCommand applies engine-internal transitions (submission handoff
// outcomes) on the reconciler goroutine.
func (e *Engine) handleCommand(cmd command) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[cmd.orderID]
	if !ok {
		e.log.Error("command for unknown order", "orderID", cmd.orderID)
		return
	}

	switch cmd.kind {
	case cmdMarkSubmitted:
		// The venue ack may have raced ahead and promoted the order
		// already; that is not an error.
		if order.Status != domain.OrderStatusPending {
			return
		}
		if err := order.Transition(domain.OrderStatusPending, domain.OrderStatusSubmitted, time.Now()); err != nil {
			e.log.Error("marking order submitted", "orderID", order.ID, "error", err)
			return
		}
		e.persistOrderUpdate(order)
		e.feed.Publish(live.OrderEvent{Type: "submitted", Order: *order})

	case cmdMarkFailed:
		if order.Status.Terminal() {
			return
		}
		if err := order.Transition(order.Status, domain.OrderStatusFailed, time.Now()); err != nil {
			e.log.Error("marking order failed", "orderID", order.ID, "error", err)
			return
		}
		e.persistOrderUpdate(order)
		// Failure is reported on the same event path as other terminal
		// transitions so observers see one notification channel.
		e.feed.Publish(live.OrderEvent{Type: "failed", Order: *order})
		e.resolveCancelWaiters(order.ID, fmt.Errorf(
			"%w: order %s failed: %s", domain.ErrInvalidState, order.ID, cmd.reason))
		e.log.Warn("order failed", "orderID", order.ID, "reason", cmd.reason)
	}
}

// applyEvent applies one in-sequence venue event to the order table and,
// for fills, to the ledger. Order update and ledger update happen under the
// same lock so readers never observe one without the other.
func (e *Engine) applyEvent(evt domain.VenueEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[evt.OrderID]
	if !ok {
		e.recordInconsistencyLocked(evt, "event for unknown order")
		return
	}

	switch evt.Type {
	case domain.VenueEventAck:
		e.applyAck(order, evt)
	case domain.VenueEventFill:
		e.applyFill(order, evt)
	case domain.VenueEventReject:
		e.applyReject(order, evt)
	case domain.VenueEventCancelConfirm:
		e.applyCancelConfirm(order, evt)
	default:
		e.recordInconsistencyLocked(evt, fmt.Sprintf("unknown event type %q", evt.Type))
	}
}

// applyAck records the venue reference and promotes a Pending order if the
// ack outran the submitter's own handoff confirmation.
func (e *Engine) applyAck(order *domain.Order, evt domain.VenueEvent) {
	if order.Status.Terminal() {
		e.recordInconsistencyLocked(evt, fmt.Sprintf("ack for terminal order (%s)", order.Status))
		return
	}
	if order.Status == domain.OrderStatusPending {
		if err := order.Transition(domain.OrderStatusPending, domain.OrderStatusSubmitted, time.Now()); err != nil {
			e.recordInconsistencyLocked(evt, err.Error())
			return
		}
	}
	if evt.VenueRef != "" {
		order.VenueRef = evt.VenueRef
	}
	e.persistOrderUpdate(order)
	e.feed.Publish(live.OrderEvent{Type: "ack", Order: *order})
}

// applyFill is the atomic reconciliation step: the ledger mutation and the
// order's fill-quantity increment commit together or not at all.
func (e *Engine) applyFill(order *domain.Order, evt domain.VenueEvent) {
	fill := domain.Fill{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Seq:       evt.Seq,
		Qty:       evt.Qty,
		Price:     evt.Price,
		Timestamp: evt.Timestamp,
	}

	// Validate against the order before touching anything.
	if order.Status != domain.OrderStatusSubmitted && order.Status != domain.OrderStatusPartiallyFilled {
		e.recordInconsistencyLocked(evt, fmt.Sprintf("fill for order in state %s", order.Status))
		return
	}
	if order.FilledQty.Add(evt.Qty).GreaterThan(order.Qty) {
		e.recordInconsistencyLocked(evt, fmt.Sprintf(
			"fill overruns order: %s filled + %s > %s requested",
			order.FilledQty, evt.Qty, order.Qty))
		return
	}

	applied, err := e.led.ApplyFill(fill)
	if err != nil {
		e.recordInconsistencyLocked(evt, fmt.Sprintf("ledger rejected fill: %v", err))
		return
	}
	if !applied {
		e.log.Debug("duplicate fill skipped by ledger", "orderID", order.ID, "seq", evt.Seq)
		return
	}
	if err := order.ApplyFill(fill, time.Now()); err != nil {
		// Unreachable after the validation above; surfaced loudly if the
		// invariant ever breaks.
		e.recordInconsistencyLocked(evt, fmt.Sprintf("order rejected validated fill: %v", err))
		return
	}

	e.persistOrderUpdate(order)
	e.persistFill(fill)
	e.feed.Publish(live.OrderEvent{Type: "fill", Order: *order, Fill: &fill})
	e.log.Info("fill applied", "orderID", order.ID, "seq", evt.Seq,
		"qty", evt.Qty.String(), "price", evt.Price.String(), "status", string(order.Status))

	if order.Status == domain.OrderStatusFilled {
		// A cancel that lost the race to this fill resolves here.
		e.resolveCancelWaiters(order.ID, fmt.Errorf(
			"%w: order %s filled before cancellation", domain.ErrInvalidState, order.ID))
	}
}

func (e *Engine) applyReject(order *domain.Order, evt domain.VenueEvent) {
	if err := order.Transition(order.Status, domain.OrderStatusRejected, time.Now()); err != nil {
		e.recordInconsistencyLocked(evt, err.Error())
		return
	}
	// Fills already recorded stand; only the open remainder dies.
	e.persistOrderUpdate(order)
	e.feed.Publish(live.OrderEvent{Type: "reject", Order: *order})
	e.resolveCancelWaiters(order.ID, fmt.Errorf(
		"%w: order %s rejected by venue: %s", domain.ErrInvalidState, order.ID, evt.Reason))
	e.log.Warn("order rejected by venue", "orderID", order.ID, "reason", evt.Reason)
}

func (e *Engine) applyCancelConfirm(order *domain.Order, evt domain.VenueEvent) {
	if order.Status.Terminal() {
		// The cancel lost a race against an earlier-sequenced fill or
		// reject. Expected under the ordering rules, not an inconsistency.
		e.log.Info("cancel confirmation after terminal state ignored",
			"orderID", order.ID, "status", string(order.Status))
		return
	}
	if err := order.Transition(order.Status, domain.OrderStatusCancelled, time.Now()); err != nil {
		e.recordInconsistencyLocked(evt, err.Error())
		return
	}
	e.persistOrderUpdate(order)
	e.feed.Publish(live.OrderEvent{Type: "cancel_confirm", Order: *order})
	e.resolveCancelWaiters(order.ID, nil)
	e.log.Info("order cancelled", "orderID", order.ID,
		"filledQty", order.FilledQty.String())
}

// recordInconsistency surfaces an event the engine refused to apply. It is
// logged, kept in memory for the operator endpoint, and persisted.
func (e *Engine) recordInconsistency(evt domain.VenueEvent, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordInconsistencyLocked(evt, reason)
}

func (e *Engine) recordInconsistencyLocked(evt domain.VenueEvent, reason string) {
	inc := domain.Inconsistency{
		OrderID:   evt.OrderID,
		Seq:       evt.Seq,
		EventType: string(evt.Type),
		Reason:    reason,
		Timestamp: time.Now(),
	}
	e.inconsistencies = append(e.inconsistencies, inc)
	e.log.Warn("inconsistent venue event rejected",
		"orderID", evt.OrderID, "seq", evt.Seq, "type", string(evt.Type), "reason", reason)
	if e.audit != nil {
		if err := e.audit.SaveInconsistency(e.ctx, &inc); err != nil {
			e.log.Error("persisting inconsistency", "orderID", evt.OrderID, "error", err)
		}
	}
}
