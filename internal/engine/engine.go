// Package engine is the trade-execution core: it accepts trading signals,
// turns them into orders, hands them to a venue gateway, and reconciles the
// venue's asynchronous acknowledgements and fills back into the order table
// and the ledger.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradexec/internal/domain"
	"tradexec/internal/ledger"
	"tradexec/internal/live"
	"tradexec/internal/store"
	"tradexec/internal/util"
	"tradexec/internal/venue"
)

// Config holds the engine's runtime tunables. The venue protocol gives no
// canonical values for these, so they are configuration with the defaults
// below rather than constants.
type Config struct {
	// QueueDepth bounds the internal signal queue; a full queue surfaces
	// ErrQueueFull instead of blocking the caller.
	QueueDepth int

	// MaxSubmitAttempts and RetryBaseDelay drive exponential backoff for
	// venue submission. Exhausting the budget marks the order Failed.
	MaxSubmitAttempts int
	RetryBaseDelay    time.Duration

	// IdempotencyWindow is how long a signal's idempotency key blocks
	// duplicates.
	IdempotencyWindow time.Duration

	// ReorderWindow bounds how many out-of-order events are buffered per
	// order; ReorderGapTimeout is how long a sequence gap may stay open
	// before the buffered events are rejected as inconsistent.
	ReorderWindow     int
	ReorderGapTimeout time.Duration

	// CancelTimeout bounds how long CancelOrder waits for the venue's
	// acknowledgement.
	CancelTimeout time.Duration

	// SubmitRatePerMin paces order submissions to the venue.
	SubmitRatePerMin int

	// InitialCash seeds the ledger.
	InitialCash decimal.Decimal

	// Instruments lists tradable symbols. Empty means any symbol is
	// accepted.
	Instruments []string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		QueueDepth:        256,
		MaxSubmitAttempts: 5,
		RetryBaseDelay:    500 * time.Millisecond,
		IdempotencyWindow: 10 * time.Minute,
		ReorderWindow:     30,
		ReorderGapTimeout: 5 * time.Second,
		CancelTimeout:     5 * time.Second,
		SubmitRatePerMin:  120,
		InitialCash:       decimal.NewFromInt(100_000),
	}
}

// AuditStore is the persistence the engine writes through. A nil store
// disables persistence; write failures are logged, never allowed to block
// reconciliation.
type AuditStore interface {
	store.OrderStore
	store.FillStore
	store.SignalStore
	store.InconsistencyStore
}

// FillExporter receives applied fills for offline analysis (Parquet export).
type FillExporter interface {
	WriteFills(fills []domain.Fill) error
}

// ListFilter narrows ListOrders results. Zero values match everything.
type ListFilter struct {
	Status domain.OrderStatus
	Symbol string
}

// Engine owns the order table and the ledger. All order mutation happens on
// the reconciler goroutine; Submit/Cancel/read operations communicate with
// it through channels and a read lock, so state transitions and fill
// applications for one order are always processed in a single sequence.
type Engine struct {
	cfg    Config
	venue  venue.Venue
	led    *ledger.Ledger
	audit  AuditStore   // may be nil
	export FillExporter // may be nil
	feed   *live.Feed
	risk   *RiskManager // may be nil
	log    *slog.Logger

	mu              sync.RWMutex
	orders          map[string]*domain.Order
	inconsistencies []domain.Inconsistency

	idem        *idempotencyWindow
	instruments map[string]bool
	limiter     *util.RateLimiter

	submitQ chan domain.Order
	cmds    chan command

	waitersMu     sync.Mutex
	cancelWaiters map[string][]chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// command is an engine-internal mutation routed through the reconciler so
// that the reconciler stays the only writer of order state.
type command struct {
	kind    cmdKind
	orderID string
	reason  string
}

type cmdKind int

const (
	cmdMarkSubmitted cmdKind = iota
	cmdMarkFailed
)

// New creates an Engine. audit, export, and risk may be nil.
func New(cfg Config, v venue.Venue, audit AuditStore, export FillExporter, risk *RiskManager, log *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	instruments := make(map[string]bool, len(cfg.Instruments))
	for _, sym := range cfg.Instruments {
		instruments[sym] = true
	}
	return &Engine{
		cfg:           cfg,
		venue:         v,
		led:           ledger.New(cfg.InitialCash),
		audit:         audit,
		export:        export,
		feed:          live.NewFeed(),
		risk:          risk,
		log:           log,
		orders:        make(map[string]*domain.Order),
		idem:          newIdempotencyWindow(cfg.IdempotencyWindow),
		instruments:   instruments,
		limiter:       util.NewRateLimiter(cfg.SubmitRatePerMin),
		submitQ:       make(chan domain.Order, cfg.QueueDepth),
		cmds:          make(chan command, 64),
		cancelWaiters: make(map[string][]chan error),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the reconciler and the submit worker.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.runReconciler()
	go e.runSubmitter()
}

// Close stops the engine's goroutines. The venue is not closed; its owner
// does that.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Feed exposes the order event feed for streaming consumers.
func (e *Engine) Feed() *live.Feed {
	return e.feed
}

// VenueName reports which venue the engine is wired to.
func (e *Engine) VenueName() string {
	return e.venue.Name()
}

// ---------------------------------------------------------------------------
// Signal intake
// ---------------------------------------------------------------------------

// SubmitSignal validates the signal, creates a Pending order, and queues it
// for asynchronous venue submission. It returns the order ID immediately;
// the submission outcome arrives later through the reconciliation path.
func (e *Engine) SubmitSignal(ctx context.Context, sig domain.Signal) (string, error) {
	if err := e.validateSignal(sig); err != nil {
		return "", err
	}
	if e.risk != nil {
		pos, _ := e.led.Position(sig.Symbol)
		if err := e.risk.CheckSignal(sig, pos); err != nil {
			return "", err
		}
	}

	now := time.Now()
	if !e.idem.Reserve(sig.IdempotencyKey, now) {
		return "", fmt.Errorf("%w: key %q seen within the last %s",
			domain.ErrDuplicateSignal, sig.IdempotencyKey, e.cfg.IdempotencyWindow)
	}

	order := domain.NewOrderFromSignal(uuid.NewString(), sig, now)
	// Copy taken before the order is visible to the reconciler; the original
	// must only be read under e.mu from here on.
	accepted := *order

	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()

	select {
	case e.submitQ <- accepted:
	default:
		// Backpressure: undo the reservation and the order so the caller
		// can retry later.
		e.mu.Lock()
		delete(e.orders, order.ID)
		e.mu.Unlock()
		e.idem.Release(sig.IdempotencyKey)
		return "", fmt.Errorf("%w: depth %d", domain.ErrQueueFull, e.cfg.QueueDepth)
	}

	e.persistSignal(ctx, sig)
	e.persistNewOrder(ctx, &accepted)
	e.feed.Publish(live.OrderEvent{Type: "accepted", Order: accepted})
	e.log.Info("signal accepted", "orderID", accepted.ID, "symbol", sig.Symbol,
		"side", string(sig.Side), "qty", sig.Qty.String())
	return accepted.ID, nil
}

func (e *Engine) validateSignal(sig domain.Signal) error {
	switch {
	case sig.Symbol == "":
		return fmt.Errorf("%w: symbol required", domain.ErrValidation)
	case !sig.Side.Valid():
		return fmt.Errorf("%w: side %q", domain.ErrValidation, sig.Side)
	case !sig.Qty.IsPositive():
		return fmt.Errorf("%w: quantity %s must be positive", domain.ErrValidation, sig.Qty)
	case sig.LimitPrice != nil && !sig.LimitPrice.IsPositive():
		return fmt.Errorf("%w: limit price %s must be positive", domain.ErrValidation, sig.LimitPrice)
	case sig.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency key required", domain.ErrValidation)
	case len(e.instruments) > 0 && !e.instruments[sig.Symbol]:
		return fmt.Errorf("%w: unknown instrument %q", domain.ErrValidation, sig.Symbol)
	}
	return nil
}

// runSubmitter drains the signal queue and hands orders to the venue,
// retrying transport failures with exponential backoff. A transient venue
// outage therefore never blocks signal intake; it only delays submission.
func (e *Engine) runSubmitter() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case order := <-e.submitQ:
			if err := e.limiter.Wait(e.ctx); err != nil {
				return
			}
			err := util.Retry(e.ctx, e.cfg.MaxSubmitAttempts, e.cfg.RetryBaseDelay, func() error {
				return e.venue.Submit(e.ctx, &order)
			})
			if e.ctx.Err() != nil {
				return
			}
			if err != nil {
				e.log.Error("venue submission failed, marking order failed",
					"orderID", order.ID, "attempts", e.cfg.MaxSubmitAttempts, "error", err)
				e.sendCommand(command{kind: cmdMarkFailed, orderID: order.ID,
					reason: fmt.Sprintf("submission failed after %d attempts: %v", e.cfg.MaxSubmitAttempts, err)})
				continue
			}
			e.sendCommand(command{kind: cmdMarkSubmitted, orderID: order.ID})
		}
	}
}

func (e *Engine) sendCommand(cmd command) {
	select {
	case e.cmds <- cmd:
	case <-e.ctx.Done():
	}
}

// ---------------------------------------------------------------------------
// Cancellation
// ---------------------------------------------------------------------------

// CancelOrder asks the venue to cancel a working order and waits for the
// confirmation, a conflicting terminal transition, or the timeout. On
// timeout the order keeps its last known state; it is not assumed
// cancelled.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.RLock()
	order, ok := e.orders[orderID]
	var status domain.OrderStatus
	if ok {
		status = order.Status
	}
	e.mu.RUnlock()

	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	switch {
	case status.Terminal():
		return fmt.Errorf("%w: order %s is already %s", domain.ErrInvalidState, orderID, status)
	case status == domain.OrderStatusPending:
		return fmt.Errorf("%w: order %s has not reached the venue yet", domain.ErrInvalidState, orderID)
	}

	waiter := make(chan error, 1)
	e.addCancelWaiter(orderID, waiter)

	if err := e.venue.Cancel(ctx, orderID); err != nil {
		e.removeCancelWaiter(orderID, waiter)
		return fmt.Errorf("%w: %v", domain.ErrVenue, err)
	}

	select {
	case err := <-waiter:
		return err
	case <-time.After(e.cfg.CancelTimeout):
		e.removeCancelWaiter(orderID, waiter)
		return fmt.Errorf("%w: no cancel confirmation for %s within %s",
			domain.ErrTimeout, orderID, e.cfg.CancelTimeout)
	case <-ctx.Done():
		e.removeCancelWaiter(orderID, waiter)
		return ctx.Err()
	}
}

func (e *Engine) addCancelWaiter(orderID string, ch chan error) {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()
	e.cancelWaiters[orderID] = append(e.cancelWaiters[orderID], ch)
}

func (e *Engine) removeCancelWaiter(orderID string, ch chan error) {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()
	waiters := e.cancelWaiters[orderID]
	for i, w := range waiters {
		if w == ch {
			e.cancelWaiters[orderID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(e.cancelWaiters[orderID]) == 0 {
		delete(e.cancelWaiters, orderID)
	}
}

// resolveCancelWaiters wakes every CancelOrder call waiting on the order.
func (e *Engine) resolveCancelWaiters(orderID string, result error) {
	e.waitersMu.Lock()
	waiters := e.cancelWaiters[orderID]
	delete(e.cancelWaiters, orderID)
	e.waitersMu.Unlock()
	for _, ch := range waiters {
		ch <- result
	}
}

// ---------------------------------------------------------------------------
// Read-only snapshots
// ---------------------------------------------------------------------------

// GetOrder returns a copy of the order.
func (e *Engine) GetOrder(orderID string) (domain.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	order, ok := e.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return *order, nil
}

// ListOrders returns copies of orders matching the filter, newest first.
func (e *Engine) ListOrders(filter ListFilter) []domain.Order {
	e.mu.RLock()
	out := make([]domain.Order, 0, len(e.orders))
	for _, order := range e.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.Symbol != "" && order.Symbol != filter.Symbol {
			continue
		}
		out = append(out, *order)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Portfolio returns a consistent snapshot of cash and positions.
func (e *Engine) Portfolio() domain.Portfolio {
	return e.led.Snapshot()
}

// Fills returns the applied-fill audit trail in application order.
func (e *Engine) Fills() []domain.Fill {
	return e.led.Fills()
}

// Inconsistencies returns the events the engine refused to apply, newest
// last.
func (e *Engine) Inconsistencies() []domain.Inconsistency {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Inconsistency, len(e.inconsistencies))
	copy(out, e.inconsistencies)
	return out
}

// ---------------------------------------------------------------------------
// Persistence helpers (failures logged, never fatal)
// ---------------------------------------------------------------------------

func (e *Engine) persistSignal(ctx context.Context, sig domain.Signal) {
	if e.audit == nil {
		return
	}
	if err := e.audit.SaveSignal(ctx, &sig); err != nil {
		e.log.Error("persisting signal", "idemKey", sig.IdempotencyKey, "error", err)
	}
}

func (e *Engine) persistNewOrder(ctx context.Context, order *domain.Order) {
	if e.audit == nil {
		return
	}
	if err := e.audit.SaveOrder(ctx, order); err != nil {
		e.log.Error("persisting order", "orderID", order.ID, "error", err)
	}
}

func (e *Engine) persistOrderUpdate(order *domain.Order) {
	if e.audit == nil {
		return
	}
	if err := e.audit.UpdateOrder(e.ctx, order); err != nil {
		e.log.Error("persisting order update", "orderID", order.ID, "error", err)
	}
}

func (e *Engine) persistFill(fill domain.Fill) {
	if e.audit != nil {
		if err := e.audit.SaveFill(e.ctx, &fill); err != nil {
			e.log.Error("persisting fill", "orderID", fill.OrderID, "seq", fill.Seq, "error", err)
		}
	}
	if e.export != nil {
		if err := e.export.WriteFills([]domain.Fill{fill}); err != nil {
			e.log.Error("exporting fill", "orderID", fill.OrderID, "seq", fill.Seq, "error", err)
		}
	}
}
