// Package store defines storage interfaces for persisting the engine's audit
// trail: orders, fills, accepted signals, and inconsistency records.
package store

import (
	"context"

	"tradexec/internal/domain"
)

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts a new order into storage.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns orders matching the given status, or all orders if
	// status is empty, newest first.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
}

// FillStore persists the append-only fill audit trail.
type FillStore interface {
	// SaveFill appends a fill. Saving the same (order id, seq) twice is an
	// error.
	SaveFill(ctx context.Context, fill *domain.Fill) error

	// ListFills returns fills for the given order in sequence order, or all
	// fills in application order when orderID is empty.
	ListFills(ctx context.Context, orderID string) ([]domain.Fill, error)
}

// SignalStore persists accepted trading signals.
type SignalStore interface {
	// SaveSignal inserts a new signal into storage.
	SaveSignal(ctx context.Context, signal *domain.Signal) error

	// ListSignals returns the most recent signals, up to limit.
	ListSignals(ctx context.Context, limit int) ([]domain.Signal, error)
}

// InconsistencyStore persists events the engine refused to apply.
type InconsistencyStore interface {
	// SaveInconsistency records a rejected event.
	SaveInconsistency(ctx context.Context, inc *domain.Inconsistency) error

	// ListInconsistencies returns the most recent records, up to limit.
	ListInconsistencies(ctx context.Context, limit int) ([]domain.Inconsistency, error)
}
