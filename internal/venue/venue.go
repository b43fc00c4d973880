// Package venue defines the gateway contract to an execution venue and
// provides paper and live (Alpaca) implementations.
package venue

import (
	"context"

	"tradexec/internal/domain"
)

// Venue abstracts the exchange/broker connection. The engine depends on it
// only through this narrow submit/cancel/event-stream contract.
//
// Implementations assign a monotonically increasing sequence number per
// order to every event they emit; the engine applies events strictly in that
// order.
type Venue interface {
	// Name returns the venue identifier (e.g. "paper", "alpaca").
	Name() string

	// Submit hands an order to the venue. A nil return means the venue has
	// taken ownership; the acknowledgement and any fills arrive later on
	// Events.
	Submit(ctx context.Context, order *domain.Order) error

	// Cancel requests cancellation of a working order. Confirmation arrives
	// as a cancel_confirm event, not through the return value.
	Cancel(ctx context.Context, orderID string) error

	// Events is the inbound stream of acknowledgements, fills, rejections,
	// and cancellation confirmations. Closed by Close.
	Events() <-chan domain.VenueEvent

	// Close releases venue resources and closes the event stream.
	Close() error
}
