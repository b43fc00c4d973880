package domain

import "errors"

// Error taxonomy for engine operations. Callers classify failures with
// errors.Is; wrapped messages carry the detail.
var (
	// ErrValidation marks bad input (non-positive quantity, unknown symbol,
	// malformed signal). Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateSignal marks a signal whose idempotency key was already
	// seen within the dedup window. Not retried.
	ErrDuplicateSignal = errors.New("duplicate signal")

	// ErrNotFound marks a lookup for an order the engine does not know.
	ErrNotFound = errors.New("order not found")

	// ErrInvalidState marks an operation or transition that is illegal for
	// the order's current state.
	ErrInvalidState = errors.New("invalid order state")

	// ErrQueueFull is backpressure from the bounded submit queue.
	ErrQueueFull = errors.New("submit queue full")

	// ErrTimeout means the venue did not acknowledge within the deadline.
	// The order remains in its last known state.
	ErrTimeout = errors.New("venue acknowledgement timed out")

	// ErrVenue means the venue rejected or errored on a request.
	ErrVenue = errors.New("venue error")

	// ErrTransport marks a network-level failure talking to the venue.
	// Retried with backoff; surfaced only once the attempt budget is spent.
	ErrTransport = errors.New("transport failure")
)
