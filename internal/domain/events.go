package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenueEventType classifies the reports a venue gateway delivers on its
// inbound event stream.
type VenueEventType string

const (
	VenueEventAck           VenueEventType = "ack"
	VenueEventFill          VenueEventType = "fill"
	VenueEventReject        VenueEventType = "reject"
	VenueEventCancelConfirm VenueEventType = "cancel_confirm"
)

// VenueEvent is one report from the venue about an order. Seq is the
// venue-assigned per-order sequence number; the engine applies events for an
// order strictly in Seq order and treats a replayed Seq as a duplicate.
type VenueEvent struct {
	OrderID   string
	Seq       int64
	Type      VenueEventType
	Qty       decimal.Decimal // fills only
	Price     decimal.Decimal // fills only
	VenueRef  string          // set on ack
	Reason    string          // set on reject
	Timestamp time.Time
}
