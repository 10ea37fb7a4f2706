package marketplace

import (
	"context"
	"time"
)

type EventType string

const (
	EventItemCreated     EventType = "item_created"
	EventListing         EventType = "listing"
	EventCancel          EventType = "cancel"
	EventItemSold        EventType = "item_sold"
	EventAuctionStarted  EventType = "auction_started"
	EventBid             EventType = "bid"
	EventAuctionFinished EventType = "auction_finished"
	EventAuctionCanceled EventType = "auction_canceled"
	EventDurationChanged EventType = "duration_changed"
	EventMinBidsChanged  EventType = "min_bids_changed"
)

// Event is the audit record emitted after every successful state change.
// Amount carries the price or bid as a decimal string; DurationSec and
// MinBids are set only on configuration events.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	AssetID     uint64    `json:"assetId"`
	Seller      string    `json:"seller,omitempty"`
	Buyer       string    `json:"buyer,omitempty"`
	Bidder      string    `json:"bidder,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	URI         string    `json:"uri,omitempty"`
	DurationSec int64     `json:"durationSec,omitempty"`
	MinBids     uint64    `json:"minBids,omitempty"`
	At          time.Time `json:"at"`
}

// Sink receives emitted events. Implementations must not fail the
// originating operation; delivery problems are theirs to log.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// Sinks fans an event out to several sinks in order.
type Sinks []Sink

func (s Sinks) Publish(ctx context.Context, ev Event) {
	for _, sink := range s {
		sink.Publish(ctx, ev)
	}
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }
