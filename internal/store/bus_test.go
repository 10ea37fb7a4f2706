package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Goshimadev/HeroesMarketplace/internal/marketplace"
)

func inProcessBus() *Bus {
	return &Bus{hub: NewPubSubHub(), logger: zap.NewNop().Sugar()}
}

func TestBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := inProcessBus()
	msgs, closeSub := bus.Subscribe(ctx, EventChannel)
	defer closeSub()

	require.NoError(t, bus.Publish(ctx, EventChannel, `{"type":"bid"}`))

	select {
	case msg := <-msgs:
		assert.Equal(t, EventChannel, msg.Channel)
		assert.JSONEq(t, `{"type":"bid"}`, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestBusSinkCarriesEventJSON(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := inProcessBus()
	msgs, closeSub := bus.Subscribe(ctx, EventChannel)
	defer closeSub()

	bus.Sink().Publish(ctx, marketplace.Event{
		ID:      "ev-1",
		Type:    marketplace.EventBid,
		AssetID: 3,
		Bidder:  "0xbidder",
		Amount:  "200",
	})

	select {
	case msg := <-msgs:
		var ev marketplace.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, marketplace.EventBid, ev.Type)
		assert.EqualValues(t, 3, ev.AssetID)
		assert.Equal(t, "200", ev.Amount)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	bus := inProcessBus()
	msgs, _ := bus.Subscribe(ctx, EventChannel)
	cancel()

	select {
	case _, open := <-msgs:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
}
