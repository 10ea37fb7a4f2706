package store

import (
	"context"
	"sync"
)

// Message mirrors the shape of a redis.Message for in-memory delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription is one subscriber's view of the hub.
type Subscription struct {
	channels map[string]bool
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newSubscription(channels []string) *Subscription {
	channelMap := make(map[string]bool)
	for _, ch := range channels {
		channelMap[ch] = true
	}

	return &Subscription{
		channels: channelMap,
		msgChan:  make(chan *Message, 100),
		closeCh:  make(chan struct{}),
	}
}

func (s *Subscription) Channel() <-chan *Message {
	return s.msgChan
}

func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.closeCh)
		close(s.msgChan)
	}
	return nil
}

func (s *Subscription) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// send is non-blocking: a full subscriber drops the message rather than
// stalling the publisher.
func (s *Subscription) send(msg *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.channels[msg.Channel] {
		return
	}

	select {
	case s.msgChan <- msg:
	default:
	}
}

// PubSubHub is the in-process fallback used when Redis is unavailable, so
// WebSocket streaming keeps working in single-node deployments.
type PubSubHub struct {
	subscribers map[string][]*Subscription // channel -> subscribers
	mu          sync.RWMutex
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{
		subscribers: make(map[string][]*Subscription),
	}
}

func (h *PubSubHub) Subscribe(ctx context.Context, channels ...string) *Subscription {
	sub := newSubscription(channels)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, channel := range channels {
		h.subscribers[channel] = append(h.subscribers[channel], sub)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}

		h.mu.Lock()
		defer h.mu.Unlock()

		for _, channel := range channels {
			subs := h.subscribers[channel]
			for i, s := range subs {
				if s == sub {
					h.subscribers[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(h.subscribers[channel]) == 0 {
				delete(h.subscribers, channel)
			}
		}
	}()

	return sub
}

func (h *PubSubHub) Publish(channel, payload string) {
	h.mu.RLock()
	subs := make([]*Subscription, len(h.subscribers[channel]))
	copy(subs, h.subscribers[channel])
	h.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	msg := &Message{Channel: channel, Payload: payload}
	for _, sub := range subs {
		if !sub.isClosed() {
			sub.send(msg)
		}
	}
}
