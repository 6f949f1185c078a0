// Package chat fans live chat feed events out to stream subscribers.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/strmly/strmly/internal/domain"
)

// subscriberBuffer bounds each subscriber's backlog. Slow subscribers drop
// events and are flagged as lagged.
const subscriberBuffer = 64

// Publisher delivers feed events to every viewer of a stream.
type Publisher interface {
	Publish(ctx context.Context, ev domain.FeedEvent) error
}

// Subscriber receives the events of one stream in publish order. Lagged is
// closed on the first dropped event; the feed has a gap from then on and the
// viewer should reload history.
type Subscriber struct {
	ID       int64
	StreamID string
	Events   <-chan domain.FeedEvent
	Lagged   <-chan struct{}

	events  chan domain.FeedEvent
	lagged  chan struct{}
	lagOnce sync.Once
	dropped atomic.Int64
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscriber) markLagged() {
	s.lagOnce.Do(func() { close(s.lagged) })
}

// Hub is the in-process feed. It implements Publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]*Subscriber
	nextID atomic.Int64
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[int64]*Subscriber),
		logger: logger,
	}
}

// Subscribe registers a subscriber for streamID.
func (h *Hub) Subscribe(streamID string) *Subscriber {
	ch := make(chan domain.FeedEvent, subscriberBuffer)
	lagged := make(chan struct{})
	sub := &Subscriber{
		ID:       h.nextID.Add(1),
		StreamID: streamID,
		Events:   ch,
		Lagged:   lagged,
		events:   ch,
		lagged:   lagged,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[streamID]; !ok {
		h.subs[streamID] = make(map[int64]*Subscriber)
	}
	h.subs[streamID][sub.ID] = sub
	h.logger.Debug("Chat subscriber registered", "stream_id", streamID, "subscriber_id", sub.ID)
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[sub.StreamID]
	if !ok {
		return
	}
	if current, exists := subs[sub.ID]; exists && current == sub {
		delete(subs, sub.ID)
		close(sub.events)
		if len(subs) == 0 {
			delete(h.subs, sub.StreamID)
		}
		h.logger.Debug("Chat subscriber unregistered", "stream_id", sub.StreamID, "subscriber_id", sub.ID)
	}
}

// Publish broadcasts ev to the stream's subscribers without blocking.
func (h *Hub) Publish(_ context.Context, ev domain.FeedEvent) error {
	h.Broadcast(ev)
	return nil
}

// Broadcast fans ev out to local subscribers.
func (h *Hub) Broadcast(ev domain.FeedEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[ev.StreamID] {
		select {
		case sub.events <- ev:
		default:
			sub.dropped.Add(1)
			sub.markLagged()
			h.logger.Warn("Chat subscriber buffer full, dropping event",
				"stream_id", ev.StreamID,
				"subscriber_id", sub.ID,
				"type", ev.Type,
			)
		}
	}
}

// SubscriberCount returns the number of subscribers of streamID.
func (h *Hub) SubscriberCount(streamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[streamID])
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for streamID, subs := range h.subs {
		for _, sub := range subs {
			close(sub.events)
		}
		delete(h.subs, streamID)
	}
}
