package chat

import (
	"context"
	"testing"
	"time"

	"github.com/strmly/strmly/internal/domain"
)

func recvEvent(t *testing.T, ch <-chan domain.FeedEvent) domain.FeedEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for feed event")
	}
	return domain.FeedEvent{}
}

func TestHubDeliversInOrderPerStream(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Subscribe("play-1")
	other := hub.Subscribe("play-2")

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := hub.Publish(context.Background(), domain.FeedEvent{Type: domain.FeedInsert, StreamID: "play-1", MessageID: id}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for _, want := range []string{"m1", "m2", "m3"} {
		if got := recvEvent(t, a.Events); got.MessageID != want {
			t.Fatalf("expected %s, got %s", want, got.MessageID)
		}
	}
	select {
	case ev := <-other.Events:
		t.Fatalf("other stream received %+v", ev)
	default:
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("play-1")
	hub.Unsubscribe(sub)

	if _, ok := <-sub.Events; ok {
		t.Fatal("expected closed channel")
	}
	if hub.SubscriberCount("play-1") != 0 {
		t.Fatal("subscriber not removed")
	}
	// Second unsubscribe must not panic on a closed channel.
	hub.Unsubscribe(sub)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("play-1")

	for range subscriberBuffer + 5 {
		hub.Broadcast(domain.FeedEvent{Type: domain.FeedInsert, StreamID: "play-1"})
	}
	if sub.Dropped() != 5 {
		t.Fatalf("expected 5 dropped events, got %d", sub.Dropped())
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent(`{"type":"delete","stream_id":"play-1","message_id":"m1","at":"2025-01-01T00:00:00Z"}`)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if ev.Type != domain.FeedDelete || ev.MessageID != "m1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, err := decodeEvent(`{"type":"insert"}`); err == nil {
		t.Fatal("expected error without stream id")
	}
}

func TestHubFlagsLaggedSubscriberOnFirstDrop(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("play-1")
	fast := hub.Subscribe("play-1")

	for range subscriberBuffer {
		hub.Broadcast(domain.FeedEvent{Type: domain.FeedInsert, StreamID: "play-1"})
	}
	select {
	case <-sub.Lagged:
		t.Fatal("subscriber flagged before any drop")
	default:
	}

	for range subscriberBuffer {
		<-fast.Events
	}
	hub.Broadcast(domain.FeedEvent{Type: domain.FeedInsert, StreamID: "play-1"})
	hub.Broadcast(domain.FeedEvent{Type: domain.FeedInsert, StreamID: "play-1"})

	select {
	case <-sub.Lagged:
	case <-time.After(time.Second):
		t.Fatal("expected lagged signal after a drop")
	}
	select {
	case <-fast.Lagged:
		t.Fatal("drained subscriber must not be flagged")
	default:
	}
}
