package handler

import (
	"encoding/json"
	"testing"
	"time"
)

func newTestConn(userID string) *WSConn {
	return &WSConn{
		conn:   nil, // no real connection for hub tests
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")

	hub.Register(c)
	if hub.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", hub.ConnectionCount())
	}

	hub.Unregister(c)
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")
	hub.Register(c)
	defer hub.Unregister(c)

	hub.Subscribe(c, "match-1")
	if hub.MatchSubscriberCount("match-1") != 1 {
		t.Errorf("expected 1 subscriber, got %d", hub.MatchSubscriberCount("match-1"))
	}

	hub.Unsubscribe(c, "match-1")
	if hub.MatchSubscriberCount("match-1") != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.MatchSubscriberCount("match-1"))
	}
}

func TestHubBroadcastToMatch(t *testing.T) {
	hub := NewHub()
	c1 := newTestConn("user-1")
	c2 := newTestConn("user-2")
	c3 := newTestConn("user-3") // not subscribed

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)
	defer hub.Unregister(c3)

	hub.Subscribe(c1, "match-1")
	hub.Subscribe(c2, "match-1")

	hub.BroadcastToMatch("match-1", WSEvent{Type: EventPhaseChanged, MatchID: "match-1", Data: map[string]string{"state": "DAY"}})

	for _, c := range []*WSConn{c1, c2} {
		select {
		case raw := <-c.send:
			var ev WSEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if ev.Type != EventPhaseChanged || ev.MatchID != "match-1" {
				t.Errorf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s got no event", c.userID)
		}
	}

	select {
	case <-c3.send:
		t.Error("unsubscribed connection received event")
	default:
	}
}

func TestHubBroadcastToUser(t *testing.T) {
	hub := NewHub()
	c1 := newTestConn("user-1")
	c2 := newTestConn("user-2")
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.BroadcastToUser("user-1", WSEvent{Type: EventMessage, MatchID: "match-1"})

	select {
	case <-c1.send:
	case <-time.After(time.Second):
		t.Fatal("target user got no event")
	}
	select {
	case <-c2.send:
		t.Error("other user received private event")
	default:
	}
}

func TestHubUnregisterDropsSubscriptions(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")
	hub.Register(c)
	hub.Subscribe(c, "match-1")

	hub.Unregister(c)
	if hub.MatchSubscriberCount("match-1") != 0 {
		t.Errorf("subscription survived unregister")
	}
}

func TestHubBroadcastMatchEventImplementsBroadcaster(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")
	hub.Register(c)
	defer hub.Unregister(c)
	hub.Subscribe(c, "match-1")

	hub.BroadcastMatchEvent("match-1", EventMatchEnded, map[string]string{"winner": "wolves"})

	select {
	case raw := <-c.send:
		var ev WSEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type != EventMatchEnded {
			t.Errorf("event type = %s, want %s", ev.Type, EventMatchEnded)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}
