package duel

import (
	"context"
	"encoding/json"
	"testing"

	"codeclash/structs"

	"github.com/alicebob/miniredis/v2"
)

func setupRedis(t *testing.T) {
	t.Helper()
	mr := miniredis.RunT(t)
	if err := InitRedis(mr.Addr(), "", 0); err != nil {
		t.Fatalf("init redis: %v", err)
	}
	t.Cleanup(func() { rdb = nil })
}

func TestPublisherRoundTrip(t *testing.T) {
	setupRedis(t)

	p := NewRedisPublisher()
	if p == nil {
		t.Fatal("publisher nil with redis configured")
	}

	p.Publish("s1", structs.ServerMessage{Type: structs.MsgDuelStarted, Status: "in_progress"})
	p.Publish("s1", structs.ServerMessage{Type: structs.MsgProgressUpdate, UserID: "u1"})

	msgs, err := p.ReadEvents(context.Background(), "s1", "", 10)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(msgs))
	}

	event, err := UnmarshalStreamEvent(msgs[0].Values["data"].(string))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != structs.MsgDuelStarted {
		t.Fatalf("expected duel_started first, got %s", event.Type)
	}
	var payload structs.ServerMessage
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Status != "in_progress" {
		t.Fatalf("payload lost data: %+v", payload)
	}

	// Streams are isolated per session.
	other, err := p.ReadEvents(context.Background(), "s2", "", 10)
	if err != nil {
		t.Fatalf("read empty stream: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected empty stream for s2, got %d", len(other))
	}
}

func TestNilPublisherWithoutRedis(t *testing.T) {
	rdb = nil
	if p := NewRedisPublisher(); p != nil {
		t.Fatal("expected nil publisher without redis")
	}
}

func TestRateLimiterRedisWindow(t *testing.T) {
	setupRedis(t)

	rl := NewRateLimiter(3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("s1", "u1") {
			t.Fatalf("request %d within limit rejected", i+1)
		}
	}
	if rl.Allow("s1", "u1") {
		t.Fatal("request over limit allowed")
	}
	// Other participants have their own window.
	if !rl.Allow("s1", "u2") {
		t.Fatal("separate user rejected")
	}
}

func TestRateLimiterLocalFallback(t *testing.T) {
	rdb = nil
	rl := NewRateLimiter(2)
	if !rl.Allow("s1", "u1") || !rl.Allow("s1", "u1") {
		t.Fatal("in-memory window rejected requests within limit")
	}
	if rl.Allow("s1", "u1") {
		t.Fatal("in-memory window allowed request over limit")
	}
	if !rl.Allow("s2", "u1") {
		t.Fatal("windows must be per session")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !rl.Allow("s", "u") {
			t.Fatal("zero limit must disable rate limiting")
		}
	}
}
