package push

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUserRoomFormat(t *testing.T) {
	if got := UserRoom(42); got != "user:42" {
		t.Errorf("UserRoom(42) = %q, want user:42", got)
	}
}

func TestPublishDeliversToRoomAndAdmin(t *testing.T) {
	h := NewHub(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	userClient := &client{hub: h, send: make(chan []byte, 4), userID: 1, rooms: map[string]struct{}{UserRoom(1): {}}, limiter: rate.NewLimiter(rate.Every(time.Millisecond), 1)}
	adminClient := &client{hub: h, send: make(chan []byte, 4), userID: 2, rooms: map[string]struct{}{AdminRoom: {}}, limiter: rate.NewLimiter(rate.Every(time.Millisecond), 1)}

	h.register <- userClient
	h.register <- adminClient
	time.Sleep(10 * time.Millisecond) // let Run drain the register channel

	h.Publish(UserRoom(1), "call_initiated", map[string]any{"contactId": 7})

	select {
	case frame := <-userClient.send:
		var evt Event
		if err := json.Unmarshal(frame, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt.Type != "call_initiated" {
			t.Errorf("Type = %q, want call_initiated", evt.Type)
		}
	case <-time.After(time.Second):
		t.Error("expected user room client to receive the event")
	}

	select {
	case <-adminClient.send:
	case <-time.After(time.Second):
		t.Error("expected admin room to mirror the event")
	}
}

func TestMaxSocketsPerUserConstant(t *testing.T) {
	if maxSocketsPerUser != 5 {
		t.Errorf("maxSocketsPerUser = %d, want 5", maxSocketsPerUser)
	}
}
