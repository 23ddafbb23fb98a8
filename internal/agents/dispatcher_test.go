package agents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/voxdialer/engine/internal/database/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAgentEvents struct {
	created []models.AgentEvent
	exists  bool
}

func (f *fakeAgentEvents) Create(ctx context.Context, e *models.AgentEvent) error {
	f.created = append(f.created, *e)
	return nil
}
func (f *fakeAgentEvents) ExistsSince(ctx context.Context, eventType models.AgentEventType, agentID, contactID int64, sinceUnix int64) (bool, error) {
	return f.exists, nil
}
func (f *fakeAgentEvents) ListByAgent(ctx context.Context, agentID int64, limit int) ([]models.AgentEvent, error) {
	return nil, errors.New("not implemented")
}

func newTestDispatcher(events *fakeAgentEvents) *Dispatcher {
	return New(nil, nil, events, time.Second, 300*time.Second, 10*time.Second, testLogger())
}

func TestLeastBusyAvailablePicksFewestCallsToday(t *testing.T) {
	d := newTestDispatcher(&fakeAgentEvents{})
	d.RegisterAgent(1, "101")
	d.RegisterAgent(2, "102")
	d.agents[1].TotalCallsToday = 3
	d.agents[2].TotalCallsToday = 1

	best := d.leastBusyAvailableLocked()
	if best == nil || best.AgentID != 2 {
		t.Fatalf("expected agent 2 (fewest calls today), got %+v", best)
	}
}

func TestLeastBusyAvailableTiesBreakByFirstSeen(t *testing.T) {
	d := newTestDispatcher(&fakeAgentEvents{})
	d.RegisterAgent(1, "101")
	d.RegisterAgent(2, "102")

	best := d.leastBusyAvailableLocked()
	if best == nil || best.AgentID != 1 {
		t.Fatalf("expected agent 1 (first registered, tied on calls today), got %+v", best)
	}
}

func TestLeastBusyAvailableExcludesOnCall(t *testing.T) {
	d := newTestDispatcher(&fakeAgentEvents{})
	d.RegisterAgent(1, "101")
	d.agents[1].Status = StatusOnCall

	best := d.leastBusyAvailableLocked()
	if best != nil {
		t.Fatalf("expected ON_CALL agents to be ineligible, got %+v", best)
	}
}

func TestLeastBusyAvailableSkipsOffline(t *testing.T) {
	d := newTestDispatcher(&fakeAgentEvents{})
	d.RegisterAgent(1, "101")
	d.agents[1].Status = StatusOffline
	d.RegisterAgent(2, "102")
	d.agents[2].Status = StatusBreak

	best := d.leastBusyAvailableLocked()
	if best != nil {
		t.Fatalf("expected no available agent, got %+v", best)
	}
}

func TestOnAgentCallFinishedDedupsWithinWindow(t *testing.T) {
	events := &fakeAgentEvents{}
	d := newTestDispatcher(events)
	d.RegisterAgent(1, "101")
	d.agents[1].ActiveCalls = 1

	if err := d.OnAgentCallFinished(context.Background(), 1, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.OnAgentCallFinished(context.Background(), 1, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events.created) != 1 {
		t.Errorf("expected exactly one persisted FINISHED event, got %d", len(events.created))
	}
	if d.agents[1].ActiveCalls != 0 {
		t.Errorf("ActiveCalls = %d, want 0 after call finished", d.agents[1].ActiveCalls)
	}
	if d.agents[1].Status != StatusAvailable {
		t.Errorf("Status = %v, want AVAILABLE once active calls reach zero", d.agents[1].Status)
	}
}

func TestOnAgentCallFinishedSkipsWhenAlreadyPersisted(t *testing.T) {
	events := &fakeAgentEvents{exists: true}
	d := newTestDispatcher(events)
	d.RegisterAgent(1, "101")

	if err := d.OnAgentCallFinished(context.Background(), 1, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events.created) != 0 {
		t.Errorf("expected no new event when a matching one is already persisted, got %d", len(events.created))
	}
}

func TestSetStatusRecordsBreakPeriod(t *testing.T) {
	d := newTestDispatcher(&fakeAgentEvents{})
	d.RegisterAgent(1, "101")

	if err := d.SetStatus(context.Background(), 1, StatusBreak); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.SetStatus(context.Background(), 1, StatusAvailable); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(d.agents[1].BreakHistory) != 1 {
		t.Fatalf("expected one recorded break period, got %d", len(d.agents[1].BreakHistory))
	}
	if d.agents[1].BreakHistory[0].End.IsZero() {
		t.Error("expected break period to have an End timestamp once the agent returned")
	}
}

func TestSetStatusUnknownAgent(t *testing.T) {
	d := newTestDispatcher(&fakeAgentEvents{})
	if err := d.SetStatus(context.Background(), 99, StatusAvailable); err == nil {
		t.Fatal("expected error for unregistered agent")
	}
}
