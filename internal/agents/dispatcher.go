// Package agents assigns queued, transferred calls to available agents on
// a least-calls basis, tracks agent status, and exposes supervisor spy
// (silent monitor) against an agent's active channel.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxdialer/engine/internal/database"
	"github.com/voxdialer/engine/internal/database/models"
	"github.com/voxdialer/engine/internal/metrics"
	"github.com/voxdialer/engine/internal/telephony"
)

// Status is an agent's current dispatcher-visible state.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusOnCall    Status = "ON_CALL"
	StatusBreak     Status = "BREAK"
	StatusOffline   Status = "OFFLINE"
)

// AgentState is the in-memory record the dispatcher maintains per agent.
// It is rebuilt from registrations at process start; unlike Contact or
// Commitment it is never persisted, since it reflects live call-handling
// capacity rather than campaign history.
type AgentState struct {
	AgentID         int64
	Extension       string
	Status          Status
	ActiveCalls     int
	ActiveChannel   string
	LastAssignedAt  time.Time
	BreakHistory    []BreakPeriod
	TotalCallsToday int
	CurrentContact  *int64

	seq int64 // registration order, for least-calls tie-breaking
}

// BreakPeriod records one completed break, for reporting.
type BreakPeriod struct {
	Start time.Time
	End   time.Time
}

// QueueEntry is one call waiting for an agent, in FIFO order.
type QueueEntry struct {
	CampaignID int64
	ContactID  int64
	ChannelID  string
	EnqueuedAt time.Time
}

// Dispatcher assigns queued calls to agents on a least-calls basis and
// tracks agent presence. Agent and queue state is guarded by a single mutex
// (spy bookkeeping has its own); the assignment pass and status changes are
// infrequent enough that this never becomes a contention point.
type Dispatcher struct {
	client *telephony.Client
	events *telephony.EventStream
	agentEvents database.AgentEventRepository
	logger      *slog.Logger

	mu      sync.Mutex
	agents  map[int64]*AgentState
	queue   []QueueEntry
	nextSeq int64

	assignTick    time.Duration
	queueTimeout  time.Duration
	dedupWindow   time.Duration
	recentFinish  map[string]time.Time // "agentID:contactID" -> last seen

	spyMu   sync.Mutex
	spyDone map[string]chan struct{} // snoop channel ID -> completion signal
}

// New creates a Dispatcher.
func New(
	client *telephony.Client,
	events *telephony.EventStream,
	agentEvents database.AgentEventRepository,
	assignTick, queueTimeout, dedupWindow time.Duration,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		client:       client,
		events:       events,
		agentEvents:  agentEvents,
		agents:       make(map[int64]*AgentState),
		recentFinish: make(map[string]time.Time),
		spyDone:      make(map[string]chan struct{}),
		assignTick:   assignTick,
		queueTimeout: queueTimeout,
		dedupWindow:  dedupWindow,
		logger:       logger.With("subsystem", "agent-dispatcher"),
	}
}

// RegisterAgent adds or updates an agent's presence, defaulting to
// AVAILABLE. Called when an agent's softphone registers.
func (d *Dispatcher) RegisterAgent(agentID int64, extension string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[agentID]
	if !ok {
		d.nextSeq++
		a = &AgentState{AgentID: agentID, Extension: extension, seq: d.nextSeq}
		d.agents[agentID] = a
	}
	a.Status = StatusAvailable
}

// SetStatus transitions an agent's status. Moving into BREAK records the
// start time; moving out of BREAK closes the open BreakPeriod.
func (d *Dispatcher) SetStatus(ctx context.Context, agentID int64, status Status) error {
	d.mu.Lock()
	a, ok := d.agents[agentID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("agent %d is not registered", agentID)
	}

	now := time.Now()
	if status == StatusBreak && a.Status != StatusBreak {
		a.BreakHistory = append(a.BreakHistory, BreakPeriod{Start: now})
		_ = d.recordEvent(ctx, models.AgentEventBreakStarted, agentID, nil, nil, "")
	}
	if a.Status == StatusBreak && status != StatusBreak {
		if n := len(a.BreakHistory); n > 0 && a.BreakHistory[n-1].End.IsZero() {
			a.BreakHistory[n-1].End = now
		}
		_ = d.recordEvent(ctx, models.AgentEventBreakEnded, agentID, nil, nil, "")
	}
	a.Status = status
	d.mu.Unlock()
	return nil
}

// TransferToAgent enqueues a call for the next available agent. It
// satisfies ivr.AgentTransferrer.
func (d *Dispatcher) TransferToAgent(ctx context.Context, campaignID, contactID int64, channelID string) {
	d.mu.Lock()
	d.queue = append(d.queue, QueueEntry{
		CampaignID: campaignID,
		ContactID:  contactID,
		ChannelID:  channelID,
		EnqueuedAt: time.Now(),
	})
	position := len(d.queue)
	d.mu.Unlock()

	d.logger.Info("call transferred to agent queue",
		"contact_id", contactID, "campaign_id", campaignID, "position", position)

	sub := d.events.Subscribe(channelID)
	go d.waitOutOfQueue(ctx, channelID, sub)
}

// waitOutOfQueue drops a caller's queue entry if the channel itself is
// destroyed (hangup) before an agent picks it up, so abandoned calls don't
// sit in the queue forever.
func (d *Dispatcher) waitOutOfQueue(ctx context.Context, channelID string, sub <-chan telephony.Event) {
	defer d.events.Unsubscribe(channelID)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.Type == telephony.EventChannelDestroyed || evt.Type == telephony.EventStasisEnd {
				d.removeFromQueue(channelID)
				return
			}
		}
	}
}

func (d *Dispatcher) removeFromQueue(channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.queue {
		if e.ChannelID == channelID {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			_ = d.recordEvent(context.Background(), models.AgentEventAbandoned, 0, &e.ContactID, &e.CampaignID, "caller hung up while queued")
			return
		}
	}
}

// Run ticks every assignTick, assigning the longest-waiting queued call to
// the available agent with the fewest calls taken today, and expiring entries
// that have waited longer than queueTimeout.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.assignTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.assignPass(ctx)
		}
	}
}

func (d *Dispatcher) assignPass(ctx context.Context) {
	d.mu.Lock()
	now := time.Now()

	var survivors []QueueEntry
	for _, e := range d.queue {
		if now.Sub(e.EnqueuedAt) > d.queueTimeout {
			d.logger.Info("queue entry timed out waiting for an agent", "contact_id", e.ContactID, "waited", now.Sub(e.EnqueuedAt))
			go func(entry QueueEntry) {
				_ = d.client.Hangup(context.Background(), entry.ChannelID)
				_ = d.recordEvent(context.Background(), models.AgentEventTimeout, 0, &entry.ContactID, &entry.CampaignID, "queue timeout")
			}(e)
			continue
		}
		survivors = append(survivors, e)
	}
	d.queue = survivors

	if len(d.queue) == 0 {
		d.mu.Unlock()
		return
	}

	agent := d.leastBusyAvailableLocked()
	if agent == nil {
		d.mu.Unlock()
		return
	}

	entry := d.queue[0]
	d.queue = d.queue[1:]
	contactID := entry.ContactID
	agent.ActiveCalls++
	agent.TotalCallsToday++
	agent.CurrentContact = &contactID
	agent.ActiveChannel = entry.ChannelID
	agent.LastAssignedAt = now
	agent.Status = StatusOnCall
	agentID := agent.AgentID
	extension := agent.Extension
	d.mu.Unlock()

	d.logger.Info("assigning queued call to agent", "agent_id", agentID, "contact_id", entry.ContactID)
	_ = d.recordEvent(ctx, models.AgentEventAssigned, agentID, &entry.ContactID, &entry.CampaignID, "")

	if err := d.bridgeToAgent(ctx, agentID, extension, entry.ChannelID); err != nil {
		d.logger.Error("bridging caller to agent failed, rolling back",
			"agent_id", agentID, "contact_id", entry.ContactID, "channel_id", entry.ChannelID, "error", err)
		d.rollbackAssignment(agentID, entry)
		return
	}

	d.logger.Info("caller bridged to agent", "agent_id", agentID, "contact_id", entry.ContactID)
	_ = d.recordEvent(ctx, models.AgentEventConnected, agentID, &entry.ContactID, &entry.CampaignID, "")
}

// leastBusyAvailableLocked must be called with d.mu held. Only agents
// currently AVAILABLE are eligible; among those, the one with the fewest
// calls taken today wins, ties broken by registration order.
func (d *Dispatcher) leastBusyAvailableLocked() *AgentState {
	var best *AgentState
	for _, a := range d.agents {
		if a.Status != StatusAvailable {
			continue
		}
		if best == nil ||
			a.TotalCallsToday < best.TotalCallsToday ||
			(a.TotalCallsToday == best.TotalCallsToday && a.seq < best.seq) {
			best = a
		}
	}
	return best
}

// bridgeToAgent originates a channel to the agent's extension and mixes it
// with the caller's channel in a fresh bridge. Any failure tears down
// whatever was already created.
func (d *Dispatcher) bridgeToAgent(ctx context.Context, agentID int64, extension, callerChannelID string) error {
	bridge, err := d.client.CreateBridge(ctx)
	if err != nil {
		return fmt.Errorf("creating agent bridge: %w", err)
	}

	agentChannelID := uuid.NewString()
	_, err = d.client.Originate(ctx, telephony.OriginateParams{
		Endpoint:  fmt.Sprintf("SIP/%s", extension),
		ChannelID: agentChannelID,
		Variables: map[string]string{"AGENT_ID": fmt.Sprintf("%d", agentID)},
	})
	if err != nil {
		_ = d.client.DestroyBridge(context.Background(), bridge.ID)
		return fmt.Errorf("originating agent leg to extension %s: %w", extension, err)
	}

	if err := d.client.AddChannelToBridge(ctx, bridge.ID, callerChannelID); err != nil {
		_ = d.client.Hangup(context.Background(), agentChannelID)
		_ = d.client.DestroyBridge(context.Background(), bridge.ID)
		return fmt.Errorf("adding caller channel to bridge: %w", err)
	}
	if err := d.client.AddChannelToBridge(ctx, bridge.ID, agentChannelID); err != nil {
		_ = d.client.Hangup(context.Background(), agentChannelID)
		_ = d.client.DestroyBridge(context.Background(), bridge.ID)
		return fmt.Errorf("adding agent channel to bridge: %w", err)
	}
	return nil
}

// rollbackAssignment undoes the tentative agent-state mutations assignPass
// made in anticipation of a successful bridge, and returns the caller to
// the front of the queue so it is retried on the next tick.
func (d *Dispatcher) rollbackAssignment(agentID int64, entry QueueEntry) {
	d.mu.Lock()
	if a, ok := d.agents[agentID]; ok {
		if a.ActiveCalls > 0 {
			a.ActiveCalls--
		}
		if a.TotalCallsToday > 0 {
			a.TotalCallsToday--
		}
		a.CurrentContact = nil
		a.ActiveChannel = ""
		a.Status = StatusAvailable
	}
	d.queue = append([]QueueEntry{entry}, d.queue...)
	d.mu.Unlock()
}

// OnAgentCallFinished records a FINISHED event for agentID/contactID,
// deduplicating notifications that arrive more than once within
// dedupWindow — both via a short-lived in-memory map for same-process
// duplicates and via the persisted event log for duplicates that arrive
// after a restart.
func (d *Dispatcher) OnAgentCallFinished(ctx context.Context, agentID, contactID int64) error {
	key := fmt.Sprintf("%d:%d", agentID, contactID)
	now := time.Now()

	d.mu.Lock()
	if last, ok := d.recentFinish[key]; ok && now.Sub(last) < d.dedupWindow {
		d.mu.Unlock()
		return nil
	}
	d.recentFinish[key] = now
	if a, ok := d.agents[agentID]; ok {
		if a.ActiveCalls > 0 {
			a.ActiveCalls--
		}
		if a.ActiveCalls == 0 {
			a.Status = StatusAvailable
			a.ActiveChannel = ""
			a.CurrentContact = nil
		}
	}
	d.mu.Unlock()

	since := now.Add(-d.dedupWindow).Unix()
	exists, err := d.agentEvents.ExistsSince(ctx, models.AgentEventFinished, agentID, contactID, since)
	if err != nil {
		return fmt.Errorf("checking for duplicate finished event: %w", err)
	}
	if exists {
		return nil
	}
	return d.recordEvent(ctx, models.AgentEventFinished, agentID, &contactID, nil, "")
}

func (d *Dispatcher) recordEvent(ctx context.Context, eventType models.AgentEventType, agentID int64, contactID, campaignID *int64, detail string) error {
	return d.agentEvents.Create(ctx, &models.AgentEvent{
		Type:       eventType,
		AgentID:    agentID,
		ContactID:  contactID,
		CampaignID: campaignID,
		Detail:     detail,
	})
}

// SpyCall starts a silent (listen-only) snoop of an agent's active channel
// for a supervisor, bridging the resulting audio into a fresh channel the
// caller can add to its own session. It returns that channel's ID.
func (d *Dispatcher) SpyCall(ctx context.Context, agentID int64) (string, error) {
	d.mu.Lock()
	a, ok := d.agents[agentID]
	d.mu.Unlock()
	if !ok || a.ActiveChannel == "" {
		return "", fmt.Errorf("agent %d has no active channel to spy on", agentID)
	}

	spyChannelID := uuid.NewString()
	ch, err := d.client.Snoop(ctx, a.ActiveChannel, spyChannelID)
	if err != nil {
		return "", fmt.Errorf("starting spy snoop on agent %d: %w", agentID, err)
	}

	done := make(chan struct{})
	d.spyMu.Lock()
	d.spyDone[ch.ID] = done
	d.spyMu.Unlock()

	sub := d.events.Subscribe(ch.ID)
	go func() {
		defer d.events.Unsubscribe(ch.ID)
		defer close(done)
		for evt := range sub {
			if evt.Type == telephony.EventChannelDestroyed || evt.Type == telephony.EventStasisEnd {
				return
			}
		}
	}()

	return ch.ID, nil
}

// StopSpy hangs up a snoop channel started by SpyCall and waits for its
// correlation goroutine to observe the resulting destroy event.
func (d *Dispatcher) StopSpy(ctx context.Context, spyChannelID string) error {
	if err := d.client.Hangup(ctx, spyChannelID); err != nil {
		return fmt.Errorf("hanging up spy channel: %w", err)
	}
	d.spyMu.Lock()
	done, ok := d.spyDone[spyChannelID]
	delete(d.spyDone, spyChannelID)
	d.spyMu.Unlock()
	if ok {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

// Snapshot returns a point-in-time copy of every registered agent's state,
// used by the dashboard push layer and admin endpoints.
func (d *Dispatcher) Snapshot() []AgentState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]AgentState, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, *a)
	}
	return out
}

// QueueDepth returns the number of calls currently waiting for an agent.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// AllAgentStatuses implements metrics.AgentStatusProvider.
func (d *Dispatcher) AllAgentStatuses() []metrics.AgentStatusEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]metrics.AgentStatusEntry, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, metrics.AgentStatusEntry{AgentID: a.AgentID, Status: string(a.Status)})
	}
	return out
}
