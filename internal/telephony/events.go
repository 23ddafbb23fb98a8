package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType enumerates the channel event stream's frame types, preserved
// literally as the control plane names them.
type EventType string

const (
	EventStasisStart        EventType = "StasisStart"
	EventStasisEnd          EventType = "StasisEnd"
	EventChannelStateChange EventType = "ChannelStateChange"
	EventChannelDtmfReceived EventType = "ChannelDtmfReceived"
	EventPlaybackFinished   EventType = "PlaybackFinished"
	EventChannelDestroyed   EventType = "ChannelDestroyed"
	EventWebSocketClose     EventType = "WebSocketClose"
)

// Event is one frame off the control-plane event stream.
type Event struct {
	Type      EventType `json:"type"`
	ChannelID string    `json:"channel_id"`
	State     string    `json:"state,omitempty"`     // set on ChannelStateChange: "Ringing" | "Up"
	Digit     string    `json:"digit,omitempty"`     // set on ChannelDtmfReceived
	CauseCode int       `json:"cause_code,omitempty"` // set on ChannelDestroyed
}

// EventStream maintains the persistent connection to the control plane's
// event feed and fans frames out to per-channel subscribers. On an
// unexpected close it reconnects with a fixed backoff and re-registers the
// application name used for all channels, matching the control plane's
// Stasis application model.
type EventStream struct {
	wsURL    string
	username string
	password string
	appName  string
	backoff  time.Duration
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]chan Event // channelID -> delivery channel
	global      []chan Event          // receive every event regardless of channel

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventStream creates an EventStream. Call Run to start consuming.
func NewEventStream(wsURL, username, password, appName string, backoff time.Duration, logger *slog.Logger) *EventStream {
	return &EventStream{
		wsURL:       wsURL,
		username:    username,
		password:    password,
		appName:     appName,
		backoff:     backoff,
		logger:      logger.With("subsystem", "telephony-events"),
		subscribers: make(map[string]chan Event),
		done:        make(chan struct{}),
	}
}

// Subscribe returns a channel that receives every event for channelID until
// Unsubscribe is called. The caller must drain it promptly; delivery is
// best-effort and a full channel drops the event with a logged warning.
func (es *EventStream) Subscribe(channelID string) <-chan Event {
	ch := make(chan Event, 16)
	es.mu.Lock()
	es.subscribers[channelID] = ch
	es.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery for channelID and closes its delivery channel.
func (es *EventStream) Unsubscribe(channelID string) {
	es.mu.Lock()
	ch, ok := es.subscribers[channelID]
	delete(es.subscribers, channelID)
	es.mu.Unlock()
	if ok {
		close(ch)
	}
}

// SubscribeAll returns a channel that receives every event on the stream,
// used by the dashboard push layer and by diagnostics.
func (es *EventStream) SubscribeAll() <-chan Event {
	ch := make(chan Event, 64)
	es.mu.Lock()
	es.global = append(es.global, ch)
	es.mu.Unlock()
	return ch
}

// Run connects and consumes events until ctx is cancelled, reconnecting
// with a fixed backoff on any read error or unexpected close.
func (es *EventStream) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	es.cancel = cancel
	defer close(es.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := es.connectAndConsume(ctx); err != nil {
			es.logger.Warn("event stream disconnected, reconnecting",
				"error", err, "backoff", es.backoff)
			es.dispatch(Event{Type: EventWebSocketClose})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(es.backoff):
		}
	}
}

// Stop signals Run to exit and waits for it to finish.
func (es *EventStream) Stop() {
	if es.cancel != nil {
		es.cancel()
	}
	<-es.done
}

func (es *EventStream) connectAndConsume(ctx context.Context) error {
	u, err := url.Parse(es.wsURL)
	if err != nil {
		return fmt.Errorf("parsing event stream url: %w", err)
	}
	q := u.Query()
	q.Set("app", es.appName)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(map[string][]string)
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("dialing event stream: %w", err)
	}
	defer conn.Close()

	es.logger.Info("event stream connected, application registered", "app", es.appName)

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading event frame: %w", err)
		}

		var evt Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			es.logger.Warn("discarding malformed event frame", "error", err)
			continue
		}
		es.dispatch(evt)
	}
}

func (es *EventStream) dispatch(evt Event) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	if ch, ok := es.subscribers[evt.ChannelID]; ok {
		select {
		case ch <- evt:
		default:
			es.logger.Warn("subscriber channel full, dropping event",
				"channel_id", evt.ChannelID, "type", evt.Type)
		}
	}
	for _, ch := range es.global {
		select {
		case ch <- evt:
		default:
			es.logger.Warn("global event subscriber full, dropping event", "type", evt.Type)
		}
	}
}
