// Package push fans out dashboard events over per-user websocket rooms: a
// user sees only their own campaigns' events, plus a dedicated admin room
// that mirrors everything, matching the control-plane event stream's
// one-way delivery model on the outbound adapter.
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// AdminRoom is the room every event is additionally published to.
const AdminRoom = "admin"

// maxSocketsPerUser caps how many simultaneous dashboard connections one
// user may hold open, so a leaked browser tab loop can't exhaust the
// server's file descriptors.
const maxSocketsPerUser = 5

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one outbound push frame. ServerTime is stamped by the hub, never
// trusted from the producer, so clients can always detect clock skew.
type Event struct {
	Type       string `json:"type"`
	Payload    any    `json:"payload"`
	ServerTime int64  `json:"serverTime"`
}

// Hub tracks connected dashboard clients and the rooms they belong to.
type Hub struct {
	logger *slog.Logger

	mu           sync.RWMutex
	rooms        map[string]map[*client]struct{}
	socketsByUID map[int64]int

	register   chan *client
	unregister chan *client
	broadcast  chan roomMessage
}

type roomMessage struct {
	room    string
	payload []byte
}

// NewHub creates a Hub. Call Run to start its dispatch loop.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:       logger.With("subsystem", "push-hub"),
		rooms:        make(map[string]map[*client]struct{}),
		socketsByUID: make(map[int64]int),
		register:     make(chan *client),
		unregister:   make(chan *client),
		broadcast:    make(chan roomMessage, 256),
	}
}

// Run drains the register/unregister/broadcast channels until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			for room := range c.rooms {
				if h.rooms[room] == nil {
					h.rooms[room] = make(map[*client]struct{})
				}
				h.rooms[room][c] = struct{}{}
			}
			h.socketsByUID[c.userID]++
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			for room := range c.rooms {
				delete(h.rooms[room], c)
			}
			h.socketsByUID[c.userID]--
			if h.socketsByUID[c.userID] <= 0 {
				delete(h.socketsByUID, c.userID)
			}
			h.mu.Unlock()
			close(c.send)
		case m := <-h.broadcast:
			h.mu.RLock()
			for c := range h.rooms[m.room] {
				select {
				case c.send <- m.payload:
				default:
					h.logger.Warn("client send buffer full, dropping frame", "user_id", c.userID, "room", m.room)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish sends eventType/payload to room and, unless room already is
// AdminRoom, mirrors it to AdminRoom as well.
func (h *Hub) Publish(room, eventType string, payload any) {
	frame, err := json.Marshal(Event{Type: eventType, Payload: payload, ServerTime: time.Now().Unix()})
	if err != nil {
		h.logger.Error("marshaling push event", "type", eventType, "error", err)
		return
	}
	h.broadcast <- roomMessage{room: room, payload: frame}
	if room != AdminRoom {
		h.broadcast <- roomMessage{room: AdminRoom, payload: frame}
	}
}

// UserRoom returns the room name for a given dashboard user's own events.
func UserRoom(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// ServeWS upgrades the request to a websocket and registers a client in the
// caller's room plus AdminRoom if isAdmin. It blocks until the connection
// closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64, isAdmin bool) error {
	h.mu.RLock()
	count := h.socketsByUID[userID]
	h.mu.RUnlock()
	if count >= maxSocketsPerUser {
		http.Error(w, "too many open dashboard connections", http.StatusTooManyRequests)
		return nil
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	rooms := map[string]struct{}{UserRoom(userID): {}}
	if isAdmin {
		rooms[AdminRoom] = struct{}{}
	}

	c := &client{
		hub:     h,
		conn:    conn,
		userID:  userID,
		send:    make(chan []byte, 64),
		rooms:   rooms,
		limiter: rate.NewLimiter(rate.Every(time.Second/20), 20),
	}

	h.register <- c
	go c.writePump()
	c.readPump()
	return nil
}
