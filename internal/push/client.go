package push

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// client is one connected dashboard websocket, belonging to one or more
// rooms (its own user room, plus AdminRoom for admins).
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  int64
	send    chan []byte
	rooms   map[string]struct{}
	limiter *rate.Limiter
}

// inboundMessage is the only shape a dashboard client may send us: a
// subscribe/unsubscribe request for an additional room. AdminRoom and other
// users' rooms are refused; everything else is discarded rather than
// interpreted as a command.
type inboundMessage struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	Room   string `json:"room"`
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			continue
		}

		var msg inboundMessage
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		c.handleCommand(msg)
	}
}

func (c *client) handleCommand(msg inboundMessage) {
	if msg.Room == "" || msg.Room == AdminRoom {
		return // admin membership is granted at connect time only, never requested
	}
	if strings.HasPrefix(msg.Room, "user:") && msg.Room != UserRoom(c.userID) {
		return // another user's room is never joinable
	}

	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		c.rooms[msg.Room] = struct{}{}
		if c.hub.rooms[msg.Room] == nil {
			c.hub.rooms[msg.Room] = make(map[*client]struct{})
		}
		c.hub.rooms[msg.Room][c] = struct{}{}
	case "unsubscribe":
		delete(c.rooms, msg.Room)
		delete(c.hub.rooms[msg.Room], c)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
