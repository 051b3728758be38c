package realtime

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/lightningtalk/backend/internal/models"
)

// WSMessage is the server -> client envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// InboundMessage is the client -> server envelope. Type selects the handler; Room scopes a relay.
type InboundMessage struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Channel is one persistent connection from a single client.
type Channel struct {
	ID          string
	User        *models.Identity // nil for anonymous channels
	ConnectedAt time.Time

	limiter *SlidingWindow

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
	send   chan WSMessage
}

func newChannel(id string, user *models.Identity, now time.Time, cfg Config) *Channel {
	return &Channel{
		ID:          id,
		User:        user,
		ConnectedAt: now,
		limiter:     NewSlidingWindow(cfg.RateLimit, cfg.RateWindow),
		rooms:       make(map[string]struct{}),
		send:        make(chan WSMessage, cfg.SendBuffer),
	}
}

// Authenticated reports whether the channel carries a verified identity.
func (c *Channel) Authenticated() bool {
	return c.User != nil
}

// UserID returns the verified user id or "" for anonymous channels.
func (c *Channel) UserID() string {
	if c.User == nil {
		return ""
	}
	return c.User.UserID
}

// Rooms returns the rooms the channel is in, sorted.
func (c *Channel) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// InRoom reports whether the channel is currently a member of name.
func (c *Channel) InRoom(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[name]
	return ok
}

// Outbound is drained by the transport's write loop. It is closed on disconnect.
func (c *Channel) Outbound() <-chan WSMessage {
	return c.send
}

// Closed reports whether the channel has been disconnected.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// deliver queues msg without blocking. Closed channels and full buffers drop the message.
func (c *Channel) deliver(msg WSMessage) (ok, dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false
	}
	select {
	case c.send <- msg:
		return true, false
	default:
		return false, true
	}
}

// close marks the channel closed and returns the rooms it was in. Only the first call returns rooms.
func (c *Channel) close() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	c.closed = true
	close(c.send)
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.rooms = make(map[string]struct{})
	return rooms, true
}
