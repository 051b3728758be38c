package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/auth"
	"github.com/lightningtalk/backend/internal/idgen"
	"github.com/lightningtalk/backend/internal/metrics"
	"github.com/lightningtalk/backend/internal/models"
)

// Config tunes per-channel limits.
type Config struct {
	RateLimit  int           // max messages per channel within RateWindow
	RateWindow time.Duration // trailing window for RateLimit
	SendBuffer int           // outbound queue length per channel
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{RateLimit: 10, RateWindow: time.Second, SendBuffer: 256}
}

// MessageHandler handles one inbound message type. Handlers reply to the sender themselves;
// a returned error is reported to the transport for logging.
type MessageHandler func(ctx context.Context, ch *Channel, msg InboundMessage) error

// Publisher forwards broadcasts to other gateway instances. An empty room means all channels.
type Publisher interface {
	Publish(ctx context.Context, room, event string, data []byte) error
}

// Gateway owns every open channel on this instance: authentication, room policy,
// rate limiting, message dispatch and broadcast.
type Gateway struct {
	verifier auth.TokenVerifier
	rooms    *RoomRegistry
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	channels map[string]*Channel

	handlersMu sync.RWMutex
	handlers   map[string]MessageHandler

	publisher Publisher

	connectionsTotal atomic.Int64
	messagesTotal    atomic.Int64
	errorsTotal      atomic.Int64
}

// NewGateway creates a gateway with the built-in join, leave and ping handlers registered.
func NewGateway(verifier auth.TokenVerifier, cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	g := &Gateway{
		verifier: verifier,
		rooms:    NewRoomRegistry(),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		channels: make(map[string]*Channel),
		handlers: make(map[string]MessageHandler),
	}
	g.RegisterHandler("join", g.handleJoin)
	g.RegisterHandler("leave", g.handleLeave)
	g.RegisterHandler("ping", g.handlePing)
	return g
}

// SetClock overrides the time source (tests).
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// SetPublisher enables cross-instance fan-out of room and global broadcasts.
func (g *Gateway) SetPublisher(p Publisher) {
	g.publisher = p
}

// Rooms exposes the room registry (read-only use).
func (g *Gateway) Rooms() *RoomRegistry {
	return g.rooms
}

// RegisterHandler adds or replaces the handler for a message type.
func (g *Gateway) RegisterHandler(msgType string, h MessageHandler) {
	g.handlersMu.Lock()
	g.handlers[msgType] = h
	g.handlersMu.Unlock()
	g.logger.Debug("registered message handler", zap.String("type", msgType))
}

func (g *Gateway) handler(msgType string) MessageHandler {
	g.handlersMu.RLock()
	defer g.handlersMu.RUnlock()
	return g.handlers[msgType]
}

// Authenticate verifies a credential. An empty credential yields an anonymous (nil) identity.
func (g *Gateway) Authenticate(credential string) (*models.Identity, error) {
	if credential == "" {
		return nil, nil
	}
	if g.verifier == nil {
		return nil, ErrAuthentication
	}
	user, err := g.verifier.Verify(credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return user, nil
}

// Connect authenticates the credential once and registers a new channel.
func (g *Gateway) Connect(credential string) (*Channel, error) {
	user, err := g.Authenticate(credential)
	if err != nil {
		g.errorsTotal.Add(1)
		metrics.ConnectionsRejected.WithLabelValues("invalid_token").Inc()
		g.logger.Warn("connection rejected", zap.Error(err))
		return nil, err
	}
	ch := newChannel(idgen.NewChannelID(), user, g.now(), g.cfg)

	g.mu.Lock()
	g.channels[ch.ID] = ch
	g.mu.Unlock()

	g.connectionsTotal.Add(1)
	metrics.ChannelsOpen.Inc()
	g.logger.Info("channel connected",
		zap.String("channel_id", ch.ID),
		zap.Bool("authenticated", ch.Authenticated()),
		zap.String("user_id", ch.UserID()),
	)
	return ch, nil
}

// Disconnect removes the channel from every room and then from the gateway.
// Calling it more than once is a no-op.
func (g *Gateway) Disconnect(ch *Channel) {
	rooms, first := ch.close()
	if !first {
		return
	}
	for _, name := range rooms {
		g.rooms.Remove(name, ch.ID)
		g.broadcast(name, "room:member:left", memberEvent(name, ch), "")
	}

	g.mu.Lock()
	delete(g.channels, ch.ID)
	g.mu.Unlock()

	metrics.ChannelsOpen.Dec()
	g.logger.Info("channel disconnected",
		zap.String("channel_id", ch.ID),
		zap.Int("rooms_left", len(rooms)),
		zap.Duration("connected_for", g.now().Sub(ch.ConnectedAt)),
	)
}

// Channel looks up an open channel by id.
func (g *Gateway) Channel(id string) (*Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ch, ok := g.channels[id]
	return ch, ok
}

// CanJoin evaluates room access policy. Unknown room names are denied.
func CanJoin(user *models.Identity, room string) error {
	switch {
	case IsEventRoom(room):
		if user == nil {
			return fmt.Errorf("%w: %s requires authentication", ErrAccessDenied, room)
		}
		return nil
	case room == AdminRoom:
		if !user.IsAdmin() {
			return fmt.Errorf("%w: %s requires admin role", ErrAccessDenied, room)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown room %q", ErrAccessDenied, room)
	}
}

func roomKind(room string) string {
	switch {
	case IsEventRoom(room):
		return "event"
	case room == AdminRoom:
		return "admin"
	default:
		return "unknown"
	}
}

// JoinRoom adds the channel to room if policy allows. Joining twice succeeds without duplicating
// membership; joined reports whether this call added the membership.
func (g *Gateway) JoinRoom(ch *Channel, room string) (joined bool, err error) {
	if err := CanJoin(ch.User, room); err != nil {
		metrics.RoomJoinsDenied.WithLabelValues(roomKind(room)).Inc()
		g.logger.Info("room join denied", zap.String("channel_id", ch.ID), zap.String("room", room))
		return false, err
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return false, ErrChannelClosed
	}
	if _, ok := ch.rooms[room]; ok {
		ch.mu.Unlock()
		return false, nil
	}
	ch.rooms[room] = struct{}{}
	g.rooms.Add(room, ch.ID)
	ch.mu.Unlock()

	g.logger.Debug("channel joined room", zap.String("channel_id", ch.ID), zap.String("room", room))
	return true, nil
}

// LeaveRoom removes the channel from room. Leaving a room the channel is not in is a no-op.
func (g *Gateway) LeaveRoom(ch *Channel, room string) bool {
	ch.mu.Lock()
	if _, ok := ch.rooms[room]; !ok || ch.closed {
		ch.mu.Unlock()
		return false
	}
	delete(ch.rooms, room)
	g.rooms.Remove(room, ch.ID)
	ch.mu.Unlock()

	g.logger.Debug("channel left room", zap.String("channel_id", ch.ID), zap.String("room", room))
	return true
}

// HandleMessage rate-limits and routes one inbound payload. It returns ErrRateLimited when the
// channel exceeded its window; malformed or unroutable payloads are ignored.
func (g *Gateway) HandleMessage(ctx context.Context, ch *Channel, payload []byte) error {
	if !ch.limiter.Allow(g.now()) {
		g.errorsTotal.Add(1)
		metrics.RateLimitHits.Inc()
		g.logger.Warn("rate limit exceeded", zap.String("channel_id", ch.ID))
		return ErrRateLimited
	}
	g.messagesTotal.Add(1)

	var msg InboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		g.logger.Debug("ignoring malformed message", zap.String("channel_id", ch.ID), zap.Error(err))
		return nil
	}

	if h := g.handler(msg.Type); h != nil {
		metrics.MessagesReceived.WithLabelValues(msg.Type).Inc()
		return h(ctx, ch, msg)
	}
	metrics.MessagesReceived.WithLabelValues("other").Inc()

	if msg.Room == "" {
		return nil
	}
	if !ch.InRoom(msg.Room) {
		return fmt.Errorf("%w: not a member of %s", ErrAccessDenied, msg.Room)
	}
	g.broadcast(msg.Room, "message", map[string]interface{}{
		"type":    msg.Type,
		"room":    msg.Room,
		"payload": msg.Payload,
		"from":    ch.ID,
		"user_id": ch.UserID(),
	}, ch.ID)
	return nil
}

// BroadcastToRoom delivers to the room's members as of this call, and to other instances when a
// publisher is configured. It never blocks on slow channels.
func (g *Gateway) BroadcastToRoom(room, event string, data interface{}) {
	raw, ok := g.encode(event, data)
	if !ok {
		return
	}
	g.broadcast(room, event, raw, "")
	g.publish(room, event, raw)
}

// SendToChannel delivers to one local channel; a no-op if it has disconnected.
func (g *Gateway) SendToChannel(channelID, event string, data interface{}) {
	ch, ok := g.Channel(channelID)
	if !ok {
		return
	}
	raw, ok := g.encode(event, data)
	if !ok {
		return
	}
	g.deliver(ch, WSMessage{Event: event, Data: raw})
}

// BroadcastToAll delivers to every connected channel on every instance.
func (g *Gateway) BroadcastToAll(event string, data interface{}) {
	raw, ok := g.encode(event, data)
	if !ok {
		return
	}
	g.broadcastAll(WSMessage{Event: event, Data: raw})
	g.publish("", event, raw)
}

// DeliverRemote fans a broadcast received from another instance out to local channels only.
func (g *Gateway) DeliverRemote(room, event string, data json.RawMessage) {
	if room == "" {
		g.broadcastAll(WSMessage{Event: event, Data: data})
		return
	}
	g.broadcast(room, event, data, "")
}

func (g *Gateway) broadcast(room, event string, data interface{}, exceptID string) {
	raw, ok := g.encode(event, data)
	if !ok {
		return
	}
	msg := WSMessage{Event: event, Data: raw}
	members := g.rooms.Members(room)
	if len(members) == 0 {
		return
	}
	targets := make([]*Channel, 0, len(members))
	g.mu.RLock()
	for _, id := range members {
		if id == exceptID {
			continue
		}
		if ch, ok := g.channels[id]; ok {
			targets = append(targets, ch)
		}
	}
	g.mu.RUnlock()
	for _, ch := range targets {
		g.deliver(ch, msg)
	}
}

func (g *Gateway) broadcastAll(msg WSMessage) {
	g.mu.RLock()
	targets := make([]*Channel, 0, len(g.channels))
	for _, ch := range g.channels {
		targets = append(targets, ch)
	}
	g.mu.RUnlock()
	for _, ch := range targets {
		g.deliver(ch, msg)
	}
}

func (g *Gateway) deliver(ch *Channel, msg WSMessage) {
	if _, dropped := ch.deliver(msg); dropped {
		metrics.DeliveriesDropped.Inc()
		g.logger.Warn("dropping message for slow channel", zap.String("channel_id", ch.ID), zap.String("event", msg.Event))
	}
}

func (g *Gateway) publish(room, event string, raw json.RawMessage) {
	if g.publisher == nil {
		return
	}
	go func() {
		if err := g.publisher.Publish(context.Background(), room, event, raw); err != nil {
			g.logger.Warn("publish broadcast failed", zap.String("room", room), zap.String("event", event), zap.Error(err))
		}
	}()
}

func (g *Gateway) encode(event string, payload interface{}) (json.RawMessage, bool) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, true
	case []byte:
		return v, true
	case nil:
		return nil, true
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			g.logger.Error("marshal broadcast payload", zap.String("event", event), zap.Error(err))
			return nil, false
		}
		return data, true
	}
}

// MetricsSnapshot is a read-only view of gateway load.
type MetricsSnapshot struct {
	Channels          int        `json:"channels"`
	Rooms             int        `json:"rooms"`
	MessagesPerMinute float64    `json:"messages_per_minute"`
	ConnectionsTotal  int64      `json:"connections_total"`
	MessagesTotal     int64      `json:"messages_total"`
	ErrorsTotal       int64      `json:"errors_total"`
	RoomDetails       []RoomStat `json:"room_details"`
}

// Metrics returns current counts. Messages per minute is extrapolated from the rate-limit windows.
func (g *Gateway) Metrics() MetricsSnapshot {
	now := g.now()
	g.mu.RLock()
	channels := make([]*Channel, 0, len(g.channels))
	for _, ch := range g.channels {
		channels = append(channels, ch)
	}
	g.mu.RUnlock()

	var inWindow int
	for _, ch := range channels {
		inWindow += ch.limiter.Count(now)
	}
	perMinute := float64(inWindow) * float64(time.Minute) / float64(g.cfg.RateWindow)

	return MetricsSnapshot{
		Channels:          len(channels),
		Rooms:             g.rooms.Count(),
		MessagesPerMinute: perMinute,
		ConnectionsTotal:  g.connectionsTotal.Load(),
		MessagesTotal:     g.messagesTotal.Load(),
		ErrorsTotal:       g.errorsTotal.Load(),
		RoomDetails:       g.rooms.Stats(),
	}
}

// LogMetrics writes a metrics line every interval until ctx is done.
func (g *Gateway) LogMetrics(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := g.Metrics()
			g.logger.Info("gateway metrics",
				zap.Int("channels", m.Channels),
				zap.Int("rooms", m.Rooms),
				zap.Float64("messages_per_minute", m.MessagesPerMinute),
				zap.Int64("connections_total", m.ConnectionsTotal),
				zap.Int64("errors_total", m.ErrorsTotal),
			)
		}
	}
}

// Shutdown notifies local channels and disconnects them.
func (g *Gateway) Shutdown() {
	raw, _ := g.encode("server:shutdown", map[string]interface{}{
		"message":   "Server is shutting down",
		"timestamp": g.now().UTC(),
	})
	g.broadcastAll(WSMessage{Event: "server:shutdown", Data: raw})

	g.mu.RLock()
	channels := make([]*Channel, 0, len(g.channels))
	for _, ch := range g.channels {
		channels = append(channels, ch)
	}
	g.mu.RUnlock()
	for _, ch := range channels {
		g.Disconnect(ch)
	}
	g.logger.Info("gateway shut down", zap.Int("channels_closed", len(channels)))
}

func memberEvent(room string, ch *Channel) map[string]interface{} {
	return map[string]interface{}{
		"room": room,
		"member": map[string]string{
			"id":      ch.ID,
			"user_id": ch.UserID(),
		},
	}
}

func (g *Gateway) roomFromMessage(msg InboundMessage) string {
	if msg.Room != "" {
		return msg.Room
	}
	var body struct {
		Room string `json:"room"`
	}
	if len(msg.Payload) > 0 {
		_ = json.Unmarshal(msg.Payload, &body)
	}
	return body.Room
}

func (g *Gateway) handleJoin(_ context.Context, ch *Channel, msg InboundMessage) error {
	room := g.roomFromMessage(msg)
	joined, err := g.JoinRoom(ch, room)
	if errors.Is(err, ErrChannelClosed) {
		return nil
	}
	if err != nil {
		g.SendToChannel(ch.ID, "room:error", map[string]string{
			"room":  room,
			"code":  CodeAccessDenied,
			"error": "Access denied",
		})
		return nil
	}
	if joined {
		g.broadcast(room, "room:member:joined", memberEvent(room, ch), ch.ID)
	}
	g.SendToChannel(ch.ID, "room:joined", map[string]interface{}{
		"room":    room,
		"members": g.rooms.Members(room),
	})
	return nil
}

func (g *Gateway) handleLeave(_ context.Context, ch *Channel, msg InboundMessage) error {
	room := g.roomFromMessage(msg)
	if g.LeaveRoom(ch, room) {
		g.broadcast(room, "room:member:left", memberEvent(room, ch), "")
	}
	g.SendToChannel(ch.ID, "room:left", map[string]string{"room": room})
	return nil
}

func (g *Gateway) handlePing(_ context.Context, ch *Channel, _ InboundMessage) error {
	g.SendToChannel(ch.ID, "pong", map[string]interface{}{"server_time": g.now().UTC()})
	return nil
}
