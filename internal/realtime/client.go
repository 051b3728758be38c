package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lightningtalk/backend/pkg/response"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS middleware
	},
}

// WSConn is the subset of *websocket.Conn used by Client.
type WSConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	ReadMessage() (int, []byte, error)
	Close() error
	RemoteAddr() net.Addr
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

// TransportOptions configures the websocket pumps.
type TransportOptions struct {
	MaxMessageBytes int64
	PingInterval    time.Duration
	PongWait        time.Duration
}

func (o TransportOptions) withDefaults() TransportOptions {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 65536
	}
	if o.PingInterval <= 0 {
		o.PingInterval = PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = PongWait
	}
	return o
}

// Client pumps frames between one websocket connection and its gateway channel.
type Client struct {
	gw     *Gateway
	ch     *Channel
	conn   WSConn
	opts   TransportOptions
	logger *zap.Logger
}

// NewClient binds an upgraded connection to a connected channel.
func NewClient(gw *Gateway, ch *Channel, conn WSConn, opts TransportOptions, logger *zap.Logger) *Client {
	return &Client{gw: gw, ch: ch, conn: conn, opts: opts.withDefaults(), logger: logger}
}

// credential extracts the token from ?token= or an Authorization bearer header.
func credential(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// ServeWs authenticates, upgrades and runs the client loop. A present but invalid token is rejected
// with 401 before the upgrade; no token opens an anonymous channel.
func ServeWs(gw *Gateway, opts TransportOptions, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, err := gw.Connect(credential(c))
		if err != nil {
			response.Error(c, http.StatusUnauthorized, CodeAuthentication, "Invalid authentication token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			gw.Disconnect(ch)
			return
		}

		client := NewClient(gw, ch, conn, opts, logger)
		client.welcome()
		go client.writePump()
		client.readPump(c.Request.Context())
	}
}

func (c *Client) welcome() {
	c.gw.SendToChannel(c.ch.ID, "connected", map[string]interface{}{
		"channel_id":    c.ch.ID,
		"authenticated": c.ch.Authenticated(),
		"user_id":       c.ch.UserID(),
		"server_time":   c.gw.now().UTC(),
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.gw.Disconnect(c.ch)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.String("channel_id", c.ch.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		err = c.gw.HandleMessage(ctx, c.ch, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrRateLimited):
			c.sendError(CodeRateLimited, "Rate limit exceeded", err)
		case errors.Is(err, ErrAccessDenied):
			c.sendError(CodeAccessDenied, "Access denied", err)
		default:
			c.logger.Debug("message handler failed", zap.String("channel_id", c.ch.ID), zap.Error(err))
		}
	}
}

func (c *Client) sendError(code, text string, err error) {
	c.gw.SendToChannel(c.ch.ID, "error", map[string]interface{}{
		"code":      code,
		"error":     text,
		"retryable": Retryable(err),
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.ch.Outbound():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			body, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
