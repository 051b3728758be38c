package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn implements WSConn. Reads are served from a script; writes are recorded.
type fakeConn struct {
	mu     sync.Mutex
	reads  [][]byte
	writes []WSMessage
	pings  int
	closes int
}

func (fc *fakeConn) WriteMessage(messageType int, data []byte) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	switch messageType {
	case websocket.PingMessage:
		fc.pings++
	case websocket.CloseMessage:
		fc.closes++
	case websocket.TextMessage:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		fc.writes = append(fc.writes, msg)
	}
	return nil
}

func (fc *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (fc *fakeConn) ReadMessage() (int, []byte, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.reads) == 0 {
		return 0, nil, io.EOF
	}
	next := fc.reads[0]
	fc.reads = fc.reads[1:]
	return websocket.TextMessage, next, nil
}

func (fc *fakeConn) Close() error { return nil }

func (fc *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345}
}

func (fc *fakeConn) SetReadLimit(int64) {}

func (fc *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (fc *fakeConn) SetPongHandler(func(string) error) {}

func drainAll(ch *Channel) []WSMessage {
	var out []WSMessage
	for msg := range ch.Outbound() {
		out = append(out, msg)
	}
	return out
}

func TestReadPumpRoutesAndDisconnects(t *testing.T) {
	gw, _ := newTestGateway(t, Config{RateLimit: 2, RateWindow: time.Minute})
	ch := connect(t, gw, "user-token")
	fc := &fakeConn{reads: [][]byte{
		[]byte(`{"type":"join","room":"event-1"}`),
		[]byte(`{"type":"ping"}`),
		[]byte(`{"type":"ping"}`),
	}}

	client := NewClient(gw, ch, fc, TransportOptions{}, zap.NewNop())
	client.readPump(context.Background())

	assert.True(t, ch.Closed())
	assert.Equal(t, 0, gw.Rooms().Count())

	var events []string
	for _, msg := range drainAll(ch) {
		events = append(events, msg.Event)
	}
	assert.Equal(t, []string{"room:joined", "pong", "error"}, events)
}

func TestWritePumpFlushesAndCloses(t *testing.T) {
	gw, _ := newTestGateway(t, Config{})
	ch := connect(t, gw, "")
	fc := &fakeConn{}
	client := NewClient(gw, ch, fc, TransportOptions{PingInterval: time.Hour}, zap.NewNop())

	client.welcome()
	gw.SendToChannel(ch.ID, "custom", map[string]string{"k": "v"})
	gw.Disconnect(ch)

	done := make(chan struct{})
	go func() {
		client.writePump()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write pump did not exit after disconnect")
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.writes, 2)
	assert.Equal(t, "connected", fc.writes[0].Event)
	assert.Contains(t, string(fc.writes[0].Data), `"authenticated":false`)
	assert.Equal(t, "custom", fc.writes[1].Event)
	assert.Equal(t, 1, fc.closes)
}

func newWSServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", ServeWs(gw, TransportOptions{}, zap.NewNop()))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

func TestServeWsWelcomeAndPing(t *testing.T) {
	gw, _ := newTestGateway(t, Config{})
	srv := newWSServer(t, gw)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=user-token"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome WSMessage
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "connected", welcome.Event)
	var body struct {
		ChannelID     string `json:"channel_id"`
		Authenticated bool   `json:"authenticated"`
		UserID        string `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(welcome.Data, &body))
	assert.True(t, body.Authenticated)
	assert.Equal(t, "u-1", body.UserID)
	assert.True(t, strings.HasPrefix(body.ChannelID, "ch_"))

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "ping"}))
	var pong WSMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Event)
}

func TestServeWsRejectsInvalidToken(t *testing.T) {
	gw, _ := newTestGateway(t, Config{})
	srv := newWSServer(t, gw)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=forged"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, websocket.ErrBadHandshake))
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, gw.Metrics().Channels)
}

func TestServeWsBearerHeader(t *testing.T) {
	gw, _ := newTestGateway(t, Config{})
	srv := newWSServer(t, gw)

	header := http.Header{}
	header.Set("Authorization", "Bearer admin-token")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	defer conn.Close()

	var welcome WSMessage
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Contains(t, string(welcome.Data), `"user_id":"u-admin"`)
}
