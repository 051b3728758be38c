package voting

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/realtime"
)

func nextEvent(t *testing.T, ch *realtime.Channel) realtime.WSMessage {
	t.Helper()
	select {
	case msg := <-ch.Outbound():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message")
		return realtime.WSMessage{}
	}
}

func sendVote(t *testing.T, gw *realtime.Gateway, ch *realtime.Channel, payload string) {
	t.Helper()
	raw, err := json.Marshal(realtime.InboundMessage{Type: "vote", Payload: json.RawMessage(payload)})
	require.NoError(t, err)
	_ = gw.HandleMessage(context.Background(), ch, raw)
}

func TestRealtimeVote(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	gw := realtime.NewGateway(testTokens, realtime.Config{}, zap.NewNop())
	h := NewHandler(e, gw, zap.NewNop())
	h.RegisterRealtime(gw)

	s, err := e.CreateSession(context.Background(), "E", "T", 60, "")
	require.NoError(t, err)

	voter, err := gw.Connect("alice")
	require.NoError(t, err)
	watcher, err := gw.Connect("speaker")
	require.NoError(t, err)
	_, err = gw.JoinRoom(watcher, realtime.EventRoom("E"))
	require.NoError(t, err)

	sendVote(t, gw, voter, `{"sessionId":"`+s.ID+`","rating":4}`)
	accepted := nextEvent(t, voter)
	assert.Equal(t, "vote:accepted", accepted.Event)
	assert.Contains(t, string(accepted.Data), `"voter_id":"alice"`)

	broadcast := nextEvent(t, watcher)
	assert.Equal(t, "vote_submitted", broadcast.Event)
	assert.Contains(t, string(broadcast.Data), `"total_votes":1`)

	sendVote(t, gw, voter, `{"sessionId":"`+s.ID+`","rating":5}`)
	dup := nextEvent(t, voter)
	assert.Equal(t, "vote:error", dup.Event)
	assert.Contains(t, string(dup.Data), CodeAlreadyVoted)

	sendVote(t, gw, voter, `{"rating":5}`)
	bad := nextEvent(t, voter)
	assert.Equal(t, "vote:error", bad.Event)
	assert.Contains(t, string(bad.Data), CodeInvalidRequest)

	sendVote(t, gw, voter, `{"sessionId":"`+s.ID+`","rating":4.5}`)
	fraction := nextEvent(t, voter)
	assert.Equal(t, "vote:error", fraction.Event)
	assert.Contains(t, string(fraction.Data), CodeInvalidRating)

	sendVote(t, gw, voter, `{"sessionId":"`+s.ID+`","rating":"five"}`)
	word := nextEvent(t, voter)
	assert.Equal(t, "vote:error", word.Event)
	assert.Contains(t, string(word.Data), CodeInvalidRequest)

	anon, err := gw.Connect("")
	require.NoError(t, err)
	sendVote(t, gw, anon, `{"sessionId":"`+s.ID+`","rating":5}`)
	denied := nextEvent(t, anon)
	assert.Equal(t, "vote:error", denied.Event)
	assert.Contains(t, string(denied.Data), realtime.CodeAuthentication)

	r, err := e.GetResults(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalVotes)
}
