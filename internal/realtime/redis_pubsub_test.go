package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type remoteSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *remoteSink) DeliverRemote(room, event string, _ json.RawMessage) {
	s.mu.Lock()
	s.calls = append(s.calls, room+"|"+event)
	s.mu.Unlock()
}

func (s *remoteSink) seen(call string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == call {
			return true
		}
	}
	return false
}

func TestRedisPubSubFanout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := NewRedisPubSub(client, "instance-a", zap.NewNop())
	b := NewRedisPubSub(client, "instance-b", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sinkA, sinkB := &remoteSink{}, &remoteSink{}
	go func() { _ = a.Run(ctx, sinkA) }()
	go func() { _ = b.Run(ctx, sinkB) }()

	require.Eventually(t, func() bool {
		_ = a.Publish(ctx, "event-1", "vote_submitted", []byte(`{"rating":4}`))
		return sinkB.seen("event-1|vote_submitted")
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_ = b.Publish(ctx, "", "announcement", nil)
		return sinkA.seen("|announcement")
	}, 2*time.Second, 20*time.Millisecond)

	// an instance ignores its own broadcasts
	assert.False(t, sinkA.seen("event-1|vote_submitted"))
	assert.False(t, sinkB.seen("|announcement"))
}

func TestRedisPubSubStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ps := NewRedisPubSub(client, "solo", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ps.Run(ctx, &remoteSink{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
