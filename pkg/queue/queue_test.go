package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/models"
)

func newTestQueue(t *testing.T, maxRetries int) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, maxRetries, zap.NewNop()), mr
}

func TestEnqueueDequeueTalkRating(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	payload := TalkRatingPayload{
		SessionID: "S1",
		EventID:   "E1",
		TalkID:    "T1",
		Reason:    "expired",
		Results:   &models.ResultsSnapshot{SessionID: "S1", TotalVotes: 3, AverageRating: 4},
	}
	require.NoError(t, q.EnqueueTalkRating(ctx, payload))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeTalkRating, job.Type)
	assert.NotEmpty(t, job.ID)
	assert.Zero(t, job.Attempt)

	var got TalkRatingPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, "T1", got.TalkID)
	assert.Equal(t, 3, got.Results.TotalVotes)
}

func TestDequeueSkipsMalformedEntries(t *testing.T) {
	q, mr := newTestQueue(t, 0)
	_, err := mr.RPush(QueueTalkRatings, "not json")
	require.NoError(t, err)

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetryMovesToDLQAfterLimit(t *testing.T) {
	q, mr := newTestQueue(t, 2)
	ctx := context.Background()
	job := &Job{ID: "j1", Type: JobTypeTalkRating, Payload: json.RawMessage(`{}`)}

	require.NoError(t, q.Retry(ctx, job))
	assert.Equal(t, 1, job.Attempt)
	queued, err := mr.List(QueueTalkRatings)
	require.NoError(t, err)
	assert.Len(t, queued, 1)

	require.NoError(t, q.Retry(ctx, job))
	assert.Equal(t, 2, job.Attempt)
	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}
