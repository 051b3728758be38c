package voting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lightningtalk/backend/internal/models"
)

func sessionKey(id string) string {
	return fmt.Sprintf("voting:session:%s", id)
}
func votesKey(id string) string {
	return fmt.Sprintf("voting:session:%s:votes", id)
}
func eventIndexKey(eventID string) string {
	return fmt.Sprintf("voting:event:%s", eventID)
}
func talkIndexKey(talkID string) string {
	return fmt.Sprintf("voting:talk:%s", talkID)
}
func statusIndexKey(status models.SessionStatus) string {
	return fmt.Sprintf("voting:status:%s", status)
}

// Returns -1 when the session is missing, -2 when it has ended, 0 when the voter already voted,
// 1 when stored.
var addVoteScript = redis.NewScript(`
	local status = redis.call('HGET', KEYS[1], 'status')
	if not status then
		return -1
	end
	if status ~= 'active' then
		return -2
	end
	return redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2])
`)

// Returns -1 when the session is missing, 0 when it was not active, 1 when this call ended it.
var markEndedScript = redis.NewScript(`
	local status = redis.call('HGET', KEYS[1], 'status')
	if not status then
		return -1
	end
	if status ~= 'active' then
		return 0
	end
	redis.call('HSET', KEYS[1], 'status', 'ended', 'ended_at', ARGV[2])
	redis.call('SMOVE', KEYS[2], KEYS[3], ARGV[1])
	return 1
`)

// RedisStore keeps sessions in Redis hashes so several gateway instances share one view.
// Votes live in a per-session hash keyed by voter id; HSETNX makes them write-once.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (r *RedisStore) Create(ctx context.Context, s *models.VotingSession) error {
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, sessionKey(s.ID), map[string]interface{}{
		"id":         s.ID,
		"event_id":   s.EventID,
		"talk_id":    s.TalkID,
		"status":     string(s.Status),
		"duration":   s.Duration,
		"created_by": s.CreatedBy,
		"created_at": s.CreatedAt.Format(time.RFC3339Nano),
		"ends_at":    s.EndsAt.Format(time.RFC3339Nano),
	})
	pipe.SAdd(ctx, eventIndexKey(s.EventID), s.ID)
	pipe.SAdd(ctx, talkIndexKey(s.TalkID), s.ID)
	pipe.SAdd(ctx, statusIndexKey(s.Status), s.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.VotingSession, error) {
	pipe := r.rdb.Pipeline()
	fields := pipe.HGetAll(ctx, sessionKey(id))
	votes := pipe.HGetAll(ctx, votesKey(id))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	if len(fields.Val()) == 0 {
		return nil, nil
	}
	return decodeSession(fields.Val(), votes.Val())
}

func (r *RedisStore) listIndex(ctx context.Context, key string) ([]*models.VotingSession, error) {
	ids, err := r.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*models.VotingSession, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RedisStore) ListByEvent(ctx context.Context, eventID string) ([]*models.VotingSession, error) {
	return r.listIndex(ctx, eventIndexKey(eventID))
}

func (r *RedisStore) ListByTalk(ctx context.Context, talkID string) ([]*models.VotingSession, error) {
	return r.listIndex(ctx, talkIndexKey(talkID))
}

func (r *RedisStore) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.VotingSession, error) {
	return r.listIndex(ctx, statusIndexKey(status))
}

func (r *RedisStore) AddVote(ctx context.Context, sessionID string, v models.Vote) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	n, err := addVoteScript.Run(ctx, r.rdb, []string{sessionKey(sessionID), votesKey(sessionID)}, v.VoterID, b).Int()
	if err != nil {
		return false, err
	}
	switch n {
	case -1:
		return false, ErrSessionNotFound
	case -2:
		return false, ErrSessionEnded
	}
	return n == 1, nil
}

func (r *RedisStore) MarkEnded(ctx context.Context, sessionID string, endedAt time.Time) (bool, error) {
	keys := []string{
		sessionKey(sessionID),
		statusIndexKey(models.SessionActive),
		statusIndexKey(models.SessionEnded),
	}
	n, err := markEndedScript.Run(ctx, r.rdb, keys, sessionID, endedAt.Format(time.RFC3339Nano)).Int()
	if err != nil {
		return false, err
	}
	if n < 0 {
		return false, ErrSessionNotFound
	}
	return n == 1, nil
}

func decodeSession(fields, votes map[string]string) (*models.VotingSession, error) {
	s := &models.VotingSession{
		ID:        fields["id"],
		EventID:   fields["event_id"],
		TalkID:    fields["talk_id"],
		Status:    models.SessionStatus(fields["status"]),
		CreatedBy: fields["created_by"],
		Votes:     make(map[string]models.Vote, len(votes)),
	}
	var err error
	if s.Duration, err = strconv.Atoi(fields["duration"]); err != nil {
		return nil, fmt.Errorf("decode duration: %w", err)
	}
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if s.EndsAt, err = time.Parse(time.RFC3339Nano, fields["ends_at"]); err != nil {
		return nil, fmt.Errorf("decode ends_at: %w", err)
	}
	if raw := fields["ended_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode ended_at: %w", err)
		}
		s.EndedAt = &t
	}
	for voter, raw := range votes {
		var v models.Vote
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode vote %s: %w", voter, err)
		}
		s.Votes[voter] = v
	}
	return s, nil
}
