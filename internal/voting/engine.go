package voting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/idgen"
	"github.com/lightningtalk/backend/internal/metrics"
	"github.com/lightningtalk/backend/internal/models"
)

// EndReason says why a session transitioned to ended.
type EndReason string

const (
	EndExplicit EndReason = "explicit"
	EndExpired  EndReason = "expired"
)

// ResultChange carries a session's results after a vote or a transition to ended.
type ResultChange struct {
	SessionID string                  `json:"session_id"`
	EventID   string                  `json:"event_id"`
	TalkID    string                  `json:"talk_id"`
	Results   *models.ResultsSnapshot `json:"results"`
}

// EndedHandler observes every active -> ended transition exactly once.
type EndedHandler func(ctx context.Context, change ResultChange, reason EndReason)

// SubmitResult is the outcome of an accepted vote.
type SubmitResult struct {
	Vote    models.Vote             `json:"vote"`
	Results *models.ResultsSnapshot `json:"results"`
	EventID string                  `json:"event_id"`
	TalkID  string                  `json:"talk_id"`
}

// Limits holds session durations in seconds. The engine applies DefaultDuration to a zero duration;
// the min/max bounds are enforced where requests enter, see ValidDuration.
type Limits struct {
	DefaultDuration int
	MinDuration     int
	MaxDuration     int
}

// DefaultLimits returns a 60s default duration bounded to 30..300s.
func DefaultLimits() Limits {
	return Limits{DefaultDuration: 60, MinDuration: 30, MaxDuration: 300}
}

// Engine runs the voting session state machine. Mutations of one session are serialized by a
// per-session lock; different sessions proceed in parallel.
type Engine struct {
	store  Store
	limits Limits
	logger *zap.Logger
	now    func() time.Time

	locks sync.Map // session id -> *sync.Mutex

	onEnded EndedHandler
}

// NewEngine creates an engine over store.
func NewEngine(store Store, limits Limits, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.MaxDuration <= 0 {
		limits = DefaultLimits()
	}
	return &Engine{store: store, limits: limits, logger: logger, now: time.Now}
}

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetEndedHandler registers the transition observer. It runs after the session lock is released.
func (e *Engine) SetEndedHandler(h EndedHandler) {
	e.onEnded = h
}

// Limits returns the configured duration bounds.
func (e *Engine) Limits() Limits {
	return e.limits
}

// ValidDuration reports whether a requested duration is acceptable. Zero selects the default.
func (l Limits) ValidDuration(duration int) bool {
	return duration == 0 || (duration >= l.MinDuration && duration <= l.MaxDuration)
}

func (e *Engine) lock(id string) func() {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}

// CreateSession starts a new active session. A non-positive duration means the default. Overlapping
// sessions for the same talk are allowed.
func (e *Engine) CreateSession(ctx context.Context, eventID, talkID string, duration int, createdBy string) (*models.VotingSession, error) {
	eventID, talkID = strings.TrimSpace(eventID), strings.TrimSpace(talkID)
	if eventID == "" || talkID == "" {
		return nil, ErrInvalidRequest
	}
	if duration <= 0 {
		duration = e.limits.DefaultDuration
	}

	now := e.now().UTC()
	s := &models.VotingSession{
		ID:        idgen.NewULID(),
		EventID:   eventID,
		TalkID:    talkID,
		Status:    models.SessionActive,
		Duration:  duration,
		CreatedBy: createdBy,
		CreatedAt: now,
		EndsAt:    now.Add(time.Duration(duration) * time.Second),
		Votes:     make(map[string]models.Vote),
	}
	if err := e.store.Create(ctx, s); err != nil {
		return nil, storeErr("create session", err)
	}
	metrics.SessionsCreated.Inc()
	e.logger.Info("voting session created",
		zap.String("session_id", s.ID),
		zap.String("event_id", eventID),
		zap.String("talk_id", talkID),
		zap.Int("duration", duration),
	)
	return s, nil
}

// load fetches a session and resolves lazy expiry. Callers must hold the session lock.
// A returned change is non-nil when this call ended the session.
func (e *Engine) load(ctx context.Context, id string) (*models.VotingSession, *ResultChange, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, nil, storeErr("get session", err)
	}
	if s == nil {
		return nil, nil, ErrSessionNotFound
	}
	if !resolveExpiry(s, e.now()) {
		return s, nil, nil
	}
	change, err := e.markEnded(ctx, s, EndExpired)
	if err != nil {
		return nil, nil, err
	}
	return s, change, nil
}

// markEnded transitions s in the store and updates s in place. The change is nil when another
// engine already ended it; s is then reloaded.
func (e *Engine) markEnded(ctx context.Context, s *models.VotingSession, reason EndReason) (*ResultChange, error) {
	endedAt := e.now().UTC()
	ok, err := e.store.MarkEnded(ctx, s.ID, endedAt)
	if err != nil {
		return nil, storeErr("end session", err)
	}
	if !ok {
		fresh, err := e.store.Get(ctx, s.ID)
		if err != nil {
			return nil, storeErr("get session", err)
		}
		if fresh != nil {
			*s = *fresh
		}
		return nil, nil
	}
	s.Status = models.SessionEnded
	s.EndedAt = &endedAt
	metrics.SessionsEnded.WithLabelValues(string(reason)).Inc()
	e.logger.Info("voting session ended",
		zap.String("session_id", s.ID),
		zap.String("reason", string(reason)),
		zap.Int("total_votes", len(s.Votes)),
	)
	return &ResultChange{SessionID: s.ID, EventID: s.EventID, TalkID: s.TalkID, Results: Snapshot(s)}, nil
}

func (e *Engine) notifyEnded(ctx context.Context, change *ResultChange, reason EndReason) {
	if change == nil || e.onEnded == nil {
		return
	}
	e.onEnded(ctx, *change, reason)
}

// SubmitVote records a voter's rating. Checks run in order: session exists, session still active,
// rating valid, voter has not voted.
func (e *Engine) SubmitVote(ctx context.Context, sessionID, voterID string, rating int) (*SubmitResult, error) {
	res, expired, err := e.submitVote(ctx, sessionID, voterID, rating)
	e.notifyEnded(ctx, expired, EndExpired)
	if err != nil {
		metrics.VotesRejected.WithLabelValues(ErrorCode(err)).Inc()
		return nil, err
	}
	metrics.VotesAccepted.Inc()
	return res, nil
}

func (e *Engine) submitVote(ctx context.Context, sessionID, voterID string, rating int) (*SubmitResult, *ResultChange, error) {
	if strings.TrimSpace(voterID) == "" {
		return nil, nil, ErrInvalidVoter
	}
	unlock := e.lock(sessionID)
	defer unlock()

	s, expired, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if s.Status == models.SessionEnded {
		return nil, expired, ErrSessionEnded
	}
	if !ValidRating(rating) {
		return nil, nil, ErrInvalidRating
	}
	if _, voted := s.Votes[voterID]; voted {
		return nil, nil, ErrAlreadyVoted
	}

	v := models.Vote{VoterID: voterID, Rating: rating, Timestamp: e.now().UTC()}
	stored, err := e.store.AddVote(ctx, sessionID, v)
	if errors.Is(err, ErrSessionEnded) || errors.Is(err, ErrSessionNotFound) {
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, storeErr("add vote", err)
	}
	if !stored {
		// recorded by another instance between load and insert
		return nil, nil, ErrAlreadyVoted
	}
	s.Votes[voterID] = v

	e.logger.Debug("vote recorded", zap.String("session_id", sessionID), zap.Int("rating", rating))
	return &SubmitResult{Vote: v, Results: Snapshot(s), EventID: s.EventID, TalkID: s.TalkID}, nil, nil
}

// GetResults recomputes the current results of a session.
func (e *Engine) GetResults(ctx context.Context, sessionID string) (*models.ResultsSnapshot, error) {
	unlock := e.lock(sessionID)
	s, expired, err := e.load(ctx, sessionID)
	unlock()
	e.notifyEnded(ctx, expired, EndExpired)
	if err != nil {
		return nil, err
	}
	return Snapshot(s), nil
}

// GetSession returns a session with lazy expiry applied.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*models.VotingSession, error) {
	unlock := e.lock(sessionID)
	s, expired, err := e.load(ctx, sessionID)
	unlock()
	e.notifyEnded(ctx, expired, EndExpired)
	return s, err
}

// GetActiveSessions lists the event's sessions that are still active after expiry resolution,
// oldest first.
func (e *Engine) GetActiveSessions(ctx context.Context, eventID string) ([]*models.VotingSession, error) {
	sessions, err := e.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	out := make([]*models.VotingSession, 0, len(sessions))
	for _, s := range sessions {
		if s.Status != models.SessionActive {
			continue
		}
		if resolveExpiry(s, e.now()) {
			if _, err := e.expire(ctx, s.ID); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// expire ends one session under its lock if it is still active and past its end time.
func (e *Engine) expire(ctx context.Context, sessionID string) (bool, error) {
	unlock := e.lock(sessionID)
	_, change, err := e.load(ctx, sessionID)
	unlock()
	e.notifyEnded(ctx, change, EndExpired)
	return change != nil, err
}

// EndSession ends a session and returns its final results. The reason is empty when the session had
// already ended; the existing final results are returned and ended_at is left unchanged.
func (e *Engine) EndSession(ctx context.Context, sessionID, requesterID string) (*ResultChange, EndReason, error) {
	unlock := e.lock(sessionID)
	change, reason, err := e.endSession(ctx, sessionID)
	unlock()
	if err != nil {
		return nil, "", err
	}
	if !change.transitioned {
		return &change.ResultChange, "", nil
	}
	e.logger.Info("voting session ended by request", zap.String("session_id", sessionID), zap.String("requester_id", requesterID))
	e.notifyEnded(ctx, &change.ResultChange, reason)
	return &change.ResultChange, reason, nil
}

type endOutcome struct {
	ResultChange
	transitioned bool
}

func (e *Engine) endSession(ctx context.Context, sessionID string) (*endOutcome, EndReason, error) {
	s, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, "", storeErr("get session", err)
	}
	if s == nil {
		return nil, "", ErrSessionNotFound
	}
	if s.Status == models.SessionActive {
		reason := EndExplicit
		if resolveExpiry(s, e.now()) {
			reason = EndExpired
		}
		change, err := e.markEnded(ctx, s, reason)
		if err != nil {
			return nil, "", err
		}
		if change != nil {
			return &endOutcome{ResultChange: *change, transitioned: true}, reason, nil
		}
	}
	return &endOutcome{ResultChange: ResultChange{
		SessionID: s.ID,
		EventID:   s.EventID,
		TalkID:    s.TalkID,
		Results:   Snapshot(s),
	}}, "", nil
}

// GetTalkVotingHistory summarizes the talk's ended sessions, most recent first.
func (e *Engine) GetTalkVotingHistory(ctx context.Context, talkID string) ([]models.HistoryEntry, error) {
	sessions, err := e.store.ListByTalk(ctx, talkID)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	out := make([]models.HistoryEntry, 0, len(sessions))
	for _, s := range sessions {
		if resolveExpiry(s, e.now()) {
			if _, err := e.expire(ctx, s.ID); err != nil {
				return nil, err
			}
			if s, err = e.store.Get(ctx, s.ID); err != nil {
				return nil, storeErr("get session", err)
			}
		}
		if s == nil || s.Status != models.SessionEnded {
			continue
		}
		r := Snapshot(s)
		out = append(out, models.HistoryEntry{
			SessionID:     s.ID,
			EventID:       s.EventID,
			Status:        s.Status,
			CreatedAt:     s.CreatedAt,
			EndedAt:       s.EndedAt,
			TotalVotes:    r.TotalVotes,
			AverageRating: fmt.Sprintf("%.2f", r.AverageRating),
			Distribution:  r.Distribution,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CleanupExpiredSessions ends every active session past its end time and returns how many this
// call transitioned. Safe to run concurrently with itself and with SubmitVote.
func (e *Engine) CleanupExpiredSessions(ctx context.Context) (int, error) {
	sessions, err := e.store.ListByStatus(ctx, models.SessionActive)
	if err != nil {
		return 0, storeErr("list sessions", err)
	}
	count := 0
	for _, s := range sessions {
		if !resolveExpiry(s, e.now()) {
			continue
		}
		ended, err := e.expire(ctx, s.ID)
		if err != nil {
			e.logger.Warn("failed to expire session", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		if ended {
			count++
		}
	}
	return count, nil
}

// HasVoted reports whether voterID has a recorded vote in the session.
func (e *Engine) HasVoted(ctx context.Context, sessionID, voterID string) (bool, error) {
	v, err := e.VoterVote(ctx, sessionID, voterID)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// VoterVote returns voterID's vote, or nil if they have not voted.
func (e *Engine) VoterVote(ctx context.Context, sessionID, voterID string) (*models.Vote, error) {
	unlock := e.lock(sessionID)
	s, expired, err := e.load(ctx, sessionID)
	unlock()
	e.notifyEnded(ctx, expired, EndExpired)
	if err != nil {
		return nil, err
	}
	v, ok := s.Votes[voterID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}
