package voting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lightningtalk/backend/internal/models"
)

// Store persists voting sessions. Implementations must make AddVote write-once per voter
// and MarkEnded transition at most once, so that engines on separate instances stay consistent.
type Store interface {
	Create(ctx context.Context, s *models.VotingSession) error
	// Get returns nil, nil when the session does not exist.
	Get(ctx context.Context, id string) (*models.VotingSession, error)
	ListByEvent(ctx context.Context, eventID string) ([]*models.VotingSession, error)
	ListByTalk(ctx context.Context, talkID string) ([]*models.VotingSession, error)
	ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.VotingSession, error)
	// AddVote records v unless the voter already voted; it reports whether the vote was stored.
	// It fails with ErrSessionEnded when the session is no longer active.
	AddVote(ctx context.Context, sessionID string, v models.Vote) (bool, error)
	// MarkEnded moves an active session to ended; it reports whether this call made the transition.
	MarkEnded(ctx context.Context, sessionID string, endedAt time.Time) (bool, error)
}

// MemoryStore is a process-local Store. Sessions are copied in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.VotingSession
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.VotingSession)}
}

func (m *MemoryStore) Create(_ context.Context, s *models.VotingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.VotingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id].Clone(), nil
}

func (m *MemoryStore) list(match func(*models.VotingSession) bool) []*models.VotingSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.VotingSession
	for _, s := range m.sessions {
		if match(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) ListByEvent(_ context.Context, eventID string) ([]*models.VotingSession, error) {
	return m.list(func(s *models.VotingSession) bool { return s.EventID == eventID }), nil
}

func (m *MemoryStore) ListByTalk(_ context.Context, talkID string) ([]*models.VotingSession, error) {
	return m.list(func(s *models.VotingSession) bool { return s.TalkID == talkID }), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status models.SessionStatus) ([]*models.VotingSession, error) {
	return m.list(func(s *models.VotingSession) bool { return s.Status == status }), nil
}

func (m *MemoryStore) AddVote(_ context.Context, sessionID string, v models.Vote) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if s.Status != models.SessionActive {
		return false, ErrSessionEnded
	}
	if _, voted := s.Votes[v.VoterID]; voted {
		return false, nil
	}
	if s.Votes == nil {
		s.Votes = make(map[string]models.Vote)
	}
	s.Votes[v.VoterID] = v
	return true, nil
}

func (m *MemoryStore) MarkEnded(_ context.Context, sessionID string, endedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if s.Status != models.SessionActive {
		return false, nil
	}
	t := endedAt
	s.Status = models.SessionEnded
	s.EndedAt = &t
	return true, nil
}
