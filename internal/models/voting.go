package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a voting session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Rating bounds (inclusive).
const (
	MinRating = 1
	MaxRating = 5
)

// Vote is a single voter's rating. Immutable once recorded.
type Vote struct {
	VoterID   string    `json:"voter_id"`
	Rating    int       `json:"rating"`
	Timestamp time.Time `json:"timestamp"`
}

// VotingSession is a time-boxed rating session for one talk.
type VotingSession struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	TalkID    string          `json:"talk_id"`
	Status    SessionStatus   `json:"status"`
	Duration  int             `json:"duration"` // seconds
	CreatedBy string          `json:"created_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	EndsAt    time.Time       `json:"ends_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Votes     map[string]Vote `json:"-"` // voterID -> vote
}

// Clone returns a deep copy so callers never share the vote map.
func (s *VotingSession) Clone() *VotingSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	out.Votes = make(map[string]Vote, len(s.Votes))
	for k, v := range s.Votes {
		out.Votes[k] = v
	}
	return &out
}

// ResultsSnapshot is the derived, always-recomputed summary of a session's votes.
type ResultsSnapshot struct {
	SessionID     string          `json:"session_id"`
	Status        SessionStatus   `json:"status"`
	TotalVotes    int             `json:"total_votes"`
	AverageRating float64         `json:"average_rating"`
	Distribution  map[int]int     `json:"distribution"`
	Percentages   map[int]float64 `json:"percentages"`
	EndsAt        time.Time       `json:"ends_at"`
}

// HistoryEntry summarizes an ended session for a talk's voting history.
type HistoryEntry struct {
	SessionID     string        `json:"session_id"`
	EventID       string        `json:"event_id"`
	Status        SessionStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	TotalVotes    int           `json:"total_votes"`
	AverageRating string        `json:"average_rating"` // formatted to 2 decimals
	Distribution  map[int]int   `json:"distribution"`
}
