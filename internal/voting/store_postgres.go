package voting

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lightningtalk/backend/internal/models"
)

// PostgresStore persists sessions in voting_sessions and votes in voting_votes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const sessionColumns = `id, event_id, talk_id, status, duration_seconds, created_by, created_at, ends_at, ended_at`

func (p *PostgresStore) Create(ctx context.Context, s *models.VotingSession) error {
	const query = `INSERT INTO voting_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.pool.Exec(ctx, query, s.ID, s.EventID, s.TalkID, string(s.Status), s.Duration, s.CreatedBy, s.CreatedAt, s.EndsAt, s.EndedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.VotingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM voting_sessions WHERE id = $1`
	s, err := scanSession(p.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := p.loadVotes(ctx, []*models.VotingSession{s}); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) list(ctx context.Context, where string, arg interface{}) ([]*models.VotingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM voting_sessions WHERE ` + where + ` ORDER BY created_at ASC`
	rows, err := p.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.VotingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := p.loadVotes(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) ListByEvent(ctx context.Context, eventID string) ([]*models.VotingSession, error) {
	return p.list(ctx, "event_id = $1", eventID)
}

func (p *PostgresStore) ListByTalk(ctx context.Context, talkID string) ([]*models.VotingSession, error) {
	return p.list(ctx, "talk_id = $1", talkID)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.VotingSession, error) {
	return p.list(ctx, "status = $1", string(status))
}

func (p *PostgresStore) AddVote(ctx context.Context, sessionID string, v models.Vote) (bool, error) {
	const query = `INSERT INTO voting_votes (session_id, voter_id, rating, voted_at)
		SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM voting_sessions WHERE id = $1 AND status = 'active')
		ON CONFLICT (session_id, voter_id) DO NOTHING`
	tag, err := p.pool.Exec(ctx, query, sessionID, v.VoterID, v.Rating, v.Timestamp)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var status string
	err = p.pool.QueryRow(ctx, `SELECT status FROM voting_sessions WHERE id = $1`, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrSessionNotFound
	}
	if err != nil {
		return false, err
	}
	if status != string(models.SessionActive) {
		return false, ErrSessionEnded
	}
	return false, nil
}

func (p *PostgresStore) MarkEnded(ctx context.Context, sessionID string, endedAt time.Time) (bool, error) {
	const query = `UPDATE voting_sessions SET status = 'ended', ended_at = $2 WHERE id = $1 AND status = 'active'`
	tag, err := p.pool.Exec(ctx, query, sessionID, endedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanSession(row pgx.Row) (*models.VotingSession, error) {
	var s models.VotingSession
	var status string
	err := row.Scan(&s.ID, &s.EventID, &s.TalkID, &status, &s.Duration, &s.CreatedBy, &s.CreatedAt, &s.EndsAt, &s.EndedAt)
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.Votes = make(map[string]models.Vote)
	return &s, nil
}

func (p *PostgresStore) loadVotes(ctx context.Context, sessions []*models.VotingSession) error {
	if len(sessions) == 0 {
		return nil
	}
	byID := make(map[string]*models.VotingSession, len(sessions))
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}
	const query = `SELECT session_id, voter_id, rating, voted_at FROM voting_votes WHERE session_id = ANY($1)`
	rows, err := p.pool.Query(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var sessionID string
		var v models.Vote
		if err := rows.Scan(&sessionID, &v.VoterID, &v.Rating, &v.Timestamp); err != nil {
			return err
		}
		if s := byID[sessionID]; s != nil {
			s.Votes[v.VoterID] = v
		}
	}
	return rows.Err()
}
