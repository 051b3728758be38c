package talks

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lightningtalk/backend/internal/models"
)

// ErrTalkNotFound is returned when no talk row exists for the id.
var ErrTalkNotFound = errors.New("talk not found")

// Repository handles talk rating persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a talk repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a talk's rating roll-up.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Talk, error) {
	const q = `SELECT id, title, average_rating, total_votes, last_voting_results, updated_at
		FROM talks WHERE id = $1`
	var t models.Talk
	err := r.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Title, &t.AverageRating, &t.TotalVotes, &t.LastVotingResults, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTalkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ApplyVotingResults records a finished session against its talk. The average and last results are
// replaced by the session's; the vote count accumulates. Talks are created on first roll-up.
func (r *Repository) ApplyVotingResults(ctx context.Context, talkID string, results *models.ResultsSnapshot) error {
	const q = `INSERT INTO talks (id, average_rating, total_votes, last_voting_results, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			average_rating = EXCLUDED.average_rating,
			total_votes = talks.total_votes + EXCLUDED.total_votes,
			last_voting_results = EXCLUDED.last_voting_results,
			updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, talkID, results.AverageRating, results.TotalVotes, results)
	return err
}
