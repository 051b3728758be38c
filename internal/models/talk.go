package models

import "time"

// Talk holds the rating roll-up maintained from ended voting sessions.
type Talk struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	AverageRating     float64          `json:"average_rating"`
	TotalVotes        int              `json:"total_votes"`
	LastVotingResults *ResultsSnapshot `json:"last_voting_results,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}
