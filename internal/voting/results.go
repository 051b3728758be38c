package voting

import (
	"math"

	"github.com/lightningtalk/backend/internal/models"
)

// Snapshot recomputes the results of s from its vote set. Distribution always has keys 1..5;
// average and percentages are rounded to 2 decimals and are 0 when there are no votes.
func Snapshot(s *models.VotingSession) *models.ResultsSnapshot {
	dist := make(map[int]int, models.MaxRating)
	pct := make(map[int]float64, models.MaxRating)
	for r := models.MinRating; r <= models.MaxRating; r++ {
		dist[r] = 0
		pct[r] = 0
	}

	sum := 0
	for _, v := range s.Votes {
		dist[v.Rating]++
		sum += v.Rating
	}
	total := len(s.Votes)

	var avg float64
	if total > 0 {
		avg = round2(float64(sum) / float64(total))
		for r, n := range dist {
			pct[r] = round2(float64(n) * 100 / float64(total))
		}
	}

	return &models.ResultsSnapshot{
		SessionID:     s.ID,
		Status:        s.Status,
		TotalVotes:    total,
		AverageRating: avg,
		Distribution:  dist,
		Percentages:   pct,
		EndsAt:        s.EndsAt,
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// ValidRating reports whether r is an accepted rating value.
func ValidRating(r int) bool {
	return r >= models.MinRating && r <= models.MaxRating
}
