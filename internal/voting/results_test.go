package voting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lightningtalk/backend/internal/models"
)

func sessionWithVotes(ratings map[string]int) *models.VotingSession {
	s := &models.VotingSession{
		ID:     "s1",
		Status: models.SessionActive,
		EndsAt: time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC),
		Votes:  make(map[string]models.Vote),
	}
	for voter, r := range ratings {
		s.Votes[voter] = models.Vote{VoterID: voter, Rating: r}
	}
	return s
}

func TestSnapshotScenario(t *testing.T) {
	r := Snapshot(sessionWithVotes(map[string]int{"v1": 5, "v2": 4, "v3": 5}))

	assert.Equal(t, 3, r.TotalVotes)
	assert.Equal(t, 4.67, r.AverageRating)
	assert.Equal(t, map[int]int{1: 0, 2: 0, 3: 0, 4: 1, 5: 2}, r.Distribution)
	assert.Equal(t, 33.33, r.Percentages[4])
	assert.Equal(t, 66.67, r.Percentages[5])
	assert.Equal(t, 0.0, r.Percentages[1])
	assert.Equal(t, "s1", r.SessionID)
	assert.Equal(t, models.SessionActive, r.Status)
}

func TestSnapshotEmpty(t *testing.T) {
	r := Snapshot(sessionWithVotes(nil))

	assert.Equal(t, 0, r.TotalVotes)
	assert.Equal(t, 0.0, r.AverageRating)
	assert.Len(t, r.Distribution, 5)
	for rating := models.MinRating; rating <= models.MaxRating; rating++ {
		assert.Equal(t, 0, r.Distribution[rating])
		assert.Equal(t, 0.0, r.Percentages[rating])
	}
}

func TestSnapshotTotalsMatchDistribution(t *testing.T) {
	votes := map[string]int{}
	for i := 0; i < 37; i++ {
		votes[string(rune('a'+i%26))+string(rune('A'+i/26))] = i%5 + 1
	}
	r := Snapshot(sessionWithVotes(votes))

	sum := 0
	for _, n := range r.Distribution {
		sum += n
	}
	assert.Equal(t, r.TotalVotes, sum)
	assert.Len(t, r.Distribution, 5)
}

func TestValidRating(t *testing.T) {
	for _, r := range []int{1, 2, 3, 4, 5} {
		assert.True(t, ValidRating(r))
	}
	for _, r := range []int{-1, 0, 6, 10} {
		assert.False(t, ValidRating(r))
	}
}

func TestResolveExpiry(t *testing.T) {
	ends := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := &models.VotingSession{Status: models.SessionActive, EndsAt: ends}

	assert.False(t, resolveExpiry(s, ends))
	assert.True(t, resolveExpiry(s, ends.Add(time.Nanosecond)))

	s.Status = models.SessionEnded
	assert.False(t, resolveExpiry(s, ends.Add(time.Hour)))
}
