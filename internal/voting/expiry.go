package voting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/models"
)

// resolveExpiry reports whether an active session is past its end time and must transition to ended.
// It is the only place the expiry rule lives; lazy checks and the sweeper both call it.
func resolveExpiry(s *models.VotingSession, now time.Time) bool {
	return s.Status == models.SessionActive && now.After(s.EndsAt)
}

// RunSweeper ends expired sessions every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.logger.Info("voting expiry sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("voting expiry sweeper stopped")
			return
		case <-ticker.C:
			n, err := e.CleanupExpiredSessions(ctx)
			if err != nil {
				e.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				e.logger.Info("expired voting sessions", zap.Int("count", n))
			}
		}
	}
}
