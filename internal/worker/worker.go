package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/metrics"
	"github.com/lightningtalk/backend/internal/models"
	"github.com/lightningtalk/backend/pkg/queue"
)

// TalkUpdater applies a finished session's results to its talk.
type TalkUpdater interface {
	ApplyVotingResults(ctx context.Context, talkID string, results *models.ResultsSnapshot) error
}

// ResultsArchiver stores a copy of a finished session's results.
type ResultsArchiver interface {
	ArchiveResults(ctx context.Context, eventID string, results *models.ResultsSnapshot) (string, error)
}

// JobSource is the queue the processor drains.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// TalkRatingProcessor rolls ended voting sessions up into talk ratings.
type TalkRatingProcessor struct {
	talks    TalkUpdater
	archiver ResultsArchiver // nil disables archiving
	queue    JobSource
	backoff  time.Duration
	logger   *zap.Logger
}

// NewTalkRatingProcessor creates a processor. archiver may be nil.
func NewTalkRatingProcessor(talks TalkUpdater, archiver ResultsArchiver, q JobSource, backoff time.Duration, logger *zap.Logger) *TalkRatingProcessor {
	if backoff <= 0 {
		backoff = queue.RetryBackoff
	}
	return &TalkRatingProcessor{talks: talks, archiver: archiver, queue: q, backoff: backoff, logger: logger}
}

// Process handles a single talk_rating job. Sessions without votes leave the talk untouched.
func (p *TalkRatingProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeTalkRating {
		return fmt.Errorf("unexpected job type %q", job.Type)
	}
	var payload queue.TalkRatingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.Results == nil || payload.TalkID == "" {
		return fmt.Errorf("incomplete payload for session %s", payload.SessionID)
	}

	if p.archiver != nil {
		key, err := p.archiver.ArchiveResults(ctx, payload.EventID, payload.Results)
		if err != nil {
			return fmt.Errorf("archive results: %w", err)
		}
		p.logger.Info("session results archived", zap.String("session_id", payload.SessionID), zap.String("key", key))
	}

	if payload.Results.TotalVotes == 0 {
		p.logger.Debug("session had no votes, talk unchanged", zap.String("session_id", payload.SessionID))
		return nil
	}
	if err := p.talks.ApplyVotingResults(ctx, payload.TalkID, payload.Results); err != nil {
		return fmt.Errorf("apply voting results: %w", err)
	}
	p.logger.Info("talk rating updated",
		zap.String("talk_id", payload.TalkID),
		zap.String("session_id", payload.SessionID),
		zap.Int("votes", payload.Results.TotalVotes),
		zap.Float64("average", payload.Results.AverageRating),
	)
	return nil
}

// Run consumes jobs until ctx is cancelled.
func (p *TalkRatingProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			p.sleep(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, job)
	}
}

func (p *TalkRatingProcessor) handle(ctx context.Context, job *queue.Job) {
	err := p.Process(ctx, job)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "ok").Inc()
		return
	}
	metrics.JobsProcessed.WithLabelValues(string(job.Type), "error").Inc()
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	if retryErr := p.queue.Retry(ctx, job); retryErr != nil {
		p.logger.Error("retry failed", zap.String("job_id", job.ID), zap.Error(retryErr))
	}
	p.sleep(ctx, p.backoff)
}

func (p *TalkRatingProcessor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
