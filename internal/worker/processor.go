package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatherly/backend/internal/votes"
	"github.com/gatherly/backend/pkg/queue"
	"github.com/gatherly/backend/pkg/storage"
)

const dequeueTimeout = 5 * time.Second

// Settler settles one closed vote.
type Settler interface {
	Settle(ctx context.Context, voteID uuid.UUID) (*votes.Result, bool, error)
}

// JobQueue is the part of the Redis queue the worker uses.
type JobQueue interface {
	EnqueueSettle(ctx context.Context, payload queue.SettlePayload) (bool, error)
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	Done(ctx context.Context, payload queue.SettlePayload) error
}

// Archiver stores final results.
type Archiver interface {
	ArchiveJSON(ctx context.Context, key string, v interface{}) (string, error)
}

// SettleProcessor processes settle jobs: commit the winner of a closed vote
// to its event, then archive the final tally.
type SettleProcessor struct {
	settler  Settler
	archiver Archiver
	queue    JobQueue
	logger   *zap.Logger
	backoff  time.Duration
}

// NewSettleProcessor creates a settle job processor. archiver may be nil.
func NewSettleProcessor(settler Settler, archiver Archiver, q JobQueue, logger *zap.Logger) *SettleProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettleProcessor{settler: settler, archiver: archiver, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one settle job.
func (p *SettleProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeSettle(job)
	if err != nil {
		return err
	}

	res, committed, err := p.settler.Settle(ctx, payload.VoteID)
	if errors.Is(err, votes.ErrNotFound) {
		p.logger.Info("vote gone before settle", zap.String("vote_id", payload.VoteID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("settle vote: %w", err)
	}
	if committed {
		p.logger.Info("vote settled", zap.String("vote_id", payload.VoteID.String()), zap.Int("total_votes", res.TotalVotes))
	}

	if p.archiver == nil || !res.IsClosed {
		return nil
	}
	key := storage.VoteResultKey(res.Vote.EventID.String(), res.Vote.ID.String())
	if _, err := p.archiver.ArchiveJSON(ctx, key, res); err != nil {
		return fmt.Errorf("archive result: %w", err)
	}
	p.logger.Info("vote result archived", zap.String("vote_id", payload.VoteID.String()), zap.String("key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *SettleProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("settle worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, job)
	}
}

func (p *SettleProcessor) handle(ctx context.Context, job *queue.Job) {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	if err := p.Process(ctx, job); err != nil {
		p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
		if reErr := p.queue.Retry(ctx, job); reErr != nil {
			p.logger.Error("retry enqueue failed", zap.Error(reErr))
		}
		p.sleep(ctx)
		return
	}
	if payload, err := queue.DecodeSettle(job); err == nil {
		if err := p.queue.Done(ctx, payload); err != nil {
			p.logger.Warn("clear pending marker failed", zap.Error(err))
		}
	}
}

func (p *SettleProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
