package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gatherly/backend/internal/models"
	"github.com/gatherly/backend/pkg/queue"
)

// CandidateSource lists closed votes that may still have a winner to commit.
type CandidateSource interface {
	ListSettleCandidates(ctx context.Context, now time.Time, limit int) ([]models.Vote, error)
}

// Sweeper periodically enqueues settle jobs for closed location and time
// votes whose event field is still empty, so events are updated even when
// nobody reads the results.
type Sweeper struct {
	source   CandidateSource
	queue    JobQueue
	interval time.Duration
	batch    int
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper creates a deadline sweeper.
func NewSweeper(source CandidateSource, q JobQueue, interval time.Duration, batch int, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{source: source, queue: q, interval: interval, batch: batch, logger: logger, now: time.Now}
}

// SweepOnce enqueues a settle job per candidate and returns how many were queued.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	list, err := s.source.ListSettleCandidates(ctx, s.now(), s.batch)
	if err != nil {
		return 0, fmt.Errorf("list settle candidates: %w", err)
	}
	queued := 0
	for _, v := range list {
		ok, err := s.queue.EnqueueSettle(ctx, queue.SettlePayload{VoteID: v.ID, EventID: v.EventID})
		if err != nil {
			return queued, fmt.Errorf("enqueue settle %s: %w", v.ID, err)
		}
		if ok {
			queued++
		}
	}
	return queued, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		n, err := s.SweepOnce(ctx)
		if err != nil {
			s.logger.Warn("sweep failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("settle jobs queued", zap.Int("count", n))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
		}
	}
}
