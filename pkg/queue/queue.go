package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueSettle is the Redis list key for vote settle jobs.
	QueueSettle = "worker:settle"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// pendingTTL bounds how long a settle job stays deduplicated.
	pendingTTL = 10 * time.Minute
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeSettleVote JobType = "settle_vote"
)

// SettlePayload is the payload for vote settle jobs.
type SettlePayload struct {
	VoteID  uuid.UUID `json:"vote_id"`
	EventID uuid.UUID `json:"event_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func pendingKey(voteID uuid.UUID) string {
	return "worker:settle:pending:" + voteID.String()
}

// EnqueueSettle enqueues a settle job unless one for the same vote is
// already pending. It reports whether a job was pushed.
func (q *Queue) EnqueueSettle(ctx context.Context, payload SettlePayload) (bool, error) {
	ok, err := q.client.SetNX(ctx, pendingKey(payload.VoteID), 1, pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("setnx pending: %w", err)
	}
	if !ok {
		return false, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeSettleVote,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueSettle, raw).Err(); err != nil {
		_ = q.client.Del(ctx, pendingKey(payload.VoteID)).Err()
		return false, fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued settle job", zap.String("job_id", job.ID), zap.String("vote_id", payload.VoteID.String()))
	return true, nil
}

// Done clears the pending marker of a finished settle job.
func (q *Queue) Done(ctx context.Context, payload SettlePayload) error {
	if err := q.client.Del(ctx, pendingKey(payload.VoteID)).Err(); err != nil {
		return fmt.Errorf("del pending: %w", err)
	}
	return nil
}

// Dequeue blocks until a job is available, timeout elapses or ctx is done.
// A nil job with a nil error means nothing arrived in time.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueSettle).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		var p SettlePayload
		if json.Unmarshal(job.Payload, &p) == nil {
			_ = q.Done(ctx, p)
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueSettle, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// DecodeSettle extracts the settle payload of a job.
func DecodeSettle(job *Job) (SettlePayload, error) {
	var p SettlePayload
	if job.Type != JobTypeSettleVote {
		return p, fmt.Errorf("unexpected job type %q", job.Type)
	}
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal settle payload: %w", err)
	}
	return p, nil
}
