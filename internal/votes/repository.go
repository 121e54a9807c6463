package votes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherly/backend/internal/models"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles vote persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	q    querier
}

// NewRepository creates a votes repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// InTx runs fn inside one transaction. Calls made on a transaction-bound
// repository reuse the open transaction.
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	if r.pool == nil {
		return fn(r)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Repository{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateVote inserts a vote descriptor.
func (r *Repository) CreateVote(ctx context.Context, v *models.Vote) error {
	const query = `INSERT INTO votes (id, event_id, kind, question, deadline)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, created_at`
	return r.q.QueryRow(ctx, query, v.EventID, v.Kind, v.Question, v.Deadline).
		Scan(&v.ID, &v.CreatedAt)
}

// CreateOption inserts a vote option.
func (r *Repository) CreateOption(ctx context.Context, o *models.VoteOption) error {
	const query = `INSERT INTO vote_options (id, vote_id, option_text)
		VALUES (gen_random_uuid(), $1, $2)
		RETURNING id, created_at`
	return r.q.QueryRow(ctx, query, o.VoteID, o.Text).Scan(&o.ID, &o.CreatedAt)
}

// GetVote returns a vote descriptor by ID.
func (r *Repository) GetVote(ctx context.Context, id uuid.UUID) (*models.Vote, error) {
	const query = `SELECT id, event_id, kind, question, deadline, created_at FROM votes WHERE id = $1`
	var v models.Vote
	err := r.q.QueryRow(ctx, query, id).Scan(&v.ID, &v.EventID, &v.Kind, &v.Question, &v.Deadline, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVotesByEvent returns the votes of an event in insertion order.
func (r *Repository) ListVotesByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Vote, error) {
	const query = `SELECT id, event_id, kind, question, deadline, created_at
		FROM votes WHERE event_id = $1 ORDER BY seq`
	return r.listVotes(ctx, query, eventID)
}

// ListSettleCandidates returns closed location and time votes that have
// a counted ballot while the event field they decide is still empty. Ballots
// on time options that do not decode are not counted.
func (r *Repository) ListSettleCandidates(ctx context.Context, now time.Time, limit int) ([]models.Vote, error) {
	const query = `SELECT v.id, v.event_id, v.kind, v.question, v.deadline, v.created_at
		FROM votes v
		JOIN events e ON e.id = v.event_id
		WHERE v.deadline IS NOT NULL AND v.deadline <= $1
		  AND ((v.kind = 'location' AND e.location = '') OR (v.kind = 'time' AND e.time = ''))
		  AND EXISTS (
			SELECT 1 FROM user_votes b
			JOIN vote_options o ON o.id = b.vote_option_id
			WHERE b.vote_id = v.id AND (v.kind <> 'time' OR o.option_text ~ $3)
		  )
		ORDER BY v.deadline
		LIMIT $2`
	return r.listVotes(ctx, query, now, limit, slotPattern.String())
}

func (r *Repository) listVotes(ctx context.Context, query string, args ...any) ([]models.Vote, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Vote
	for rows.Next() {
		var v models.Vote
		if err := rows.Scan(&v.ID, &v.EventID, &v.Kind, &v.Question, &v.Deadline, &v.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// ListOptions returns the options of a vote in insertion order.
func (r *Repository) ListOptions(ctx context.Context, voteID uuid.UUID) ([]models.VoteOption, error) {
	const query = `SELECT id, vote_id, option_text, created_at
		FROM vote_options WHERE vote_id = $1 ORDER BY seq`
	rows, err := r.q.Query(ctx, query, voteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.VoteOption
	for rows.Next() {
		var o models.VoteOption
		if err := rows.Scan(&o.ID, &o.VoteID, &o.Text, &o.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// ListBallots returns the ballots placed on any of optionIDs.
func (r *Repository) ListBallots(ctx context.Context, optionIDs []uuid.UUID) ([]models.Ballot, error) {
	if len(optionIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT id, vote_id, vote_option_id, user_id, created_at
		FROM user_votes WHERE vote_option_id = ANY($1::uuid[])`
	rows, err := r.q.Query(ctx, query, idStrings(optionIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Ballot
	for rows.Next() {
		var b models.Ballot
		if err := rows.Scan(&b.ID, &b.VoteID, &b.VoteOptionID, &b.UserID, &b.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// FindBallot returns the user's ballot among optionIDs, or nil if none exists.
func (r *Repository) FindBallot(ctx context.Context, userID uuid.UUID, optionIDs []uuid.UUID) (*models.Ballot, error) {
	if len(optionIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT id, vote_id, vote_option_id, user_id, created_at
		FROM user_votes WHERE user_id = $1 AND vote_option_id = ANY($2::uuid[]) LIMIT 1`
	var b models.Ballot
	err := r.q.QueryRow(ctx, query, userID, idStrings(optionIDs)).
		Scan(&b.ID, &b.VoteID, &b.VoteOptionID, &b.UserID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertBallot records a ballot. The (vote_id, user_id) unique index turns a
// second ballot by the same user into ErrAlreadyVoted.
func (r *Repository) InsertBallot(ctx context.Context, b *models.Ballot) error {
	const query = `INSERT INTO user_votes (id, vote_id, vote_option_id, user_id)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id, created_at`
	err := r.q.QueryRow(ctx, query, b.VoteID, b.VoteOptionID, b.UserID).Scan(&b.ID, &b.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyVoted
	}
	return err
}

// SetDeadline overwrites the deadline of a vote.
func (r *Repository) SetDeadline(ctx context.Context, voteID uuid.UUID, deadline time.Time) error {
	const query = `UPDATE votes SET deadline = $1 WHERE id = $2`
	_, err := r.q.Exec(ctx, query, deadline, voteID)
	return err
}

// DeleteVote removes ballots, options and the descriptor. Call it inside InTx.
func (r *Repository) DeleteVote(ctx context.Context, voteID uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM user_votes WHERE vote_id = $1`, voteID); err != nil {
		return fmt.Errorf("delete ballots: %w", err)
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM vote_options WHERE vote_id = $1`, voteID); err != nil {
		return fmt.Errorf("delete options: %w", err)
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM votes WHERE id = $1`, voteID); err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	return nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
