package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherly/backend/internal/models"
)

// Repository reads event records and their membership (users_events).
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an event repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts an event.
func (r *Repository) Create(ctx context.Context, e *models.Event) error {
	const q = `INSERT INTO events (id, creator_id, title, location, date, time)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, e.CreatorID, e.Title, e.Location, e.Date, e.Time).
		Scan(&e.ID, &e.CreatedAt)
}

// GetEvent returns an event by ID.
func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	const q = `SELECT id, creator_id, title, location, date, time, created_at FROM events WHERE id = $1`
	var e models.Event
	err := r.pool.QueryRow(ctx, q, id).Scan(&e.ID, &e.CreatorID, &e.Title, &e.Location, &e.Date, &e.Time, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AddParticipant records a user as a participant of an event.
func (r *Repository) AddParticipant(ctx context.Context, eventID, userID uuid.UUID) error {
	const q = `INSERT INTO users_events (event_id, user_id) VALUES ($1, $2)
		ON CONFLICT (event_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, eventID, userID)
	return err
}

// IsParticipant returns true if the user is recorded in users_events for the event.
func (r *Repository) IsParticipant(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	const q = `SELECT 1 FROM users_events WHERE event_id = $1 AND user_id = $2`
	var exists int
	err := r.pool.QueryRow(ctx, q, eventID, userID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CommitLocation sets the location while it is still empty.
func (r *Repository) CommitLocation(ctx context.Context, eventID uuid.UUID, location string) (bool, error) {
	const q = `UPDATE events SET location = $1 WHERE id = $2 AND location = ''`
	tag, err := r.pool.Exec(ctx, q, location, eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CommitSchedule sets date and time while the time is still empty.
func (r *Repository) CommitSchedule(ctx context.Context, eventID uuid.UUID, date, timeRange string) (bool, error) {
	const q = `UPDATE events SET date = $1, time = $2 WHERE id = $3 AND time = ''`
	tag, err := r.pool.Exec(ctx, q, date, timeRange, eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
