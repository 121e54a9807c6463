package votes

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/models"
)

// Store persists polls, options and ballots. Lookups of a missing row return
// an error wrapping pgx.ErrNoRows.
type Store interface {
	CreateVote(ctx context.Context, v *models.Vote) error
	CreateOption(ctx context.Context, o *models.VoteOption) error
	GetVote(ctx context.Context, id uuid.UUID) (*models.Vote, error)
	ListVotesByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Vote, error)
	ListOptions(ctx context.Context, voteID uuid.UUID) ([]models.VoteOption, error)
	// ListBallots returns every ballot placed on one of optionIDs.
	ListBallots(ctx context.Context, optionIDs []uuid.UUID) ([]models.Ballot, error)
	// FindBallot returns the user's ballot among optionIDs, or nil when there is none.
	FindBallot(ctx context.Context, userID uuid.UUID, optionIDs []uuid.UUID) (*models.Ballot, error)
	// InsertBallot returns ErrAlreadyVoted when the user already holds a ballot on the vote.
	InsertBallot(ctx context.Context, b *models.Ballot) error
	SetDeadline(ctx context.Context, voteID uuid.UUID, deadline time.Time) error
	// DeleteVote removes the ballots, options and descriptor of a vote.
	DeleteVote(ctx context.Context, voteID uuid.UUID) error
	// ListSettleCandidates returns closed location and time votes whose event
	// field is still empty.
	ListSettleCandidates(ctx context.Context, now time.Time, limit int) ([]models.Vote, error)
	// InTx runs fn against a Store bound to one transaction. The transaction
	// commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Store) error) error
}

// EventStore is the part of the event record the voting core reads and writes.
type EventStore interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	IsParticipant(ctx context.Context, eventID, userID uuid.UUID) (bool, error)
	// CommitLocation writes location only while the event's location is empty
	// and reports whether the row changed.
	CommitLocation(ctx context.Context, eventID uuid.UUID, location string) (bool, error)
	// CommitSchedule writes date and time only while the event's time is empty
	// and reports whether the row changed.
	CommitSchedule(ctx context.Context, eventID uuid.UUID, date, timeRange string) (bool, error)
}

// Notifier delivers poll events to the connections watching one event.
type Notifier interface {
	NotifyEvent(eventID uuid.UUID, event string, data interface{})
}

// Notification names pushed to watchers of an event.
const (
	EventVoteCast        = "vote_cast"
	EventVoteClosed      = "vote_closed"
	EventVoteDeleted     = "vote_deleted"
	EventVotesRegistered = "votes_registered"
	EventEventUpdated    = "event_updated"
)

type nopNotifier struct{}

func (nopNotifier) NotifyEvent(uuid.UUID, string, interface{}) {}
