package votes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gatherly/backend/internal/models"
)

// Service implements poll registration, tallying and ballot casting for events.
type Service struct {
	store    Store
	events   EventStore
	notifier Notifier
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time
	onCommit CommitHook
}

// CommitHook is called after a read commits a vote's winner to its event.
type CommitHook func(ctx context.Context, eventID, voteID uuid.UUID)

// NewService creates a votes service. Deadlines entered as date and time are
// read in loc. notifier and logger may be nil.
func NewService(store Store, events EventStore, notifier Notifier, loc *time.Location, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		events:   events,
		notifier: notifier,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}
}

// OnCommit registers fn to run after TallyOne or TallyAll commits a winner.
// Commits made by Settle do not call it.
func (s *Service) OnCommit(fn CommitHook) {
	s.onCommit = fn
}

// loadEvent maps a missing event to ErrNotFound.
func (s *Service) loadEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	ev, err := s.events.GetEvent(ctx, eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get event", err)
	}
	return ev, nil
}

// loadVote maps a missing vote to ErrNotFound.
func loadVote(ctx context.Context, st Store, voteID uuid.UUID) (*models.Vote, error) {
	v, err := st.GetVote(ctx, voteID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get vote", err)
	}
	return v, nil
}

// authorizeMember returns the event when userID created it or participates in it.
func (s *Service) authorizeMember(ctx context.Context, eventID, userID uuid.UUID) (*models.Event, error) {
	ev, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.CreatorID == userID {
		return ev, nil
	}
	ok, err := s.events.IsParticipant(ctx, eventID, userID)
	if err != nil {
		return nil, storeErr("check participant", err)
	}
	if !ok {
		return nil, ErrAccessDenied
	}
	return ev, nil
}

// RequireCreator fails with ErrAccessDenied unless userID created the event.
func (s *Service) RequireCreator(ctx context.Context, eventID, userID uuid.UUID) (*models.Event, error) {
	ev, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.CreatorID != userID {
		return nil, ErrAccessDenied
	}
	return ev, nil
}

// CanWatch reports whether userID may receive realtime updates for the event.
func (s *Service) CanWatch(ctx context.Context, eventID, userID uuid.UUID) bool {
	_, err := s.authorizeMember(ctx, eventID, userID)
	return err == nil
}
