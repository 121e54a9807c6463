package votes

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/models"
)

// Cast records userID's ballot for optionID. Checks run in order: the vote
// exists, the user belongs to the event, the vote is open, the user has not
// voted yet, and the option belongs to the vote.
func (s *Service) Cast(ctx context.Context, voteID, optionID, userID uuid.UUID) (*models.Ballot, error) {
	var (
		ballot  *models.Ballot
		eventID uuid.UUID
	)
	err := s.store.InTx(ctx, func(tx Store) error {
		v, err := loadVote(ctx, tx, voteID)
		if err != nil {
			return err
		}
		eventID = v.EventID
		if _, err := s.authorizeMember(ctx, v.EventID, userID); err != nil {
			return err
		}
		if v.ClosedAt(s.now()) {
			return ErrVoteClosed
		}

		opts, err := tx.ListOptions(ctx, v.ID)
		if err != nil {
			return storeErr("list options", err)
		}
		ids := make([]uuid.UUID, len(opts))
		for i, o := range opts {
			ids[i] = o.ID
		}
		existing, err := tx.FindBallot(ctx, userID, ids)
		if err != nil {
			return storeErr("find ballot", err)
		}
		if existing != nil {
			return ErrAlreadyVoted
		}
		if !containsOption(countedOptions(v.Kind, opts), optionID) {
			return ErrInvalidOption
		}

		b := &models.Ballot{VoteID: v.ID, VoteOptionID: optionID, UserID: userID}
		if err := tx.InsertBallot(ctx, b); err != nil {
			if errors.Is(err, ErrAlreadyVoted) {
				return err
			}
			return storeErr("insert ballot", err)
		}
		ballot = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyEvent(eventID, EventVoteCast, map[string]interface{}{
		"vote_id":   voteID,
		"option_id": optionID,
	})
	return ballot, nil
}

// Close ends the vote now unless its deadline has already passed. Only the
// event creator may close a vote.
func (s *Service) Close(ctx context.Context, voteID, userID uuid.UUID) (*models.Vote, error) {
	v, err := loadVote(ctx, s.store, voteID)
	if err != nil {
		return nil, err
	}
	if _, err := s.RequireCreator(ctx, v.EventID, userID); err != nil {
		return nil, err
	}
	now := s.now()
	if v.ClosedAt(now) {
		return v, nil
	}
	if err := s.store.SetDeadline(ctx, v.ID, now); err != nil {
		return nil, storeErr("set deadline", err)
	}
	v.Deadline = &now

	s.notifier.NotifyEvent(v.EventID, EventVoteClosed, map[string]interface{}{
		"vote_id":  v.ID,
		"deadline": now,
	})
	return v, nil
}

// Remove deletes the vote with its options and ballots. Only the event
// creator may remove a vote.
func (s *Service) Remove(ctx context.Context, voteID, userID uuid.UUID) error {
	v, err := loadVote(ctx, s.store, voteID)
	if err != nil {
		return err
	}
	if _, err := s.RequireCreator(ctx, v.EventID, userID); err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.DeleteVote(ctx, v.ID); err != nil {
			return storeErr("delete vote", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.NotifyEvent(v.EventID, EventVoteDeleted, map[string]interface{}{
		"vote_id": v.ID,
	})
	return nil
}
