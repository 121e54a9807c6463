package votes

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatherly/backend/internal/models"
)

// Register persists every intent of set for the event in one transaction.
// A failure rolls back all of them and is returned as a *RegistrationError
// naming the phase that failed.
func (s *Service) Register(ctx context.Context, eventID uuid.UUID, set IntentSet) ([]models.Vote, error) {
	intents := set.all()
	if len(intents) == 0 {
		return nil, nil
	}

	var created []models.Vote
	err := s.store.InTx(ctx, func(tx Store) error {
		created = created[:0]
		for _, in := range intents {
			v, err := s.registerOne(ctx, tx, eventID, in)
			if err != nil {
				return err
			}
			created = append(created, *v)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("register votes failed", zap.String("event_id", eventID.String()), zap.Error(err))
		return nil, err
	}

	s.notifier.NotifyEvent(eventID, EventVotesRegistered, map[string]interface{}{
		"event_id": eventID,
		"count":    len(created),
	})
	return created, nil
}

func (s *Service) registerOne(ctx context.Context, tx Store, eventID uuid.UUID, in Intent) (*models.Vote, error) {
	kind := in.kind()
	question, dl := in.header()
	deadline, err := dl.In(s.loc)
	if err != nil {
		return nil, &RegistrationError{Phase: PhaseDescriptor, Kind: kind, Err: fmt.Errorf("%w: %w", ErrValidationFailed, err)}
	}

	v := &models.Vote{EventID: eventID, Kind: kind, Question: question, Deadline: deadline}
	if err := tx.CreateVote(ctx, v); err != nil {
		return nil, &RegistrationError{Phase: PhaseDescriptor, Kind: kind, Err: storeErr("insert vote", err)}
	}
	for _, text := range in.optionTexts() {
		o := &models.VoteOption{VoteID: v.ID, Text: text}
		if err := tx.CreateOption(ctx, o); err != nil {
			return nil, &RegistrationError{Phase: PhaseOption, Kind: kind, Err: storeErr("insert option", err)}
		}
	}
	return v, nil
}
