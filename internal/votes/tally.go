package votes

import (
	"context"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatherly/backend/internal/models"
)

// OptionResult is the live count for one option.
type OptionResult struct {
	ID      uuid.UUID    `json:"id"`
	Text    string       `json:"text"`
	Timed   *TimedOption `json:"timed,omitempty"`
	Votes   int          `json:"votes"`
	Percent int          `json:"percent"`
}

// Result is the tally of one vote as seen by one user.
type Result struct {
	Vote             models.Vote    `json:"vote"`
	Options          []OptionResult `json:"options"`
	IsClosed         bool           `json:"is_closed"`
	TotalVotes       int            `json:"total_votes"`
	UserVoteOptionID *uuid.UUID     `json:"user_vote_option_id"`
}

// EventResults groups the tallies of an event by kind.
type EventResults struct {
	Time     []Result `json:"time"`
	Location []Result `json:"location"`
	General  []Result `json:"general"`
}

// TallyOne computes the results of one vote of the event for userID and, when
// the vote has closed, commits its winner to the event.
func (s *Service) TallyOne(ctx context.Context, eventID, voteID, userID uuid.UUID) (*Result, error) {
	ev, err := s.authorizeMember(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	v, err := loadVote(ctx, s.store, voteID)
	if err != nil {
		return nil, err
	}
	if v.EventID != eventID {
		return nil, ErrNotFound
	}
	r, err := s.tally(ctx, v, userID)
	if err != nil {
		return nil, err
	}
	s.autoCommit(ctx, ev, r)
	return r, nil
}

// TallyAll tallies every vote of the event. The first failure aborts the batch.
func (s *Service) TallyAll(ctx context.Context, eventID, userID uuid.UUID) (*EventResults, error) {
	ev, err := s.authorizeMember(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListVotesByEvent(ctx, eventID)
	if err != nil {
		return nil, storeErr("list votes", err)
	}

	out := &EventResults{Time: []Result{}, Location: []Result{}, General: []Result{}}
	for i := range list {
		r, err := s.tally(ctx, &list[i], userID)
		if err != nil {
			return nil, err
		}
		s.autoCommit(ctx, ev, r)
		switch r.Vote.Kind {
		case models.VoteKindTime:
			out.Time = append(out.Time, *r)
		case models.VoteKindLocation:
			out.Location = append(out.Location, *r)
		default:
			out.General = append(out.General, *r)
		}
	}
	return out, nil
}

// Settle tallies a vote without an access check and commits its winner if the
// vote is closed. It reports whether the event was changed. Unlike the read
// path, a failed commit is returned so the caller can retry.
func (s *Service) Settle(ctx context.Context, voteID uuid.UUID) (*Result, bool, error) {
	v, err := loadVote(ctx, s.store, voteID)
	if err != nil {
		return nil, false, err
	}
	ev, err := s.loadEvent(ctx, v.EventID)
	if err != nil {
		return nil, false, err
	}
	r, err := s.tally(ctx, v, uuid.Nil)
	if err != nil {
		return nil, false, err
	}
	committed, err := s.commitWinner(ctx, ev, r)
	if err != nil {
		return r, false, err
	}
	return r, committed, nil
}

func (s *Service) tally(ctx context.Context, v *models.Vote, userID uuid.UUID) (*Result, error) {
	opts, err := s.store.ListOptions(ctx, v.ID)
	if err != nil {
		return nil, storeErr("list options", err)
	}

	r := &Result{Vote: *v, Options: countedOptions(v.Kind, opts), IsClosed: v.ClosedAt(s.now())}
	ids := make([]uuid.UUID, len(r.Options))
	for i, o := range r.Options {
		ids[i] = o.ID
	}

	ballots, err := s.store.ListBallots(ctx, ids)
	if err != nil {
		return nil, storeErr("list ballots", err)
	}
	counts := make(map[uuid.UUID]int, len(ids))
	for _, b := range ballots {
		counts[b.VoteOptionID]++
		if userID != uuid.Nil && b.UserID == userID {
			id := b.VoteOptionID
			r.UserVoteOptionID = &id
		}
	}
	for i := range r.Options {
		n := counts[r.Options[i].ID]
		r.Options[i].Votes = n
		r.TotalVotes += n
	}
	for i := range r.Options {
		r.Options[i].Percent = percent(r.Options[i].Votes, r.TotalVotes)
	}
	return r, nil
}

// countedOptions returns the options that take part in the tally. Time
// options whose text does not decode are left out.
func countedOptions(kind models.VoteKind, opts []models.VoteOption) []OptionResult {
	out := make([]OptionResult, 0, len(opts))
	for _, o := range opts {
		or := OptionResult{ID: o.ID, Text: o.Text}
		if kind == models.VoteKindTime {
			slot, ok := DecodeTimedOption(o.Text)
			if !ok {
				continue
			}
			or.Timed = &slot
		}
		out = append(out, or)
	}
	return out
}

func containsOption(opts []OptionResult, id uuid.UUID) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}

func percent(votes, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(votes) / float64(total) * 100))
}

// winner returns the option with the strictly greatest count; the earliest
// option wins a tie.
func winner(r *Result) (OptionResult, bool) {
	best := -1
	for i, o := range r.Options {
		if best < 0 || o.Votes > r.Options[best].Votes {
			best = i
		}
	}
	if best < 0 || r.Options[best].Votes == 0 {
		return OptionResult{}, false
	}
	return r.Options[best], true
}

// autoCommit is the best-effort commit of the read path: failures are logged.
func (s *Service) autoCommit(ctx context.Context, ev *models.Event, r *Result) {
	committed, err := s.commitWinner(ctx, ev, r)
	if err != nil {
		s.logger.Warn("auto-commit vote winner failed",
			zap.String("event_id", ev.ID.String()),
			zap.String("vote_id", r.Vote.ID.String()),
			zap.Error(err),
		)
		return
	}
	if committed && s.onCommit != nil {
		s.onCommit(ctx, r.Vote.EventID, r.Vote.ID)
	}
}

// commitWinner writes the winning option of a closed location or time vote to
// the event field it decides, if that field is still empty.
func (s *Service) commitWinner(ctx context.Context, ev *models.Event, r *Result) (bool, error) {
	if !r.IsClosed || r.TotalVotes == 0 {
		return false, nil
	}
	var (
		committed bool
		err       error
	)
	switch r.Vote.Kind {
	case models.VoteKindLocation:
		if ev.Location != "" {
			return false, nil
		}
		w, ok := winner(r)
		if !ok {
			return false, nil
		}
		committed, err = s.events.CommitLocation(ctx, ev.ID, w.Text)
		if err != nil {
			return false, storeErr("commit location", err)
		}
		if committed {
			ev.Location = w.Text
		}
	case models.VoteKindTime:
		if ev.Time != "" {
			return false, nil
		}
		w, ok := winner(r)
		if !ok || w.Timed == nil {
			return false, nil
		}
		committed, err = s.events.CommitSchedule(ctx, ev.ID, w.Timed.Date, w.Timed.Range())
		if err != nil {
			return false, storeErr("commit schedule", err)
		}
		if committed {
			ev.Date = w.Timed.Date
			ev.Time = w.Timed.Range()
		}
	default:
		return false, nil
	}

	if committed {
		s.logger.Info("vote winner committed",
			zap.String("event_id", ev.ID.String()),
			zap.String("vote_id", r.Vote.ID.String()),
			zap.String("kind", string(r.Vote.Kind)),
		)
		s.notifier.NotifyEvent(ev.ID, EventEventUpdated, map[string]interface{}{
			"event_id": ev.ID,
			"vote_id":  r.Vote.ID,
			"location": ev.Location,
			"date":     ev.Date,
			"time":     ev.Time,
		})
	}
	return committed, nil
}
