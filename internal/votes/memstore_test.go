package votes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gatherly/backend/internal/models"
)

var testNow = time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory Store and EventStore used by the package tests.
type memStore struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	events   map[uuid.UUID]*models.Event
	members  map[uuid.UUID]map[uuid.UUID]bool
	votes    []*models.Vote
	options  []models.VoteOption
	ballots  []models.Ballot
	calls    map[string]int
	failures map[string]failure
	tick     time.Duration
}

// failure makes the n-th call (1-based) of a method fail; n == 0 fails every call.
type failure struct {
	n   int
	err error
}

func newMemStore() *memStore {
	return &memStore{
		events:   map[uuid.UUID]*models.Event{},
		members:  map[uuid.UUID]map[uuid.UUID]bool{},
		calls:    map[string]int{},
		failures: map[string]failure{},
	}
}

func (m *memStore) failOn(method string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = failure{n: n, err: err}
}

// hit counts a call and returns the injected error, if any. Caller holds mu.
func (m *memStore) hit(method string) error {
	m.calls[method]++
	f, ok := m.failures[method]
	if !ok {
		return nil
	}
	if f.n == 0 || f.n == m.calls[method] {
		return f.err
	}
	return nil
}

func (m *memStore) stamp() time.Time {
	m.tick += time.Millisecond
	return testNow.Add(-time.Hour).Add(m.tick)
}

func (m *memStore) addEvent(creator uuid.UUID, participants ...uuid.UUID) *models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := &models.Event{ID: uuid.New(), CreatorID: creator, Title: "Dinner", CreatedAt: m.stamp()}
	m.events[ev.ID] = ev
	m.members[ev.ID] = map[uuid.UUID]bool{}
	for _, p := range participants {
		m.members[ev.ID][p] = true
	}
	return ev
}

func (m *memStore) event(id uuid.UUID) models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.events[id]
}

// seedVote inserts a vote with the given option texts directly.
func (m *memStore) seedVote(eventID uuid.UUID, kind models.VoteKind, deadline *time.Time, texts ...string) (*models.Vote, []models.VoteOption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &models.Vote{ID: uuid.New(), EventID: eventID, Kind: kind, Question: "Which?", Deadline: deadline, CreatedAt: m.stamp()}
	m.votes = append(m.votes, v)
	var opts []models.VoteOption
	for _, t := range texts {
		o := models.VoteOption{ID: uuid.New(), VoteID: v.ID, Text: t, CreatedAt: m.stamp()}
		m.options = append(m.options, o)
		opts = append(opts, o)
	}
	cp := *v
	return &cp, opts
}

func (m *memStore) seedBallot(voteID, optionID, userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ballots = append(m.ballots, models.Ballot{ID: uuid.New(), VoteID: voteID, VoteOptionID: optionID, UserID: userID, CreatedAt: m.stamp()})
}

func (m *memStore) counts() (votes, options, ballots int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.votes), len(m.options), len(m.ballots)
}

func (m *memStore) CreateVote(_ context.Context, v *models.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CreateVote"); err != nil {
		return err
	}
	v.ID = uuid.New()
	v.CreatedAt = m.stamp()
	cp := *v
	m.votes = append(m.votes, &cp)
	return nil
}

func (m *memStore) CreateOption(_ context.Context, o *models.VoteOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CreateOption"); err != nil {
		return err
	}
	o.ID = uuid.New()
	o.CreatedAt = m.stamp()
	m.options = append(m.options, *o)
	return nil
}

func (m *memStore) GetVote(_ context.Context, id uuid.UUID) (*models.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("GetVote"); err != nil {
		return nil, err
	}
	for _, v := range m.votes {
		if v.ID == id {
			cp := *v
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get vote: %w", pgx.ErrNoRows)
}

func (m *memStore) ListVotesByEvent(_ context.Context, eventID uuid.UUID) ([]models.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListVotesByEvent"); err != nil {
		return nil, err
	}
	var out []models.Vote
	for _, v := range m.votes {
		if v.EventID == eventID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (m *memStore) ListOptions(_ context.Context, voteID uuid.UUID) ([]models.VoteOption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListOptions"); err != nil {
		return nil, err
	}
	var out []models.VoteOption
	for _, o := range m.options {
		if o.VoteID == voteID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) ListBallots(_ context.Context, optionIDs []uuid.UUID) ([]models.Ballot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListBallots"); err != nil {
		return nil, err
	}
	var out []models.Ballot
	for _, b := range m.ballots {
		if containsID(optionIDs, b.VoteOptionID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) FindBallot(_ context.Context, userID uuid.UUID, optionIDs []uuid.UUID) (*models.Ballot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("FindBallot"); err != nil {
		return nil, err
	}
	for _, b := range m.ballots {
		if b.UserID == userID && containsID(optionIDs, b.VoteOptionID) {
			cp := b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertBallot(_ context.Context, b *models.Ballot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("InsertBallot"); err != nil {
		return err
	}
	for _, x := range m.ballots {
		if x.VoteID == b.VoteID && x.UserID == b.UserID {
			return ErrAlreadyVoted
		}
	}
	b.ID = uuid.New()
	b.CreatedAt = m.stamp()
	m.ballots = append(m.ballots, *b)
	return nil
}

func (m *memStore) SetDeadline(_ context.Context, voteID uuid.UUID, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("SetDeadline"); err != nil {
		return err
	}
	for _, v := range m.votes {
		if v.ID == voteID {
			d := deadline
			v.Deadline = &d
		}
	}
	return nil
}

func (m *memStore) DeleteVote(_ context.Context, voteID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("DeleteVote"); err != nil {
		return err
	}
	ballots := m.ballots[:0]
	for _, b := range m.ballots {
		if b.VoteID != voteID {
			ballots = append(ballots, b)
		}
	}
	m.ballots = ballots
	options := m.options[:0]
	for _, o := range m.options {
		if o.VoteID != voteID {
			options = append(options, o)
		}
	}
	m.options = options
	votes := m.votes[:0]
	for _, v := range m.votes {
		if v.ID != voteID {
			votes = append(votes, v)
		}
	}
	m.votes = votes
	return nil
}

func (m *memStore) ListSettleCandidates(_ context.Context, now time.Time, limit int) ([]models.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListSettleCandidates"); err != nil {
		return nil, err
	}
	var out []models.Vote
	for _, v := range m.votes {
		if !v.ClosedAt(now) {
			continue
		}
		ev := m.events[v.EventID]
		open := (v.Kind == models.VoteKindLocation && ev.Location == "") ||
			(v.Kind == models.VoteKindTime && ev.Time == "")
		if !open {
			continue
		}
		for _, b := range m.ballots {
			if b.VoteID == v.ID && m.counted(v.Kind, b.VoteOptionID) {
				out = append(out, *v)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// counted reports whether a ballot on optionID takes part in a tally. Caller holds mu.
func (m *memStore) counted(kind models.VoteKind, optionID uuid.UUID) bool {
	for _, o := range m.options {
		if o.ID == optionID {
			return kind != models.VoteKindTime || slotPattern.MatchString(o.Text)
		}
	}
	return false
}

// InTx serializes transactions and restores the previous state when fn fails.
func (m *memStore) InTx(_ context.Context, fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	votes := make([]*models.Vote, len(m.votes))
	for i, v := range m.votes {
		cp := *v
		votes[i] = &cp
	}
	options := append([]models.VoteOption(nil), m.options...)
	ballots := append([]models.Ballot(nil), m.ballots...)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.votes, m.options, m.ballots = votes, options, ballots
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("GetEvent"); err != nil {
		return nil, err
	}
	ev, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("get event: %w", pgx.ErrNoRows)
	}
	cp := *ev
	return &cp, nil
}

func (m *memStore) IsParticipant(_ context.Context, eventID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("IsParticipant"); err != nil {
		return false, err
	}
	return m.members[eventID][userID], nil
}

func (m *memStore) CommitLocation(_ context.Context, eventID uuid.UUID, location string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CommitLocation"); err != nil {
		return false, err
	}
	ev, ok := m.events[eventID]
	if !ok || ev.Location != "" {
		return false, nil
	}
	ev.Location = location
	return true, nil
}

func (m *memStore) CommitSchedule(_ context.Context, eventID uuid.UUID, date, timeRange string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CommitSchedule"); err != nil {
		return false, err
	}
	ev, ok := m.events[eventID]
	if !ok || ev.Time != "" {
		return false, nil
	}
	ev.Date = date
	ev.Time = timeRange
	return true, nil
}

type notification struct {
	eventID uuid.UUID
	event   string
	data    interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) NotifyEvent(eventID uuid.UUID, event string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{eventID: eventID, event: event, data: data})
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.event
	}
	return out
}

// newTestService wires a Service over a fresh memStore with a fixed clock.
func newTestService() (*Service, *memStore, *recordingNotifier) {
	st := newMemStore()
	n := &recordingNotifier{}
	svc := NewService(st, st, n, time.UTC, nil)
	svc.now = func() time.Time { return testNow }
	return svc, st, n
}

func timePtr(t time.Time) *time.Time { return &t }

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
