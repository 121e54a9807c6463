package votes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/backend/internal/models"
)

func buildSet(t *testing.T, forms ...*Form) IntentSet {
	t.Helper()
	var set IntentSet
	for _, f := range forms {
		in, err := f.Build()
		require.NoError(t, err)
		require.NoError(t, set.Add(in))
	}
	return set
}

func TestRegisterPersistsEveryIntent(t *testing.T) {
	svc, st, n := newTestService()
	ev := st.addEvent(uuid.New())

	loc := validTextForm(models.VoteKindLocation)
	loc.DeadlineDate, loc.DeadlineTime = "2025-06-25", "18:00"
	gen := validTextForm(models.VoteKindGeneral)
	gen.Options = []string{"Yes", "No", "Maybe"}
	set := buildSet(t, validTimeForm(), loc, gen)

	created, err := svc.Register(context.Background(), ev.ID, set)
	require.NoError(t, err)
	require.Len(t, created, 3)

	votes, options, _ := st.counts()
	assert.Equal(t, 3, votes)
	assert.Equal(t, 2+2+3, options)

	assert.Equal(t, models.VoteKindTime, created[0].Kind)
	assert.Nil(t, created[0].Deadline)
	require.NotNil(t, created[1].Deadline)
	assert.True(t, created[1].Deadline.Equal(time.Date(2025, 6, 25, 18, 0, 0, 0, time.UTC)))

	timeOpts, err := st.ListOptions(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-30|18:00|20:00", timeOpts[0].Text)

	assert.Equal(t, []string{EventVotesRegistered}, n.names())
}

func TestRegisterUsesConfiguredZone(t *testing.T) {
	st := newMemStore()
	loc := time.FixedZone("UTC-5", -5*60*60)
	svc := NewService(st, st, nil, loc, nil)
	ev := st.addEvent(uuid.New())

	f := validTextForm(models.VoteKindGeneral)
	f.DeadlineDate, f.DeadlineTime = "2025-06-25", "18:00"
	created, err := svc.Register(context.Background(), ev.ID, buildSet(t, f))
	require.NoError(t, err)
	assert.True(t, created[0].Deadline.Equal(time.Date(2025, 6, 25, 23, 0, 0, 0, time.UTC)))
}

func TestRegisterEmptySetIsNoop(t *testing.T) {
	svc, st, n := newTestService()
	created, err := svc.Register(context.Background(), uuid.New(), IntentSet{})
	require.NoError(t, err)
	assert.Empty(t, created)
	votes, _, _ := st.counts()
	assert.Zero(t, votes)
	assert.Empty(t, n.names())
}

func TestRegisterDescriptorFailure(t *testing.T) {
	svc, st, n := newTestService()
	ev := st.addEvent(uuid.New())
	st.failOn("CreateVote", 2, errors.New("connection reset"))

	set := buildSet(t, validTextForm(models.VoteKindLocation), validTextForm(models.VoteKindGeneral))
	_, err := svc.Register(context.Background(), ev.ID, set)
	require.Error(t, err)

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, PhaseDescriptor, regErr.Phase)
	assert.Equal(t, models.VoteKindGeneral, regErr.Kind)
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.Contains(t, err.Error(), "connection reset")

	votes, options, _ := st.counts()
	assert.Zero(t, votes, "transaction must roll back the first vote")
	assert.Zero(t, options)
	assert.Empty(t, n.names())
}

func TestRegisterOptionFailureRollsBack(t *testing.T) {
	svc, st, _ := newTestService()
	ev := st.addEvent(uuid.New())
	st.failOn("CreateOption", 2, errors.New("disk full"))

	_, err := svc.Register(context.Background(), ev.ID, buildSet(t, validTimeForm()))
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, PhaseOption, regErr.Phase)
	assert.Equal(t, models.VoteKindTime, regErr.Kind)

	votes, options, _ := st.counts()
	assert.Zero(t, votes)
	assert.Zero(t, options)
}

func TestRegisterBadDeadline(t *testing.T) {
	svc, st, _ := newTestService()
	ev := st.addEvent(uuid.New())
	set := IntentSet{General: []TextIntent{{
		Kind:     models.VoteKindGeneral,
		Question: "Bring snacks?",
		Deadline: Deadline{Date: "tomorrow", Time: "18:00"},
		Options:  []string{"Yes", "No"},
	}}}

	_, err := svc.Register(context.Background(), ev.ID, set)
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, PhaseDescriptor, regErr.Phase)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestRegisterSkipsBlankAndIncompleteOptions(t *testing.T) {
	svc, st, _ := newTestService()
	ev := st.addEvent(uuid.New())
	set := IntentSet{
		Location: &TextIntent{Kind: models.VoteKindLocation, Question: "Where?", Options: []string{"Cafe A", "  ", "Cafe B"}},
		Time: &TimeIntent{Question: "When?", Options: []TimedOption{
			{Date: "2025-06-30", Start: "18:00", End: "20:00"},
			{Date: "2025-07-01", Start: "18:00"},
		}},
	}

	_, err := svc.Register(context.Background(), ev.ID, set)
	require.NoError(t, err)
	_, options, _ := st.counts()
	assert.Equal(t, 3, options)
}
