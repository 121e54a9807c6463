package votes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/gatherly/backend/internal/events"
	"github.com/gatherly/backend/internal/models"
	"github.com/gatherly/backend/pkg/database"
)

// startPostgres runs a throwaway PostgreSQL with the schema applied.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	ctx := context.Background()

	var (
		container *postgres.PostgresContainer
		err       error
	)
	func() {
		// testcontainers panics when no Docker provider is reachable.
		defer func() {
			if r := recover(); r != nil {
				t.Skipf("no container provider: %v", r)
			}
		}()
		container, err = postgres.Run(ctx, "postgres:15-alpine",
			postgres.WithDatabase("gatherly"),
			postgres.WithUsername("user"),
			postgres.WithPassword("password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
	}()
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := database.NewPostgresPool(ctx, dsn, database.PoolOptions{MaxConns: 10}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool, zap.NewNop()))
	return pool
}

func TestPostgresVoteLifecycle(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	eventRepo := events.NewRepository(pool)
	voteRepo := NewRepository(pool)
	svc := NewService(voteRepo, eventRepo, nil, time.UTC, zap.NewNop())

	creator, alice, bob, outsider := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	ev := &models.Event{CreatorID: creator, Title: "Summer BBQ"}
	require.NoError(t, eventRepo.Create(ctx, ev))
	require.NoError(t, eventRepo.AddParticipant(ctx, ev.ID, alice))
	require.NoError(t, eventRepo.AddParticipant(ctx, ev.ID, bob))

	var set IntentSet
	require.NoError(t, set.Add(TextIntent{
		Kind:     models.VoteKindLocation,
		Question: "Where?",
		Options:  []string{"Park", "Beach"},
	}))
	require.NoError(t, set.Add(TimeIntent{
		Question: "When?",
		Options: []TimedOption{
			{Date: "2025-07-01", Start: "18:00", End: "21:00"},
			{Date: "2025-07-02", Start: "19:00", End: "22:00"},
		},
	}))
	created, err := svc.Register(ctx, ev.ID, set)
	require.NoError(t, err)
	require.Len(t, created, 2)
	timeVote, locVote := created[0], created[1]
	assert.Equal(t, models.VoteKindTime, timeVote.Kind)

	locOpts, err := voteRepo.ListOptions(ctx, locVote.ID)
	require.NoError(t, err)
	require.Len(t, locOpts, 2)
	timeOpts, err := voteRepo.ListOptions(ctx, timeVote.ID)
	require.NoError(t, err)
	require.Len(t, timeOpts, 2)
	assert.Equal(t, "2025-07-02|19:00|22:00", timeOpts[1].Text)

	_, err = svc.Cast(ctx, locVote.ID, locOpts[1].ID, alice)
	require.NoError(t, err)
	_, err = svc.Cast(ctx, locVote.ID, locOpts[0].ID, alice)
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	_, err = svc.Cast(ctx, locVote.ID, locOpts[0].ID, outsider)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = svc.Cast(ctx, locVote.ID, timeOpts[0].ID, bob)
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = svc.Cast(ctx, timeVote.ID, timeOpts[1].ID, bob)
	require.NoError(t, err)

	_, err = svc.Close(ctx, locVote.ID, creator)
	require.NoError(t, err)
	_, err = svc.Close(ctx, timeVote.ID, creator)
	require.NoError(t, err)

	res, err := svc.TallyOne(ctx, ev.ID, locVote.ID, alice)
	require.NoError(t, err)
	assert.True(t, res.IsClosed)
	assert.Equal(t, 1, res.TotalVotes)
	require.NotNil(t, res.UserVoteOptionID)
	assert.Equal(t, locOpts[1].ID, *res.UserVoteOptionID)

	all, err := svc.TallyAll(ctx, ev.ID, bob)
	require.NoError(t, err)
	require.Len(t, all.Time, 1)
	assert.Equal(t, 100, all.Time[0].Options[1].Percent)

	stored, err := eventRepo.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Beach", stored.Location)
	assert.Equal(t, "2025-07-02", stored.Date)
	assert.Equal(t, "19:00-22:00", stored.Time)

	// Committed fields are not overwritten by later commits.
	ok, err := eventRepo.CommitLocation(ctx, ev.ID, "Park")
	require.NoError(t, err)
	assert.False(t, ok)

	candidates, err := voteRepo.ListSettleCandidates(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	require.NoError(t, svc.Remove(ctx, locVote.ID, creator))
	_, err = svc.TallyOne(ctx, ev.ID, locVote.ID, alice)
	assert.ErrorIs(t, err, ErrNotFound)
	ballots, err := voteRepo.ListBallots(ctx, []uuid.UUID{locOpts[0].ID, locOpts[1].ID})
	require.NoError(t, err)
	assert.Empty(t, ballots)
}

func TestPostgresUniqueBallotUnderConcurrency(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	eventRepo := events.NewRepository(pool)
	voteRepo := NewRepository(pool)
	svc := NewService(voteRepo, eventRepo, nil, time.UTC, zap.NewNop())

	creator, voter := uuid.New(), uuid.New()
	ev := &models.Event{CreatorID: creator, Title: "Board games"}
	require.NoError(t, eventRepo.Create(ctx, ev))
	require.NoError(t, eventRepo.AddParticipant(ctx, ev.ID, voter))

	var set IntentSet
	require.NoError(t, set.Add(TextIntent{
		Kind:     models.VoteKindGeneral,
		Question: "Which game?",
		Options:  []string{"Catan", "Azul"},
	}))
	created, err := svc.Register(ctx, ev.ID, set)
	require.NoError(t, err)
	opts, err := voteRepo.ListOptions(ctx, created[0].ID)
	require.NoError(t, err)

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Cast(ctx, created[0].ID, opts[i%2].ID, voter)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyVoted)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)

	ballots, err := voteRepo.ListBallots(ctx, []uuid.UUID{opts[0].ID, opts[1].ID})
	require.NoError(t, err)
	assert.Len(t, ballots, 1)
}

func TestPostgresRegisterRollsBackOnFailure(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	eventRepo := events.NewRepository(pool)
	voteRepo := NewRepository(pool)
	svc := NewService(voteRepo, eventRepo, nil, time.UTC, zap.NewNop())

	ev := &models.Event{CreatorID: uuid.New(), Title: "Dinner"}
	require.NoError(t, eventRepo.Create(ctx, ev))

	// PostgreSQL rejects NUL bytes in text, so the second descriptor fails
	// after the first one was inserted.
	var set IntentSet
	require.NoError(t, set.Add(TextIntent{Kind: models.VoteKindLocation, Question: "Where?", Options: []string{"a", "b"}}))
	require.NoError(t, set.Add(TextIntent{Kind: models.VoteKindGeneral, Question: "bad\x00", Options: []string{"a", "b"}}))
	_, err := svc.Register(ctx, ev.ID, set)
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, PhaseDescriptor, regErr.Phase)
	assert.Equal(t, models.VoteKindGeneral, regErr.Kind)
	assert.ErrorIs(t, err, ErrStoreFailure)

	list, err := voteRepo.ListVotesByEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPostgresSettleCandidatesNeedCountedBallot(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	eventRepo := events.NewRepository(pool)
	voteRepo := NewRepository(pool)
	ev := &models.Event{CreatorID: uuid.New(), Title: "Picnic"}
	require.NoError(t, eventRepo.Create(ctx, ev))

	deadline := time.Now().Add(-time.Hour)
	seed := func(kind models.VoteKind, text string) uuid.UUID {
		v := &models.Vote{EventID: ev.ID, Kind: kind, Question: "Which?", Deadline: &deadline}
		require.NoError(t, voteRepo.CreateVote(ctx, v))
		o := &models.VoteOption{VoteID: v.ID, Text: text}
		require.NoError(t, voteRepo.CreateOption(ctx, o))
		require.NoError(t, voteRepo.InsertBallot(ctx, &models.Ballot{VoteID: v.ID, VoteOptionID: o.ID, UserID: uuid.New()}))
		return v.ID
	}
	seed(models.VoteKindTime, "2025-6-30|18:00|20:00")
	goodTime := seed(models.VoteKindTime, "2025-07-01|19:00|21:00")
	location := seed(models.VoteKindLocation, "Park")

	list, err := voteRepo.ListSettleCandidates(ctx, time.Now(), 10)
	require.NoError(t, err)
	ids := make([]uuid.UUID, len(list))
	for i, v := range list {
		ids[i] = v.ID
	}
	assert.ElementsMatch(t, []uuid.UUID{goodTime, location}, ids)
}
