// Integration tests using testcontainers-go to spin up PostgreSQL.
package service

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"telegram-roulette/internal/pkg/db"
	"telegram-roulette/internal/repository"
)

func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = db.Migrate(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// fixedRand always draws the same value, clamped to [0, n).
type fixedRand struct {
	v int64
}

func (f fixedRand) Int63n(n int64) int64 {
	if f.v >= n {
		return n - 1
	}
	return f.v
}

func seedUser(t *testing.T, pool *pgxpool.Pool, telegramID, balance int64) int64 {
	t.Helper()
	username := "user"
	user, _, err := repository.NewUserRepository(pool).Upsert(
		context.Background(), telegramID, &username, nil, nil, nil, balance)
	require.NoError(t, err)
	return user.ID
}

func openRound(t *testing.T, pool *pgxpool.Pool, deadline time.Time) int64 {
	t.Helper()
	round, err := repository.NewRoundRepository(pool).CreateIfNoneOpen(context.Background(), deadline)
	require.NoError(t, err)
	require.NotNil(t, round)
	return round.ID
}

func TestSettleZeroStakes(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	roundID := openRound(t, pool, time.Now())

	svc := NewSettlementService(pool, fixedRand{}, 30*time.Second, 500)

	summary, err := svc.Settle(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, roundID, summary.RoundID)
	assert.Nil(t, summary.WinnerID)
	assert.Equal(t, int64(0), summary.TotalPool)
	assert.Equal(t, int64(0), summary.Commission)

	rounds := repository.NewRoundRepository(pool)
	round, err := rounds.GetByID(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, "finished", round.Status)
	assert.Nil(t, round.WinnerID)

	// A fresh round is open for the next cycle
	next, err := rounds.FindOpen(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, roundID, next.ID)
}

func TestSettleCreditsWinner(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	alice := seedUser(t, pool, 1, 1000)
	bob := seedUser(t, pool, 2, 1000)
	roundID := openRound(t, pool, time.Now().Add(time.Minute))

	stakeSvc := NewStakeService(pool)
	_, err := stakeSvc.PlaceStake(ctx, alice, roundID, 30)
	require.NoError(t, err)
	_, err = stakeSvc.PlaceStake(ctx, bob, roundID, 70)
	require.NoError(t, err)

	// Draw 25 lands in the first interval [0, 30): alice wins
	svc := NewSettlementService(pool, fixedRand{v: 25}, 30*time.Second, 500)

	summary, err := svc.Settle(ctx, roundID)
	require.NoError(t, err)
	require.NotNil(t, summary.WinnerID)
	assert.Equal(t, alice, *summary.WinnerID)
	assert.Equal(t, int64(100), summary.TotalPool)
	assert.Equal(t, int64(5), summary.Commission)
	assert.Equal(t, int64(95), summary.Prize)

	users := repository.NewUserRepository(pool)
	winner, err := users.GetByID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1000-30+95), winner.Balance)

	loser, err := users.GetByID(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1000-70), loser.Balance)

	// The prize is on the ledger
	entries, err := repository.NewTransactionRepository(pool).GetByUserID(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "prize", entries[0].Type)
	assert.Equal(t, int64(95), entries[0].Amount)
}

func TestSettleIsIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	alice := seedUser(t, pool, 1, 1000)
	roundID := openRound(t, pool, time.Now().Add(time.Minute))

	stakeSvc := NewStakeService(pool)
	_, err := stakeSvc.PlaceStake(ctx, alice, roundID, 100)
	require.NoError(t, err)

	svc := NewSettlementService(pool, fixedRand{v: 0}, 30*time.Second, 500)

	first, err := svc.Settle(ctx, roundID)
	require.NoError(t, err)

	second, err := svc.Settle(ctx, roundID)
	assert.ErrorIs(t, err, ErrAlreadySettled)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)

	// The winner was credited exactly once
	user, err := repository.NewUserRepository(pool).GetByID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1000-100+95), user.Balance)
}

func TestSettleConcurrent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	alice := seedUser(t, pool, 1, 1000)
	bob := seedUser(t, pool, 2, 1000)
	roundID := openRound(t, pool, time.Now().Add(time.Minute))

	stakeSvc := NewStakeService(pool)
	_, err := stakeSvc.PlaceStake(ctx, alice, roundID, 40)
	require.NoError(t, err)
	_, err = stakeSvc.PlaceStake(ctx, bob, roundID, 60)
	require.NoError(t, err)

	svc := NewSettlementService(pool, fixedRand{v: 10}, 30*time.Second, 500)

	const workers = 8
	summaries := make([]*Summary, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i], errs[i] = svc.Settle(ctx, roundID)
		}(i)
	}
	wg.Wait()

	// Exactly one call performed the settlement; every other one observed
	// the finished round
	winners := 0
	for i := 0; i < workers; i++ {
		if errs[i] == nil {
			winners++
		} else {
			assert.ErrorIs(t, errs[i], ErrAlreadySettled)
		}
		require.NotNil(t, summaries[i])
		assert.Equal(t, *summaries[0], *summaries[i])
	}
	assert.Equal(t, 1, winners)

	// Balances reflect a single prize credit: alice won on draw 10
	user, err := repository.NewUserRepository(pool).GetByID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1000-40+95), user.Balance)

	// Exactly one successor round exists
	var openCount int
	err = pool.QueryRow(ctx, "SELECT COUNT(*) FROM rounds WHERE status <> 'finished'").Scan(&openCount)
	require.NoError(t, err)
	assert.Equal(t, 1, openCount)
}

func TestStakeOnFinishedRound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	alice := seedUser(t, pool, 1, 1000)
	roundID := openRound(t, pool, time.Now())

	svc := NewSettlementService(pool, fixedRand{}, 30*time.Second, 500)
	_, err := svc.Settle(ctx, roundID)
	require.NoError(t, err)

	_, err = NewStakeService(pool).PlaceStake(ctx, alice, roundID, 10)
	assert.ErrorIs(t, err, ErrRoundClosed)

	// Nothing was debited
	user, err := repository.NewUserRepository(pool).GetByID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), user.Balance)
}

func TestCheckAndSettleDueRounds(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	roundID := openRound(t, pool, time.Now().Add(-time.Second))

	svc := NewSettlementService(pool, fixedRand{}, time.Hour, 500)

	settled, err := svc.CheckAndSettleDueRounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	round, err := repository.NewRoundRepository(pool).GetByID(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, "finished", round.Status)

	// The successor is an hour out, so a second sweep finds nothing
	settled, err = svc.CheckAndSettleDueRounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
}

func TestEnsureOpenRound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := NewSettlementService(pool, fixedRand{}, time.Hour, 500)

	require.NoError(t, svc.EnsureOpenRound(ctx))
	round, err := repository.NewRoundRepository(pool).FindOpen(ctx)
	require.NoError(t, err)

	// Idempotent: a second call keeps the same round
	require.NoError(t, svc.EnsureOpenRound(ctx))
	again, err := repository.NewRoundRepository(pool).FindOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, round.ID, again.ID)
}

func TestConcurrentFirstStakesSameUser(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	alice := seedUser(t, pool, 1, 1000)
	roundID := openRound(t, pool, time.Now().Add(time.Minute))

	stakeSvc := NewStakeService(pool)

	// Two first stakes by the same user racing each other must converge
	// on one row via the (round_id, user_id) upsert
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = stakeSvc.PlaceStake(ctx, alice, roundID, 30)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stakes, err := repository.NewStakeRepository(pool).ListForRound(ctx, roundID)
	require.NoError(t, err)
	require.Len(t, stakes, 1)
	assert.Equal(t, int64(60), stakes[0].Amount)

	user, err := repository.NewUserRepository(pool).GetByID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(940), user.Balance)

	round, err := repository.NewRoundRepository(pool).GetByID(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), round.TotalPool)
}

func TestStakeRaceWithSettlement(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	alice := seedUser(t, pool, 1, 1000)
	roundID := openRound(t, pool, time.Now().Add(time.Minute))

	stakeSvc := NewStakeService(pool)
	_, err := stakeSvc.PlaceStake(ctx, alice, roundID, 30)
	require.NoError(t, err)

	settleSvc := NewSettlementService(pool, fixedRand{}, time.Hour, 500)

	// A top-up racing the settlement of the same round, with the staker
	// drawn as winner. Both paths lock the round row first, so they
	// serialize instead of deadlocking: the top-up either lands before
	// the settlement or observes the finished round.
	var wg sync.WaitGroup
	var stakeErr, settleErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, stakeErr = stakeSvc.PlaceStake(ctx, alice, roundID, 20)
	}()
	go func() {
		defer wg.Done()
		_, settleErr = settleSvc.Settle(ctx, roundID)
	}()
	wg.Wait()

	require.NoError(t, settleErr)
	if stakeErr != nil {
		assert.ErrorIs(t, stakeErr, ErrRoundClosed)
	}

	round, err := repository.NewRoundRepository(pool).GetByID(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, "finished", round.Status)
	require.NotNil(t, round.WinnerID)
	assert.Equal(t, alice, *round.WinnerID)

	// Balance is consistent with whichever order won the race: alice is
	// the sole staker, so she paid the pool in and got it back minus
	// commission
	staked := int64(30)
	if stakeErr == nil {
		staked = 50
	}
	prize := staked - staked*500/10000
	assert.Equal(t, staked, round.TotalPool)

	user, err := repository.NewUserRepository(pool).GetByID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1000-staked+prize, user.Balance)
}

func TestSettleMissingRound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewSettlementService(pool, fixedRand{}, time.Hour, 500)
	_, err := svc.Settle(context.Background(), 99999)
	assert.True(t, errors.Is(err, repository.ErrRoundNotFound))
}
