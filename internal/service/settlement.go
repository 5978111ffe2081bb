package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"telegram-roulette/internal/model"
	"telegram-roulette/internal/repository"
)

// Rand is the random source for winner selection. Abstracted so tests
// can inject deterministic draws.
type Rand interface {
	// Int63n returns a uniform random value in [0, n). n must be > 0.
	Int63n(n int64) int64
}

type mathRand struct {
	r *rand.Rand
}

func (m *mathRand) Int63n(n int64) int64 {
	return m.r.Int63n(n)
}

// NewRand returns the default random source.
func NewRand() Rand {
	return &mathRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Summary describes a settled round.
type Summary struct {
	RoundID    int64  `json:"roundId"`
	WinnerID   *int64 `json:"winnerId"`
	TotalPool  int64  `json:"totalPool"`
	Commission int64  `json:"commission"`
	Prize      int64  `json:"prize"`
}

// SettlementService finishes due rounds: it draws the winner weighted by
// stake amount, applies commission, credits the prize and opens the
// successor round, atomically and exactly once per round.
type SettlementService struct {
	pool          *pgxpool.Pool
	rng           Rand
	roundDuration time.Duration
	commissionBps int64
}

// NewSettlementService creates a new SettlementService instance.
func NewSettlementService(pool *pgxpool.Pool, rng Rand, roundDuration time.Duration, commissionBps int64) *SettlementService {
	return &SettlementService{
		pool:          pool,
		rng:           rng,
		roundDuration: roundDuration,
		commissionBps: commissionBps,
	}
}

// pickWinner selects the stake whose cumulative interval
// [cumBefore, cumBefore+amount) contains r, giving stake i the win
// probability amount_i / totalPool. Iteration order is the caller's
// stable insertion order. If the loop exhausts without a hit (r at or
// beyond the cumulative total), the last stake wins; that is the defined
// tie-break, not an accident.
func pickWinner(stakes []*model.Stake, r int64) *model.Stake {
	for _, stake := range stakes {
		r -= stake.Amount
		if r < 0 {
			return stake
		}
	}
	return stakes[len(stakes)-1]
}

// commissionFor computes floor(pool * rate) in integer arithmetic.
func commissionFor(pool, bps int64) int64 {
	return pool * bps / 10000
}

// Settle finishes the round and opens its successor. Calling it on an
// already-finished round is a no-op that returns the existing summary
// together with ErrAlreadySettled; concurrent callers serialize on the
// round's row lock and the conditional status update, so exactly one of
// them performs the balance mutations.
func (s *SettlementService) Settle(ctx context.Context, roundID int64) (*Summary, error) {
	var summary *Summary
	err := repository.WithTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		rounds := repository.NewRoundRepository(tx)
		stakes := repository.NewStakeRepository(tx)
		users := repository.NewUserRepository(tx)
		ledger := repository.NewTransactionRepository(tx)

		round, err := rounds.GetByIDForUpdate(ctx, roundID)
		if err != nil {
			return err
		}
		if round.Status == model.RoundStatusFinished {
			summary = summaryOf(round)
			return ErrAlreadySettled
		}

		roundStakes, err := stakes.ListForRound(ctx, roundID)
		if err != nil {
			return err
		}

		now := time.Now()

		if len(roundStakes) == 0 {
			// Nobody staked: close the round without balance changes.
			finished, err := rounds.Finish(ctx, roundID, nil, 0, 0, now)
			if err != nil {
				return err
			}
			if !finished {
				return ErrAlreadySettled
			}
			if _, err := rounds.Create(ctx, now.Add(s.roundDuration)); err != nil {
				return err
			}
			summary = &Summary{RoundID: roundID}
			return nil
		}

		// Stakes are the source of truth for the pool; the stored
		// total_pool is recomputed here in case they diverged.
		var totalPool int64
		for _, stake := range roundStakes {
			totalPool += stake.Amount
		}

		winner := pickWinner(roundStakes, s.rng.Int63n(totalPool))
		commission := commissionFor(totalPool, s.commissionBps)
		prize := totalPool - commission

		// Conditional update on status is the serialization point: only
		// one settlement per round can flip it to finished.
		finished, err := rounds.Finish(ctx, roundID, &winner.UserID, totalPool, commission, now)
		if err != nil {
			return err
		}
		if !finished {
			return ErrAlreadySettled
		}

		if _, err := users.Credit(ctx, winner.UserID, prize); err != nil {
			return err
		}

		desc := fmt.Sprintf("prize for round %d", roundID)
		if _, err := ledger.Create(ctx, winner.UserID, prize, model.TxTypePrize, &desc); err != nil {
			return err
		}

		if _, err := rounds.Create(ctx, now.Add(s.roundDuration)); err != nil {
			return err
		}

		summary = &Summary{
			RoundID:    roundID,
			WinnerID:   &winner.UserID,
			TotalPool:  totalPool,
			Commission: commission,
			Prize:      prize,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) && summary != nil {
			return summary, ErrAlreadySettled
		}
		return nil, err
	}

	event := log.Info().
		Int64("round_id", summary.RoundID).
		Int64("total_pool", summary.TotalPool).
		Int64("commission", summary.Commission)
	if summary.WinnerID != nil {
		event = event.Int64("winner_id", *summary.WinnerID)
	}
	event.Msg("Round settled")

	return summary, nil
}

// summaryOf rebuilds the settlement summary of a finished round.
func summaryOf(round *model.Round) *Summary {
	return &Summary{
		RoundID:    round.ID,
		WinnerID:   round.WinnerID,
		TotalPool:  round.TotalPool,
		Commission: round.Commission,
		Prize:      round.TotalPool - round.Commission,
	}
}

// CheckAndSettleDueRounds settles every non-finished round whose
// deadline has passed and returns how many this call actually settled.
// Both the periodic sweep and the request-triggered check funnel in
// here; redundant invocations are harmless because Settle is idempotent.
func (s *SettlementService) CheckAndSettleDueRounds(ctx context.Context) (int, error) {
	rounds := repository.NewRoundRepository(s.pool)
	due, err := rounds.FindDue(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, id := range due {
		if _, err := s.Settle(ctx, id); err != nil {
			if errors.Is(err, ErrAlreadySettled) || errors.Is(err, repository.ErrRoundNotFound) {
				continue
			}
			log.Error().Err(err).Int64("round_id", id).Msg("Failed to settle round")
			continue
		}
		settled++
	}

	return settled, nil
}

// EnsureOpenRound creates the initial waiting round if none exists.
// Used at startup and safe to call from any number of instances.
func (s *SettlementService) EnsureOpenRound(ctx context.Context) error {
	rounds := repository.NewRoundRepository(s.pool)
	round, err := rounds.CreateIfNoneOpen(ctx, time.Now().Add(s.roundDuration))
	if err != nil {
		return fmt.Errorf("failed to bootstrap round: %w", err)
	}
	if round != nil {
		log.Info().Int64("round_id", round.ID).Time("deadline", round.Deadline).Msg("Opened initial round")
	}
	return nil
}
