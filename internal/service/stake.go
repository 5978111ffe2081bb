package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"telegram-roulette/internal/model"
	"telegram-roulette/internal/repository"
)

// StakeService records user stakes against the open round.
type StakeService struct {
	pool *pgxpool.Pool
}

// NewStakeService creates a new StakeService instance.
func NewStakeService(pool *pgxpool.Pool) *StakeService {
	return &StakeService{pool: pool}
}

// PlaceStake validates and records a stake. The balance debit, the stake
// upsert and the pool increment commit as one transaction or not at all.
//
// Preconditions are checked in order, each with its own error kind:
// positive amount (ErrInvalidAmount), round exists and is open
// (repository.ErrRoundNotFound / ErrRoundClosed), user can cover the
// amount (ErrInsufficientBalance). A repeat stake by the same user in
// the same round tops up the existing one.
func (s *StakeService) PlaceStake(ctx context.Context, userID, roundID, amount int64) (*model.Stake, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var stake *model.Stake
	err := repository.WithTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		rounds := repository.NewRoundRepository(tx)
		users := repository.NewUserRepository(tx)
		stakes := repository.NewStakeRepository(tx)
		ledger := repository.NewTransactionRepository(tx)

		// Lock the round row first. Settlement locks in the same order
		// (round, then winner's user row), so the two paths never hold
		// each other's locks in a cycle.
		round, err := rounds.GetByIDForUpdate(ctx, roundID)
		if err != nil {
			return err
		}
		if !round.Open() {
			return ErrRoundClosed
		}

		// Conditional decrement: matches no row when the user is missing
		// or the balance is short, so the check and the debit are one
		// atomic statement.
		debited, err := users.Debit(ctx, userID, amount)
		if err != nil {
			return err
		}
		if !debited {
			return ErrInsufficientBalance
		}

		stake, err = stakes.Upsert(ctx, roundID, userID, amount)
		if err != nil {
			return err
		}

		// The round lock taken above already excludes a concurrent
		// settlement; the open-round guard on the increment stays as a
		// second line of defense.
		added, err := rounds.AddToPool(ctx, roundID, amount)
		if err != nil {
			return err
		}
		if !added {
			return ErrRoundClosed
		}

		desc := fmt.Sprintf("stake in round %d", roundID)
		if _, err := ledger.Create(ctx, userID, -amount, model.TxTypeStake, &desc); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int64("user_id", userID).
		Int64("round_id", roundID).
		Int64("amount", amount).
		Int64("stake_total", stake.Amount).
		Msg("Stake placed")

	return stake, nil
}
