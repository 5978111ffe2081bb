package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"telegram-roulette/internal/model"
	"telegram-roulette/internal/repository"
	"telegram-roulette/internal/telegram"
)

// AccountService handles user account operations.
type AccountService struct {
	pool           *pgxpool.Pool
	initialBalance int64
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(pool *pgxpool.Pool, initialBalance int64) *AccountService {
	return &AccountService{pool: pool, initialBalance: initialBalance}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EnsureUser upserts a user from a verified Telegram profile. New users
// start with the configured initial balance and get an initial ledger
// entry; returning users get their profile fields refreshed.
func (s *AccountService) EnsureUser(ctx context.Context, profile *telegram.User) (*model.User, bool, error) {
	var user *model.User
	var created bool
	err := repository.WithTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		users := repository.NewUserRepository(tx)
		ledger := repository.NewTransactionRepository(tx)

		var err error
		user, created, err = users.Upsert(ctx,
			profile.ID,
			optional(profile.Username),
			optional(profile.FirstName),
			optional(profile.LastName),
			optional(profile.PhotoURL),
			s.initialBalance,
		)
		if err != nil {
			return err
		}

		if created {
			desc := "initial balance"
			if _, err := ledger.Create(ctx, user.ID, s.initialBalance, model.TxTypeInitial, &desc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	if created {
		log.Info().
			Int64("user_id", user.ID).
			Int64("telegram_id", user.TelegramID).
			Msg("New user registered")
	}

	return user, created, nil
}

// GetByTelegramID retrieves a user by their Telegram ID.
func (s *AccountService) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return repository.NewUserRepository(s.pool).GetByTelegramID(ctx, telegramID)
}

// TopUsers retrieves the leaderboard by balance.
func (s *AccountService) TopUsers(ctx context.Context, limit int) ([]*model.User, error) {
	return repository.NewUserRepository(s.pool).GetTopUsers(ctx, limit)
}

// Transactions retrieves a user's ledger entries, newest first.
func (s *AccountService) Transactions(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	return repository.NewTransactionRepository(s.pool).GetByUserID(ctx, userID, limit)
}
