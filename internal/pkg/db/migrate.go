package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Migrate applies the database schema. Statements are idempotent so the
// function is safe to run on every startup and in test setup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	// Migration 1: users table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			telegram_id BIGINT NOT NULL UNIQUE,
			username VARCHAR(255),
			first_name VARCHAR(255),
			last_name VARCHAR(255),
			photo_url TEXT,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_balance ON users(balance DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: users table created")

	// Migration 2: rounds table. The partial unique index guarantees at
	// most one non-finished round exists; the settlement transaction
	// finishes the old round before inserting its successor.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rounds (
			id BIGSERIAL PRIMARY KEY,
			status VARCHAR(20) NOT NULL DEFAULT 'waiting'
				CHECK (status IN ('waiting', 'active', 'finished')),
			total_pool BIGINT NOT NULL DEFAULT 0 CHECK (total_pool >= 0),
			commission BIGINT NOT NULL DEFAULT 0 CHECK (commission >= 0),
			winner_id BIGINT REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deadline TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_single_open
			ON rounds ((1)) WHERE status <> 'finished';
		CREATE INDEX IF NOT EXISTS idx_rounds_finished_at
			ON rounds(finished_at DESC) WHERE status = 'finished';
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: rounds table created")

	// Migration 3: stakes table, one row per (round, user); repeat bets
	// increment the existing row.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS stakes (
			id BIGSERIAL PRIMARY KEY,
			round_id BIGINT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL CHECK (amount > 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (round_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_stakes_round ON stakes(round_id, id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: stakes table created")

	// Migration 4: transactions ledger
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_time
			ON transactions(user_id, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: transactions table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
