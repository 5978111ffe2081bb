// Package model defines the data models for the roulette backend.
package model

import "time"

// Round status values. A round is open for stakes while its status is
// waiting or active; exactly one non-finished round exists at any time.
const (
	RoundStatusWaiting  = "waiting"
	RoundStatusActive   = "active"
	RoundStatusFinished = "finished"
)

// User represents a Telegram Mini App user account.
type User struct {
	ID         int64     `db:"id"`
	TelegramID int64     `db:"telegram_id"`
	Username   *string   `db:"username"`
	FirstName  *string   `db:"first_name"`
	LastName   *string   `db:"last_name"`
	PhotoURL   *string   `db:"photo_url"`
	Balance    int64     `db:"balance"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Round represents one cycle of the pooled-betting game.
type Round struct {
	ID         int64      `db:"id"`
	Status     string     `db:"status"`
	TotalPool  int64      `db:"total_pool"`
	Commission int64      `db:"commission"`
	WinnerID   *int64     `db:"winner_id"`
	CreatedAt  time.Time  `db:"created_at"`
	Deadline   time.Time  `db:"deadline"`
	FinishedAt *time.Time `db:"finished_at"`
}

// Open reports whether the round still accepts stakes.
func (r *Round) Open() bool {
	return r.Status != RoundStatusFinished
}

// Stake is a user's contribution to a round's pool. At most one stake
// exists per (user, round); repeat bets increment the amount.
type Stake struct {
	ID        int64     `db:"id"`
	RoundID   int64     `db:"round_id"`
	UserID    int64     `db:"user_id"`
	Amount    int64     `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// Transaction is an immutable ledger entry recording a balance change.
type Transaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeInitial = "initial" // Initial balance on account creation
	TxTypeStake   = "stake"   // Stake debit (negative amount)
	TxTypePrize   = "prize"   // Settlement credit to the round winner
)
