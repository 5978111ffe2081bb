package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"telegram-roulette/internal/model"
)

// StakeWithUser is a stake joined with the staker's public profile,
// used by read projections.
type StakeWithUser struct {
	model.Stake
	TelegramID int64
	Username   *string
	FirstName  *string
	LastName   *string
	PhotoURL   *string
}

// StakeRepository handles stake data persistence.
type StakeRepository struct {
	db DB
}

// NewStakeRepository creates a new StakeRepository instance.
func NewStakeRepository(db DB) *StakeRepository {
	return &StakeRepository{db: db}
}

func scanStake(row pgx.Row) (*model.Stake, error) {
	var stake model.Stake
	err := row.Scan(
		&stake.ID,
		&stake.RoundID,
		&stake.UserID,
		&stake.Amount,
		&stake.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &stake, nil
}

// Upsert records a stake. A repeat stake by the same user in the same
// round increments the existing row instead of inserting a second one;
// the (round_id, user_id) unique constraint makes two concurrent first
// stakes converge on the same row.
func (r *StakeRepository) Upsert(ctx context.Context, roundID, userID, amount int64) (*model.Stake, error) {
	const query = `
		INSERT INTO stakes (round_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (round_id, user_id)
		DO UPDATE SET amount = stakes.amount + EXCLUDED.amount
		RETURNING id, round_id, user_id, amount, created_at
	`

	stake, err := scanStake(r.db.QueryRow(ctx, query, roundID, userID, amount))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert stake: %w", err)
	}
	return stake, nil
}

// ListForRound returns all stakes of a round in insertion (primary key)
// order. The settlement draw iterates this order, so it must be stable.
func (r *StakeRepository) ListForRound(ctx context.Context, roundID int64) ([]*model.Stake, error) {
	const query = `
		SELECT id, round_id, user_id, amount, created_at
		FROM stakes
		WHERE round_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stakes: %w", err)
	}
	defer rows.Close()

	var stakes []*model.Stake
	for rows.Next() {
		stake, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stake: %w", err)
		}
		stakes = append(stakes, stake)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stakes: %w", err)
	}

	return stakes, nil
}

// ListForRoundWithUsers returns a round's stakes joined with staker
// profiles, in insertion order.
func (r *StakeRepository) ListForRoundWithUsers(ctx context.Context, roundID int64) ([]*StakeWithUser, error) {
	const query = `
		SELECT s.id, s.round_id, s.user_id, s.amount, s.created_at,
			u.telegram_id, u.username, u.first_name, u.last_name, u.photo_url
		FROM stakes s
		JOIN users u ON u.id = s.user_id
		WHERE s.round_id = $1
		ORDER BY s.id
	`

	rows, err := r.db.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stakes: %w", err)
	}
	defer rows.Close()

	var stakes []*StakeWithUser
	for rows.Next() {
		var s StakeWithUser
		err := rows.Scan(
			&s.ID,
			&s.RoundID,
			&s.UserID,
			&s.Amount,
			&s.CreatedAt,
			&s.TelegramID,
			&s.Username,
			&s.FirstName,
			&s.LastName,
			&s.PhotoURL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stake: %w", err)
		}
		stakes = append(stakes, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stakes: %w", err)
	}

	return stakes, nil
}
