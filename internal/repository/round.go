package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"telegram-roulette/internal/model"
)

const roundColumns = `id, status, total_pool, commission, winner_id, created_at, deadline, finished_at`

// RoundRepository handles round data persistence.
type RoundRepository struct {
	db DB
}

// NewRoundRepository creates a new RoundRepository instance.
func NewRoundRepository(db DB) *RoundRepository {
	return &RoundRepository{db: db}
}

func scanRound(row pgx.Row) (*model.Round, error) {
	var round model.Round
	err := row.Scan(
		&round.ID,
		&round.Status,
		&round.TotalPool,
		&round.Commission,
		&round.WinnerID,
		&round.CreatedAt,
		&round.Deadline,
		&round.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &round, nil
}

// Create inserts a new waiting round with an empty pool.
func (r *RoundRepository) Create(ctx context.Context, deadline time.Time) (*model.Round, error) {
	const query = `
		INSERT INTO rounds (status, total_pool, commission, created_at, deadline)
		VALUES ('waiting', 0, 0, NOW(), $1)
		RETURNING ` + roundColumns

	round, err := scanRound(r.db.QueryRow(ctx, query, deadline))
	if err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}
	return round, nil
}

// CreateIfNoneOpen inserts a waiting round unless a non-finished round
// already exists. The partial unique index on open rounds absorbs the
// race between concurrent bootstrappers; returns nil when no row was
// inserted.
func (r *RoundRepository) CreateIfNoneOpen(ctx context.Context, deadline time.Time) (*model.Round, error) {
	const query = `
		INSERT INTO rounds (status, total_pool, commission, created_at, deadline)
		VALUES ('waiting', 0, 0, NOW(), $1)
		ON CONFLICT DO NOTHING
		RETURNING ` + roundColumns

	round, err := scanRound(r.db.QueryRow(ctx, query, deadline))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create round: %w", err)
	}
	return round, nil
}

// GetByID retrieves a round by ID.
// Returns ErrRoundNotFound if the round does not exist.
func (r *RoundRepository) GetByID(ctx context.Context, id int64) (*model.Round, error) {
	round, err := scanRound(r.db.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

// GetByIDForUpdate retrieves a round and takes its row lock. Must be
// called within a transaction; concurrent settlers queue up here and
// re-check the status once they acquire the lock.
func (r *RoundRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.Round, error) {
	round, err := scanRound(r.db.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to lock round: %w", err)
	}
	return round, nil
}

// FindOpen retrieves the single round that still accepts stakes.
// Returns ErrRoundNotFound when no open round exists.
func (r *RoundRepository) FindOpen(ctx context.Context) (*model.Round, error) {
	const query = `
		SELECT ` + roundColumns + `
		FROM rounds
		WHERE status <> 'finished'
		ORDER BY created_at DESC
		LIMIT 1
	`

	round, err := scanRound(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to find open round: %w", err)
	}
	return round, nil
}

// FindDue returns the IDs of non-finished rounds whose deadline has
// passed. The round clock predicate (now >= deadline, status != finished)
// lives in this query.
func (r *RoundRepository) FindDue(ctx context.Context, now time.Time) ([]int64, error) {
	const query = `
		SELECT id FROM rounds
		WHERE status <> 'finished' AND deadline <= $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find due rounds: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan round id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due rounds: %w", err)
	}

	return ids, nil
}

// Finish transitions a round to finished. The update is conditional on
// the round not already being finished, which makes it the serialization
// point for concurrent settlement attempts: exactly one caller gets
// finished=true, every other observes false.
func (r *RoundRepository) Finish(ctx context.Context, id int64, winnerID *int64, totalPool, commission int64, finishedAt time.Time) (bool, error) {
	const query = `
		UPDATE rounds
		SET status = 'finished',
			winner_id = $2,
			total_pool = $3,
			commission = $4,
			finished_at = $5
		WHERE id = $1 AND status <> 'finished'
	`

	result, err := r.db.Exec(ctx, query, id, winnerID, totalPool, commission, finishedAt)
	if err != nil {
		return false, fmt.Errorf("failed to finish round: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// AddToPool increments the round's pool total. The update is guarded on
// the round still being open, so a stake racing a settlement matches no
// row and the caller aborts the whole stake transaction.
func (r *RoundRepository) AddToPool(ctx context.Context, id int64, amount int64) (bool, error) {
	const query = `
		UPDATE rounds
		SET total_pool = total_pool + $2
		WHERE id = $1 AND status <> 'finished'
	`

	result, err := r.db.Exec(ctx, query, id, amount)
	if err != nil {
		return false, fmt.Errorf("failed to add to pool: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// History retrieves finished rounds, newest first.
func (r *RoundRepository) History(ctx context.Context, limit int) ([]*model.Round, error) {
	const query = `
		SELECT ` + roundColumns + `
		FROM rounds
		WHERE status = 'finished'
		ORDER BY finished_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get round history: %w", err)
	}
	defer rows.Close()

	var rounds []*model.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, round)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rounds: %w", err)
	}

	return rounds, nil
}
