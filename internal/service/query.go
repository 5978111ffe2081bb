package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-roulette/internal/model"
	"telegram-roulette/internal/repository"
)

// UserView is the public projection of a staker.
type UserView struct {
	ID        int64   `json:"id"`
	Username  *string `json:"username"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	PhotoURL  *string `json:"photoUrl"`
}

// StakeView is a stake with its derived win percentage.
type StakeView struct {
	ID            int64     `json:"id"`
	Amount        int64     `json:"amount"`
	WinPercentage float64   `json:"winPercentage"`
	CreatedAt     time.Time `json:"createdAt"`
	User          UserView  `json:"user"`
}

// RoundView is the read projection of a round for display and polling.
// Win percentages and time remaining are computed here, never persisted.
type RoundView struct {
	ID             int64       `json:"id"`
	Status         string      `json:"status"`
	TotalPool      int64       `json:"totalPool"`
	Commission     int64       `json:"commission"`
	WinnerID       *int64      `json:"winnerId"`
	Winner         *UserView   `json:"winner,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Deadline       time.Time   `json:"deadline"`
	FinishedAt     *time.Time  `json:"finishedAt,omitempty"`
	TimeUntilStart int64       `json:"timeUntilStart"`
	Stakes         []StakeView `json:"stakes"`
}

// RoundQueryService serves read-only round projections.
type RoundQueryService struct {
	pool *pgxpool.Pool
}

// NewRoundQueryService creates a new RoundQueryService instance.
func NewRoundQueryService(pool *pgxpool.Pool) *RoundQueryService {
	return &RoundQueryService{pool: pool}
}

func userViewOf(s *repository.StakeWithUser) UserView {
	return UserView{
		ID:        s.UserID,
		Username:  s.Username,
		FirstName: s.FirstName,
		LastName:  s.LastName,
		PhotoURL:  s.PhotoURL,
	}
}

// buildRoundView assembles the projection from a round and its stakes.
// The pool used for percentages is the stake sum, the source of truth.
func buildRoundView(round *model.Round, stakes []*repository.StakeWithUser, now time.Time) *RoundView {
	var totalPool int64
	for _, s := range stakes {
		totalPool += s.Amount
	}

	view := &RoundView{
		ID:         round.ID,
		Status:     round.Status,
		TotalPool:  totalPool,
		Commission: round.Commission,
		WinnerID:   round.WinnerID,
		CreatedAt:  round.CreatedAt,
		Deadline:   round.Deadline,
		FinishedAt: round.FinishedAt,
		Stakes:     make([]StakeView, 0, len(stakes)),
	}

	if remaining := round.Deadline.Sub(now); remaining > 0 {
		view.TimeUntilStart = int64(remaining.Seconds())
	}

	for _, s := range stakes {
		sv := StakeView{
			ID:        s.ID,
			Amount:    s.Amount,
			CreatedAt: s.CreatedAt,
			User:      userViewOf(s),
		}
		if totalPool > 0 {
			sv.WinPercentage = float64(s.Amount) / float64(totalPool) * 100
		}
		view.Stakes = append(view.Stakes, sv)

		// The winner always placed a stake in the round, so the joined
		// profile is already on hand.
		if round.WinnerID != nil && s.UserID == *round.WinnerID {
			winner := userViewOf(s)
			view.Winner = &winner
		}
	}

	return view
}

// CurrentRound returns the view of the single open round, or
// ErrNoOpenRound if none exists.
func (s *RoundQueryService) CurrentRound(ctx context.Context) (*RoundView, error) {
	rounds := repository.NewRoundRepository(s.pool)
	stakes := repository.NewStakeRepository(s.pool)

	round, err := rounds.FindOpen(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrRoundNotFound) {
			return nil, ErrNoOpenRound
		}
		return nil, err
	}

	roundStakes, err := stakes.ListForRoundWithUsers(ctx, round.ID)
	if err != nil {
		return nil, err
	}

	return buildRoundView(round, roundStakes, time.Now()), nil
}

// History returns finished rounds, newest first, with winner and stakes.
func (s *RoundQueryService) History(ctx context.Context, limit int) ([]*RoundView, error) {
	rounds := repository.NewRoundRepository(s.pool)
	stakes := repository.NewStakeRepository(s.pool)

	finished, err := rounds.History(ctx, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	views := make([]*RoundView, 0, len(finished))
	for _, round := range finished {
		roundStakes, err := stakes.ListForRoundWithUsers(ctx, round.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, buildRoundView(round, roundStakes, now))
	}

	return views, nil
}
