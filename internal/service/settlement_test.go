package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-roulette/internal/model"
)

func stakesOf(amounts ...int64) []*model.Stake {
	stakes := make([]*model.Stake, 0, len(amounts))
	for i, amount := range amounts {
		stakes = append(stakes, &model.Stake{
			ID:     int64(i + 1),
			UserID: int64(i + 1),
			Amount: amount,
		})
	}
	return stakes
}

// TestPickWinner checks the cumulative interval selection: a draw r in
// [0, totalPool) lands in the stake whose interval contains it.
func TestPickWinner(t *testing.T) {
	tests := []struct {
		name       string
		amounts    []int64
		draw       int64
		wantUserID int64
	}{
		// Two stakes of 30 and 70: intervals [0,30) and [30,100)
		{"draw 0 hits first stake", []int64{30, 70}, 0, 1},
		{"draw 25 hits first stake", []int64{30, 70}, 25, 1},
		{"draw 29 is last of first interval", []int64{30, 70}, 29, 1},
		{"draw 30 starts second interval", []int64{30, 70}, 30, 2},
		{"draw 99 hits second stake", []int64{30, 70}, 99, 2},

		{"single stake always wins", []int64{50}, 49, 1},
		{"three stakes middle interval", []int64{10, 10, 10}, 15, 2},
		{"three stakes last interval", []int64{10, 10, 10}, 29, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner := pickWinner(stakesOf(tt.amounts...), tt.draw)
			assert.Equal(t, tt.wantUserID, winner.UserID)
		})
	}
}

// TestPickWinnerFallback verifies the defined tie-break: a draw at or
// beyond the cumulative total selects the last stake.
func TestPickWinnerFallback(t *testing.T) {
	stakes := stakesOf(30, 70)

	winner := pickWinner(stakes, 100)
	require.NotNil(t, winner)
	assert.Equal(t, int64(2), winner.UserID)

	winner = pickWinner(stakes, 1_000_000)
	assert.Equal(t, int64(2), winner.UserID)
}

// TestCommission checks floor(pool * 5%) and pool conservation.
func TestCommission(t *testing.T) {
	tests := []struct {
		pool           int64
		wantCommission int64
	}{
		{100, 5},
		{99, 4},  // floor(4.95)
		{19, 0},  // floor(0.95)
		{20, 1},
		{1, 0},
		{0, 0},
		{12345, 617}, // floor(617.25)
	}

	for _, tt := range tests {
		commission := commissionFor(tt.pool, 500)
		assert.Equal(t, tt.wantCommission, commission, "pool %d", tt.pool)

		prize := tt.pool - commission
		assert.Equal(t, tt.pool, commission+prize, "conservation for pool %d", tt.pool)
	}
}

// TestSettlementScenario replays the reference scenario: stakes of 30
// and 70, draws 25 and 99.
func TestSettlementScenario(t *testing.T) {
	stakes := stakesOf(30, 70)

	var totalPool int64
	for _, s := range stakes {
		totalPool += s.Amount
	}
	require.Equal(t, int64(100), totalPool)

	assert.Equal(t, int64(1), pickWinner(stakes, 25).UserID)
	assert.Equal(t, int64(2), pickWinner(stakes, 99).UserID)

	commission := commissionFor(totalPool, 500)
	assert.Equal(t, int64(5), commission)
	assert.Equal(t, int64(95), totalPool-commission)
}

func TestSummaryOf(t *testing.T) {
	winnerID := int64(7)
	round := &model.Round{
		ID:         3,
		Status:     model.RoundStatusFinished,
		TotalPool:  200,
		Commission: 10,
		WinnerID:   &winnerID,
	}

	summary := summaryOf(round)
	assert.Equal(t, int64(3), summary.RoundID)
	require.NotNil(t, summary.WinnerID)
	assert.Equal(t, winnerID, *summary.WinnerID)
	assert.Equal(t, int64(200), summary.TotalPool)
	assert.Equal(t, int64(10), summary.Commission)
	assert.Equal(t, int64(190), summary.Prize)
}
