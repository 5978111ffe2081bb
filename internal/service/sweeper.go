package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DueSettler is the entry point the sweeper drives on every tick.
type DueSettler interface {
	CheckAndSettleDueRounds(ctx context.Context) (int, error)
}

// Sweeper periodically settles due rounds. It keeps no state of its own:
// serialization happens at the store layer, so any number of instances
// may sweep concurrently.
type Sweeper struct {
	settler  DueSettler
	interval time.Duration
}

// NewSweeper creates a new Sweeper instance.
func NewSweeper(settler DueSettler, interval time.Duration) *Sweeper {
	return &Sweeper{settler: settler, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Round sweeper started")

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Round sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	settled, err := s.settler.CheckAndSettleDueRounds(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Sweep failed")
		return
	}
	if settled > 0 {
		log.Info().Int("settled", settled).Msg("Sweep settled due rounds")
	}
}
