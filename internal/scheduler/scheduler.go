package scheduler

import (
	"context"
	"time"

	"yugi/internal/metrics"

	"github.com/rs/zerolog"
)

// BookingSweeper is the slice of the booking service the scheduler
// drives: periodic fund releases and session completion.
type BookingSweeper interface {
	ReleaseDueFunds(ctx context.Context, now time.Time) (int, error)
	CompleteFinishedSessions(ctx context.Context, now time.Time) (int, error)
}

// Scheduler runs the periodic booking sweeps. Each tick is
// independent; a failed sweep is retried on the next tick.
type Scheduler struct {
	sweeper  BookingSweeper
	interval time.Duration
	logger   *zerolog.Logger
}

func New(sweeper BookingSweeper, interval time.Duration, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled. The first sweep fires
// immediately so a restart does not delay overdue releases.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	defer s.logger.Info().Msg("scheduler stopped")

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass of both sweeps.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := time.Now()

	released, err := s.sweeper.ReleaseDueFunds(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("release due funds sweep failed")
	} else if released > 0 {
		for i := 0; i < released; i++ {
			metrics.IncFundsReleased()
		}
		s.logger.Info().Int("released", released).Msg("funds released")
	}

	completed, err := s.sweeper.CompleteFinishedSessions(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("complete sessions sweep failed")
	} else if completed > 0 {
		s.logger.Info().Int("completed", completed).Msg("sessions completed")
	}
}
