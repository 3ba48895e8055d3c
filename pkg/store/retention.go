package store

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// DefaultRetentionAge keeps sessions with activity in the last 30 days.
	DefaultRetentionAge = 30 * 24 * time.Hour

	// DefaultRetentionSchedule runs the sweep nightly.
	DefaultRetentionSchedule = "0 3 * * *"
)

// Pruner deletes sessions idle past a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically prunes idle sessions from the durable store.
// Storage-policy housekeeping, separate from the orchestration core.
type Sweeper struct {
	pruner   Pruner
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
	logger   zerolog.Logger
}

// NewSweeper creates a retention sweeper.
func NewSweeper(pruner Pruner, maxAge time.Duration, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if pruner == nil {
		return nil, fmt.Errorf("pruner is required")
	}
	if maxAge <= 0 {
		maxAge = DefaultRetentionAge
	}
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}

	return &Sweeper{
		pruner:   pruner,
		maxAge:   maxAge,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}, nil
}

// Start schedules the sweep and runs it once immediately.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()

	go s.sweep()

	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("max_age", s.maxAge).
		Msg("Retention sweeper started")

	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Retention sweeper stopped")
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.maxAge)

	removed, err := s.pruner.Prune(context.Background(), cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Retention sweep failed")
		return
	}

	if removed > 0 {
		s.logger.Info().
			Int64("sessions", removed).
			Time("cutoff", cutoff).
			Msg("Pruned idle sessions")
	}
}
