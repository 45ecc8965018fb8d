package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RecoveryConfig is the sync configuration applied on startup and whenever
// it changes.
type RecoveryConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Recover brings the timer in line with cfg: it is rescheduled when sync is
// enabled and removed otherwise. The returned plan is nil when sync is
// disabled.
func (s *SyncScheduler) Recover(ctx context.Context, cfg RecoveryConfig) (*Plan, error) {
	log.Info().
		Bool("enabled", cfg.Enabled).
		Dur("interval", cfg.Interval).
		Msg("Recovering sync schedule")

	if !cfg.Enabled {
		if err := s.Unschedule(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}

	plan, err := s.Schedule(ctx, cfg.Interval)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
