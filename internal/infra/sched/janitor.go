package sched

import (
	"context"
	"time"

	"appforge/internal/infra/progress"

	"github.com/rs/zerolog"
)

// Janitor periodically collects tracker entries for jobs that reached a
// terminal state long enough ago that no observer could plausibly reconnect.
// The durable Job record is untouched; only the in-memory cache is swept.
type Janitor struct {
	interval time.Duration
	maxAge   time.Duration
	tracker  *progress.Tracker
	log      *zerolog.Logger
}

func NewJanitor(interval, maxAge time.Duration, tracker *progress.Tracker, logger *zerolog.Logger) *Janitor {
	l := logger.With().Str("component", "Janitor").Logger()
	return &Janitor{interval: interval, maxAge: maxAge, tracker: tracker, log: &l}
}

func (j *Janitor) Run(ctx context.Context) error {
	j.log.Info().Dur("interval", j.interval).Msg("starting tracker janitor")
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("stopping tracker janitor")
			return ctx.Err()
		case <-ticker.C:
			if n := j.tracker.SweepTerminal(j.maxAge); n > 0 {
				j.log.Info().Int("count", n).Msg("swept terminal stage entries")
			}
		}
	}
}
