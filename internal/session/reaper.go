package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultReapSchedule is how often the reaper runs when none is configured.
const DefaultReapSchedule = "@every 15s"

// Reaper periodically checks process liveness and evicts sessions that
// have been terminated for longer than the retention period.
type Reaper struct {
	cron    *cron.Cron
	manager *Manager
	log     zerolog.Logger
}

// NewReaper schedules m.Reap on the given cron spec.
func NewReaper(m *Manager, schedule string, log zerolog.Logger) (*Reaper, error) {
	if schedule == "" {
		schedule = DefaultReapSchedule
	}

	r := &Reaper{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		manager: m,
		log:     log.With().Str("component", "reaper").Logger(),
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reaper) run() {
	if evicted := r.manager.Reap(time.Now()); evicted > 0 {
		r.log.Debug().Int("evicted", evicted).Msg("reaped terminated sessions")
	}
}

// Start begins running the schedule in the background.
func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running reap to finish or ctx to end.
func (r *Reaper) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
