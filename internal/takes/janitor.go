package takes

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor prunes old finished takes on a cron schedule.
type Janitor struct {
	cron      *cron.Cron
	store     *Store
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewJanitor schedules pruning of takes older than retention. schedule is a
// standard cron expression or descriptor such as "@daily".
func NewJanitor(store *Store, schedule string, retention time.Duration, log zerolog.Logger) (*Janitor, error) {
	j := &Janitor{
		cron:      cron.New(),
		store:     store,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.RunOnce(context.Background()); err != nil {
			j.log.Warn().Err(err).Msg("take pruning failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start starts the scheduler
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop stops the scheduler and waits for a running prune to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// RunOnce prunes immediately.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	n, err := j.store.Prune(ctx, j.now().Add(-j.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.log.Info().Int("takes", n).Dur("retention", j.retention).Msg("pruned old takes")
	}
	return n, nil
}
