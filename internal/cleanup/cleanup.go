package cleanup

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const kvKeyLastRun = "last_cleanup_run"

type store interface {
	PurgeRequestsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	GetKVTime(ctx context.Context, key string) (time.Time, error)
	SetKVTime(ctx context.Context, key string, t time.Time) error
}

// Task purges terminal requests past the retention window, on a cron
// schedule and on demand. User records are never purged.
type Task struct {
	store         store
	retentionDays int
	schedule      string

	cron   *cron.Cron
	logger *log.Entry
}

func NewTask(s store, retentionDays int, schedule string) *Task {
	return &Task{
		store:         s,
		retentionDays: retentionDays,
		schedule:      schedule,
		logger:        log.WithField("object", "CleanupTask"),
	}
}

func (t *Task) Start(ctx context.Context) error {
	t.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := t.cron.AddFunc(t.schedule, func() {
		if removed, err := t.Run(context.Background()); err != nil {
			t.logger.WithField("error", err.Error()).Error("scheduled cleanup failed")
		} else if removed > 0 {
			t.logger.WithField("removed", removed).Info("scheduled cleanup done")
		}
	}); err != nil {
		return errors.WithMessagef(err, "cant register cleanup schedule %q", t.schedule)
	}
	t.cron.Start()
	return nil
}

func (t *Task) Stop(ctx context.Context) error {
	if t.cron == nil {
		return nil
	}
	stopped := t.cron.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped.Done():
		return nil
	}
}

// Run purges immediately and reports how many rows were removed.
func (t *Task) Run(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -t.retentionDays)
	removed, err := t.store.PurgeRequestsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, errors.WithMessage(err, "cant purge requests")
	}
	if err := t.store.SetKVTime(ctx, kvKeyLastRun, time.Now()); err != nil {
		t.logger.WithField("error", err.Error()).Warn("cant record cleanup run")
	}
	return removed, nil
}

// LastRun reports when cleanup last completed, zero time if it never ran.
func (t *Task) LastRun(ctx context.Context) (time.Time, error) {
	return t.store.GetKVTime(ctx, kvKeyLastRun)
}
