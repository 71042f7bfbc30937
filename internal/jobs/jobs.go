// Package jobs runs the periodic maintenance tasks: plate snapshots,
// notification cleanup, search reindexing and revoked token cleanup.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"plate/api/internal/logging"
	"plate/api/internal/model"
	"plate/api/internal/snapshot"
)

var log = logging.Component("jobs")

const (
	JobSnapshots     = "snapshots"
	JobNotifications = "notification-purge"
	JobReindex       = "search-reindex"
	JobRevokedTokens = "revoked-token-purge"
)

type PlateSource interface {
	ListAllPlateIDs(ctx context.Context) ([]string, error)
	LoadPlate(ctx context.Context, plateID string) (*model.Plate, error)
}

type Snapshotter interface {
	Put(ctx context.Context, plate model.Plate) (snapshot.Info, error)
}

type Maintenance interface {
	PurgeNotifications(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeRevokedAccessTokens(ctx context.Context) (int64, error)
}

type Reindexer interface {
	ReindexAllFromPG(ctx context.Context) error
}

// Observer receives the outcome of every run. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveJob(job string, err error)
}

// Config holds cron expressions; an empty expression disables that job.
type Config struct {
	SnapshotCron       string
	NotificationCron   string
	ReindexCron        string
	RevokedTokenCron   string
	NotificationMaxAge time.Duration
}

type Deps struct {
	Plates      PlateSource
	Snapshots   Snapshotter
	Maintenance Maintenance
	Search      Reindexer
	Observer    Observer
}

type Runner struct {
	cfg       Config
	deps      Deps
	now       func() time.Time
	scheduler gocron.Scheduler

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if cfg.NotificationMaxAge <= 0 {
		cfg.NotificationMaxAge = 30 * 24 * time.Hour
	}
	return &Runner{cfg: cfg, deps: deps, now: time.Now, scheduler: scheduler}, nil
}

// Start registers the configured jobs and starts the scheduler. Jobs whose
// dependency is missing are skipped.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	schedule := []struct {
		name    string
		cron    string
		enabled bool
		run     func(context.Context) error
	}{
		{JobSnapshots, r.cfg.SnapshotCron, r.deps.Plates != nil && r.deps.Snapshots != nil, r.RunSnapshots},
		{JobNotifications, r.cfg.NotificationCron, r.deps.Maintenance != nil, r.RunNotificationPurge},
		{JobReindex, r.cfg.ReindexCron, r.deps.Search != nil, r.RunReindex},
		{JobRevokedTokens, r.cfg.RevokedTokenCron, r.deps.Maintenance != nil, r.RunRevokedTokenPurge},
	}

	registered := 0
	for _, job := range schedule {
		if job.cron == "" || !job.enabled {
			continue
		}
		name, run := job.name, job.run
		_, err := r.scheduler.NewJob(
			gocron.CronJob(job.cron, false),
			gocron.NewTask(func() { r.execute(name, run) }),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("register job %s: %w", name, err)
		}
		log.WithField("job", name).WithField("cron", job.cron).Info("registered job")
		registered++
	}

	r.scheduler.Start()
	log.WithField("jobs", registered).Info("scheduler started")
	return nil
}

func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	return r.scheduler.Shutdown()
}

func (r *Runner) execute(name string, run func(context.Context) error) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	err := run(ctx)
	entry := log.WithField("job", name).WithField("elapsed", time.Since(started).String())
	if err != nil {
		entry.WithError(err).Error("job failed")
	} else {
		entry.Info("job finished")
	}
	if r.deps.Observer != nil {
		r.deps.Observer.ObserveJob(name, err)
	}
}

// RunSnapshots stores a snapshot of every non-archived plate. A failing
// plate does not stop the rest; the first error is returned.
func (r *Runner) RunSnapshots(ctx context.Context) error {
	ids, err := r.deps.Plates.ListAllPlateIDs(ctx)
	if err != nil {
		return fmt.Errorf("list plates: %w", err)
	}
	var firstErr error
	taken := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		plate, err := r.deps.Plates.LoadPlate(ctx, id)
		if err == nil {
			if plate.Archived {
				continue
			}
			_, err = r.deps.Snapshots.Put(ctx, *plate)
		}
		if err != nil {
			log.WithField("plate_id", id).WithError(err).Warn("snapshot failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("snapshot plate %s: %w", id, err)
			}
			continue
		}
		taken++
	}
	log.WithField("count", taken).Debug("snapshots taken")
	return firstErr
}

func (r *Runner) RunNotificationPurge(ctx context.Context) error {
	removed, err := r.deps.Maintenance.PurgeNotifications(ctx, r.now().Add(-r.cfg.NotificationMaxAge))
	if err != nil {
		return err
	}
	log.WithField("removed", removed).Debug("purged notifications")
	return nil
}

func (r *Runner) RunReindex(ctx context.Context) error {
	return r.deps.Search.ReindexAllFromPG(ctx)
}

func (r *Runner) RunRevokedTokenPurge(ctx context.Context) error {
	removed, err := r.deps.Maintenance.PurgeRevokedAccessTokens(ctx)
	if err != nil {
		return err
	}
	log.WithField("removed", removed).Debug("purged revoked tokens")
	return nil
}
