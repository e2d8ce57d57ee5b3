package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	analyticsdomain "github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/ingest/syncer"
	"github.com/smallbiznis/revlens/internal/lock"
	obsmetrics "github.com/smallbiznis/revlens/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Analytics analyticsdomain.Service
	Syncer    *syncer.Syncer `optional:"true"`
	Locker    lock.Locker    `optional:"true"`
	Config    Config         `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	analytics analyticsdomain.Service
	syncer    *syncer.Syncer
	locker    lock.Locker
	metrics   *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Analytics == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       cfg,
		clock:     p.Clock,
		analytics: p.Analytics,
		syncer:    p.Syncer,
		locker:    p.Locker,
		metrics: obsmetrics.SchedulerWithConfig(obsmetrics.Config{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Environment,
		}),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := s.withJobLock(ctx, name, fn)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	locked := errors.Is(err, errJobLocked)
	if locked {
		log.Debug("job held by another replica")
		err = nil
	}
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		if !locked {
			s.metrics.MarkJobSuccess(name, s.clock.Now())
		}
		return nil
	}

	// deadline is a soft timeout; the next tick retries
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobMRRSnapshot, s.isJobEnabled(JobMRRSnapshot), func(ctx context.Context) error {
			return s.runJob(ctx, JobMRRSnapshot, s.cfg.JobTimeout, s.MRRSnapshotJob)
		}},
		{JobSync, s.isJobEnabled(JobSync) && s.syncer.Enabled(), func(ctx context.Context) error {
			return s.runJob(ctx, JobSync, s.cfg.SyncTimeout, s.SyncJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// MRRSnapshotJob stores today's MRR for every company.
func (s *Scheduler) MRRSnapshotJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobMRRSnapshot)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	written, err := s.analytics.RecordMRRSnapshots(ctx)
	run.AddProcessed(written)
	s.metrics.AddItemsProcessed(JobMRRSnapshot, obsmetrics.ResourceSnapshots, written)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.snapshot.failed", JobMRRSnapshot, err)
		return err
	}
	return nil
}

// SyncJob pulls every company from the upstream payments platform.
func (s *Scheduler) SyncJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobSync)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if !s.syncer.Enabled() {
		return nil
	}

	synced, err := s.syncer.SyncAll(ctx, s.cfg.SyncDays)
	run.AddProcessed(synced)
	s.metrics.AddItemsProcessed(JobSync, obsmetrics.ResourceCompanies, synced)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.sync.failed", JobSync, err,
			zap.Int("synced", synced),
		)
		return err
	}
	return nil
}
