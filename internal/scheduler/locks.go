package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var errJobLocked = errors.New("scheduler_job_locked")

func jobLockKey(job string) string {
	return "revlens:scheduler:" + job
}

// withJobLock runs fn only when this replica holds the job lock. When another
// replica holds it, errJobLocked is returned and fn is not called.
func (s *Scheduler) withJobLock(ctx context.Context, job string, fn func(context.Context) error) error {
	if s.locker == nil || s.cfg.DisableJobLock {
		return fn(ctx)
	}
	key := jobLockKey(job)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.JobLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return errJobLocked
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger(ctx).Warn("scheduler.lock.release_failed", zap.String("job", job), zap.Error(err))
		}
	}()
	return fn(ctx)
}
