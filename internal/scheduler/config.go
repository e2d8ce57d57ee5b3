package scheduler

import (
	"time"

	"github.com/smallbiznis/revlens/internal/config"
)

const (
	JobMRRSnapshot = "mrr_snapshot"
	JobSync        = "sync"
)

// Config controls scheduler intervals and job selection.
type Config struct {
	RunInterval    time.Duration
	JobTimeout     time.Duration
	SyncTimeout    time.Duration
	JobLockTTL     time.Duration
	SyncDays       int
	EnabledJobs    []string
	ServiceName    string
	Environment    string
	DisableJobLock bool
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		JobTimeout:  time.Minute,
		SyncTimeout: 30 * time.Minute,
		JobLockTTL:  45 * time.Minute,
		SyncDays:    90,
	}
}

// ProvideConfig derives scheduler settings from the application config.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		SyncDays:    cfg.SyncLookbackDays,
		EnabledJobs: cfg.SchedulerJobs,
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = defaults.SyncTimeout
	}
	if c.JobLockTTL <= 0 {
		c.JobLockTTL = defaults.JobLockTTL
	}
	if c.SyncDays <= 0 || c.SyncDays > 365 {
		c.SyncDays = defaults.SyncDays
	}
	return c
}
