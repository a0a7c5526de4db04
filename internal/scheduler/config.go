package scheduler

import (
	"time"
)

// Config controls scheduler cadence and the billing run window.
type Config struct {
	// Spec is a cron expression or descriptor ("@daily") for RunForever.
	Spec string
	// Lookahead widens the due-set window to absorb trigger jitter.
	Lookahead time.Duration
	// JobTimeout bounds one job invocation.
	JobTimeout time.Duration
	// DisabledJobs lists job names excluded from RunOnce.
	DisabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Spec:       "@daily",
		Lookahead:  24 * time.Hour,
		JobTimeout: 10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Spec == "" {
		c.Spec = defaults.Spec
	}
	if c.Lookahead <= 0 {
		c.Lookahead = defaults.Lookahead
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
