package engine

import (
	"log/slog"
	"time"

	"github.com/rendis/autopilot/internal/logging"
)

// Config holds the timing knobs of the execution core.
type Config struct {
	// Resolve controls how often a missing target is looked up again.
	Resolve RetryPolicy
	// PollInterval is the spacing between wait-condition probes.
	PollInterval time.Duration
	// MaxWait caps element_present and external_state_changed waits.
	MaxWait time.Duration
	// SettleDelay follows a click that has no wait condition.
	SettleDelay time.Duration
	// TypeDelay is the pause between characters of a Type step.
	TypeDelay time.Duration
	// DefaultWaitDelay is used by Wait steps without a condition.
	DefaultWaitDelay time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Resolve: RetryPolicy{
			Attempts: 3,
			Delay:    100 * time.Millisecond,
			Backoff:  BackoffConstant,
		},
		PollInterval:     100 * time.Millisecond,
		MaxWait:          30 * time.Second,
		SettleDelay:      100 * time.Millisecond,
		TypeDelay:        50 * time.Millisecond,
		DefaultWaitDelay: time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig. Negative delays are
// clamped to zero so tests can disable them.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Resolve.Attempts <= 0 {
		c.Resolve.Attempts = d.Resolve.Attempts
	}
	if c.Resolve.Delay == 0 {
		c.Resolve.Delay = d.Resolve.Delay
	}
	if c.Resolve.Backoff == "" {
		c.Resolve.Backoff = d.Resolve.Backoff
	}
	c.PollInterval = orDefault(c.PollInterval, d.PollInterval)
	c.MaxWait = orDefault(c.MaxWait, d.MaxWait)
	c.SettleDelay = orDefault(c.SettleDelay, d.SettleDelay)
	c.TypeDelay = orDefault(c.TypeDelay, d.TypeDelay)
	c.DefaultWaitDelay = orDefault(c.DefaultWaitDelay, d.DefaultWaitDelay)
	if c.Resolve.Delay < 0 {
		c.Resolve.Delay = 0
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return c
}

func orDefault(v, def time.Duration) time.Duration {
	switch {
	case v == 0:
		return def
	case v < 0:
		return 0
	default:
		return v
	}
}
