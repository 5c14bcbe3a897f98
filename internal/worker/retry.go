package worker

import (
	"math"
	"time"

	"servicehub/internal/config"
)

const (
	defaultMaxAttempts   = 5
	defaultInitialDelay  = 2 * time.Second
	defaultMaxDelay      = time.Minute
	defaultBackoffFactor = 2
)

// RetryPolicy controls how often an event is re-sent to the notification
// backend before it is dead-lettered. MaxRetries counts publish attempts,
// the first one included.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// RetryPolicyFromConfig maps notify.retry onto a policy. Zero fields keep
// the dispatcher defaults.
func RetryPolicyFromConfig(cfg config.NotifyRetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}.withDefaults()
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = defaultMaxAttempts
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = defaultInitialDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = defaultMaxDelay
	}
	if r.MaxDelay < r.InitialDelay {
		r.MaxDelay = r.InitialDelay
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = defaultBackoffFactor
	}
	return r
}

// NextDelay is the wait after failed attempt n (1-based), capped at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	r = r.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	return time.Duration(delay)
}

// Budget is the longest an event can wait in retries before it is
// dead-lettered.
func (r RetryPolicy) Budget() time.Duration {
	r = r.withDefaults()
	var total time.Duration
	for attempt := 1; attempt < r.MaxRetries; attempt++ {
		total += r.NextDelay(attempt)
	}
	return total
}
