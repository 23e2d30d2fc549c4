// Package retry re-issues failed model requests with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"agentcore/pkg/agent/llmerrors"
	"agentcore/pkg/config"
)

// Config shapes a Policy.
type Config struct {
	MaxAttempts   int           `json:"max_attempts"`   // including the first try
	InitialDelay  time.Duration `json:"initial_delay"`  // before the first retry
	MaxDelay      time.Duration `json:"max_delay"`      // cap on any single wait
	BackoffFactor float64       `json:"backoff_factor"` // growth per retry
	Jitter        bool          `json:"jitter"`         // spread waits by up to 10% either way
}

// DefaultConfig suits a remote model API.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// FromModelConfig converts the model retry section.
func FromModelConfig(rc config.RetryConfig) Config {
	return Config{
		MaxAttempts:   rc.MaxAttempts,
		InitialDelay:  rc.InitialDelay.Std(),
		MaxDelay:      rc.MaxDelay.Std(),
		BackoffFactor: rc.BackoffFactor,
		Jitter:        true,
	}
}

// Classifier reports whether a failed request is worth another attempt.
type Classifier func(error) bool

// ShouldRetry is the default classifier. Cancellation is final; a deadline
// is retried since it may be the per-request timeout while the caller is
// still waiting. Everything else follows llmerrors.
func ShouldRetry(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return llmerrors.IsRetryable(err)
	}
}

// Policy decides whether and when to retry.
type Policy struct {
	cfg       Config
	retryable Classifier
	rand      func() float64
}

// NewPolicy creates a policy. A nil classifier means ShouldRetry.
func NewPolicy(cfg Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	return &Policy{cfg: cfg, retryable: classifier, rand: rand.Float64} //nolint:gosec // jitter only
}

// Attempts is the total number of tries, the first included.
func (p *Policy) Attempts() int { return p.cfg.MaxAttempts }

// Retryable reports whether err deserves another attempt.
func (p *Policy) Retryable(err error) bool { return p.retryable(err) }

// Backoff returns the wait before the n-th retry. n < 1 waits nothing.
func (p *Policy) Backoff(n int) time.Duration {
	if n < 1 || p.cfg.InitialDelay <= 0 {
		return 0
	}
	d := float64(p.cfg.InitialDelay)
	for i := 1; i < n && (p.cfg.MaxDelay <= 0 || d < float64(p.cfg.MaxDelay)); i++ {
		d *= p.cfg.BackoffFactor
	}
	if p.cfg.MaxDelay > 0 && d > float64(p.cfg.MaxDelay) {
		d = float64(p.cfg.MaxDelay)
	}
	if p.cfg.Jitter {
		d *= 0.9 + 0.2*p.rand()
	}
	return time.Duration(d)
}
