// Package circuit stops calling a failing provider until it has had time to recover.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config shapes a breaker.
type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int `json:"failure_threshold"`
	// SuccessThreshold probe successes close a half-open circuit.
	SuccessThreshold int `json:"success_threshold"`
	// Cooldown is how long an open circuit rejects before probing.
	Cooldown time.Duration `json:"cooldown"`
	// MaxProbes bounds concurrent requests while half-open. Zero means one.
	MaxProbes int `json:"max_probes"`
}

// DefaultConfig suits a remote model API.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Cooldown:         30 * time.Second,
	MaxProbes:        1,
}

// Error is returned while the circuit rejects requests.
type Error struct {
	State State
	// RetryAfter is the remaining cooldown when State is Open.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker is %s (retry in %s)", e.State, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State        State
	Failures     int
	Successes    int
	ProbesActive int
	OpenedAt     time.Time
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// OnStateChange registers fn to run after every transition. It is called
// without the breaker lock held.
func OnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is a three-state circuit breaker safe for concurrent use.
type Breaker struct {
	cfg      Config
	now      func() time.Time
	onChange func(from, to State)

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// New creates a closed breaker.
func New(cfg Config, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = 1
	}
	b := &Breaker{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Acquire admits one request or returns the rejection. Every admitted
// request must be followed by exactly one Record.
func (b *Breaker) Acquire() error {
	b.mu.Lock()
	from := b.state
	err := b.acquireLocked()
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return err
}

func (b *Breaker) acquireLocked() error {
	switch b.state {
	case Open:
		wait := b.cfg.Cooldown - b.now().Sub(b.openedAt)
		if wait > 0 {
			return &Error{State: Open, RetryAfter: wait}
		}
		b.state = HalfOpen
		b.successes = 0
		b.probes = 0
		fallthrough
	case HalfOpen:
		if b.probes >= b.cfg.MaxProbes {
			return &Error{State: HalfOpen}
		}
		b.probes++
	}
	return nil
}

// Record reports the result of an admitted request.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	from := b.state
	if b.state == HalfOpen && b.probes > 0 {
		b.probes--
	}
	if success {
		b.succeedLocked()
	} else {
		b.failLocked()
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) succeedLocked() {
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) failLocked() {
	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.successes = 0
	b.probes = 0
}

// Release gives back an admission whose outcome says nothing about the
// provider, such as a cancelled request.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen && b.probes > 0 {
		b.probes--
	}
}

// State returns the current state without advancing an expired cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = 0
	b.successes = 0
	b.probes = 0
	b.mu.Unlock()
	b.notify(from, Closed)
}

// Stats returns the current counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:        b.state,
		Failures:     b.failures,
		Successes:    b.successes,
		ProbesActive: b.probes,
		OpenedAt:     b.openedAt,
	}
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
