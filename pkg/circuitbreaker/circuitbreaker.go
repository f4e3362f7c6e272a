// Package circuitbreaker stops calling a failing dependency for a cool-down
// period. The score portal puts it in front of optional backends such as the
// Redis ranking cache so a dead cache costs one fast error instead of a dial
// timeout per request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down expires.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling fn while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// Config controls when the breaker trips and recovers.
type Config struct {
	Name string

	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int

	// SuccessThreshold consecutive probe successes close a half-open breaker.
	SuccessThreshold int

	// CoolDown is how long an open breaker rejects calls.
	CoolDown time.Duration

	// MaxProbes bounds concurrent calls while half-open.
	MaxProbes int

	// OnStateChange is called with the lock held; keep it short.
	OnStateChange func(name string, from, to State)

	// IsFailure decides which errors count against the dependency.
	// Context cancellation never does.
	IsFailure func(error) bool
}

// DefaultConfig returns the settings used for cache backends.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		CoolDown:         30 * time.Second,
		MaxProbes:        1,
	}
}

// Option adjusts a Config.
type Option func(*Config)

// WithFailureThreshold sets the consecutive failures that open the breaker.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithCoolDown sets how long the breaker stays open.
func WithCoolDown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.CoolDown = d
		}
	}
}

// WithOnStateChange registers a transition callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

// WithIsFailure overrides which errors are counted.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) { c.IsFailure = fn }
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	openedAt    time.Time
	probesInUse int
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	cfg := DefaultConfig(name)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute calls fn unless the breaker is open and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(probe, err)
	return err
}

func (b *Breaker) allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.CoolDown {
			return false, ErrOpen
		}
		b.transition(StateHalfOpen)
	}

	if b.probesInUse >= b.cfg.MaxProbes {
		return false, ErrOpen
	}
	b.probesInUse++
	return true, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe && b.probesInUse > 0 {
		b.probesInUse--
	}

	if !b.countsAsFailure(err) {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}

	b.successes = 0
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if b.cfg.IsFailure != nil {
		return b.cfg.IsFailure(err)
	}
	return true
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.probesInUse = 0
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State reports the current position, moving an expired open breaker to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.CoolDown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
}
