// Package breaker implements a per-provider circuit breaker state machine.
//
// The breaker has three states. Closed passes calls through and counts
// consecutive failures. Open rejects calls immediately until the recovery
// timeout has elapsed since the last failure. Half-open admits trial calls:
// enough consecutive successes close the circuit, any failure reopens it.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when the circuit rejects a call without invoking the
// wrapped function.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive failures that open a closed
	// circuit. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the consecutive successes that close a half-open
	// circuit. Default: 2.
	SuccessThreshold int

	// RecoveryTimeout is how long an open circuit rejects calls before
	// admitting a trial. Default: 30s.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Stats is a snapshot of breaker state for observability.
type Stats struct {
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
}

// OnTransition receives state change notifications.
type OnTransition func(name string, from, to State)

// Breaker is a single circuit breaker instance.
type Breaker struct {
	mu           sync.Mutex
	name         string
	config       Config
	state        State
	failures     int
	successes    int
	lastFailure  time.Time
	nowFunc      func() time.Time
	onTransition OnTransition
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithTransitionHook registers a state change callback.
func WithTransitionHook(fn OnTransition) Option {
	return func(b *Breaker) { b.onTransition = fn }
}

// New creates a closed breaker.
func New(name string, config Config, opts ...Option) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	b := &Breaker{
		name:    name,
		config:  config,
		state:   StateClosed,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetNowFunc sets a custom clock for testing.
func (b *Breaker) SetNowFunc(fn func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nowFunc = fn
}

// Allow reports whether a call may proceed, transitioning open→half-open
// when the recovery timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowLocked()
}

func (b *Breaker) allowLocked() bool {
	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.nowFunc().Sub(b.lastFailure) >= b.config.RecoveryTimeout {
			b.transitionLocked(StateHalfOpen)
			return true
		}
		return false
	}
	return false
}

// Execute invokes fn under the breaker. It returns ErrOpen without invoking
// fn when the circuit is open and the recovery window has not elapsed;
// otherwise it records fn's outcome and performs the transition check.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return fmt.Errorf("%w: %s", ErrOpen, b.name)
	}

	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// RecordSuccess registers a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	case StateClosed:
		b.successes++
	}
}

// RecordFailure registers a failed call. A half-open circuit reopens
// immediately; a closed circuit opens at the failure threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = 0
	b.failures++
	b.lastFailure = b.nowFunc()

	switch b.state {
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	}
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}

// State returns the current state, applying the open→half-open recovery
// check first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.nowFunc().Sub(b.lastFailure) >= b.config.RecoveryTimeout {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                 b.name,
		State:                b.state,
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		LastFailure:          b.lastFailure,
	}
}

// Reset forces the breaker back to closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.failures = 0
	b.successes = 0
}
