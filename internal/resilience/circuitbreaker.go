// Package resilience sits between the speech fetcher and the remote synthesis
// endpoints.
//
// [Retry] runs an attempt function under a [RetryPolicy]: bounded attempts,
// quadratic backoff and a cancellable sleep. [CircuitBreaker] stops sending
// text to an endpoint that keeps failing and lets a single probe through once
// its cool-down has passed. [TTSFailover] puts each endpoint of a language
// behind its own breaker and presents them as one tts.Provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen admits one probe call. Its success closes the breaker and
	// its failure opens it again.
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

// CircuitBreakerConfig holds the tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and metrics, usually the endpoint URL.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// IsFailure decides whether an error counts against the endpoint. Errors
	// it rejects pass through without touching the counters. Default:
	// [EndpointFault].
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards one synthesis endpoint.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = EndpointFault
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
}

// EndpointFault reports whether err says something about the endpoint's
// health. Cancellation does not: the reader pressed stop. Neither does a 4xx
// answer other than 408 and 429, found through an HTTPStatus() int method in
// the error chain: the endpoint is up and rejected this particular text.
func EndpointFault(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return false
		}
	}
	return true
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker rejects the call with [ErrCircuitOpen].
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err)
	return err
}

// Force runs fn whatever the breaker's state and records the outcome as
// Execute would: a success closes the breaker, a counted failure keeps or
// puts it open. It serves the last endpoint of a route, which has nothing
// to fail over to.
func (cb *CircuitBreaker) Force(fn func() error) error {
	err := fn()
	cb.record(false, err)
	return err
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if probe {
		cb.probing = false
	}
	switch {
	case err == nil:
		cb.failures = 0
		cb.state = StateClosed
	case cb.isFailure(err):
		cb.failures++
		cb.lastFailure = cb.now()
		if probe || cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
	}
	to, failures := cb.state, cb.failures
	cb.mu.Unlock()

	if from != to {
		if to == StateOpen {
			slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", failures, "err", err)
		} else {
			slog.Info("circuit breaker closed", "name", cb.name)
		}
	}
	cb.notify(from, to)
}

// admit decides whether a call may proceed and whether it is the half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
	}
	if cb.state == StateHalfOpen {
		if cb.probing {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.probing = true
		probe = true
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return probe, nil
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the breaker's state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// RetryAt returns when an open breaker will admit its probe, or the zero time
// when it is not open.
func (cb *CircuitBreaker) RetryAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return time.Time{}
	}
	return cb.lastFailure.Add(cb.resetTimeout)
}
