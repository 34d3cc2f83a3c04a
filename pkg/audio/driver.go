package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultWaitTimeout bounds [Driver.Wait] when no WithWaitTimeout option is
// given. Paused time does not count against it.
const DefaultWaitTimeout = 60 * time.Second

var (
	// ErrWaitTimeout is returned by [Driver.Wait] when playback ran longer than
	// the wait timeout. The driver has force-stopped the stream by then.
	ErrWaitTimeout = errors.New("audio: playback did not finish in time")

	// ErrNothingPlaying is returned by [Driver.Wait] when no buffer was ever
	// played.
	ErrNothingPlaying = errors.New("audio: nothing is playing")
)

// ---- state ----

// State is the playback state of a [Driver].
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateFinished
	StateStopped
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// active reports whether a stream is loaded and has not ended.
func (s State) active() bool { return s == StatePlaying || s == StatePaused }

// Outcome is how a [Driver.Wait] ended.
type Outcome int

const (
	// OutcomeFinished means the buffer played to the end.
	OutcomeFinished Outcome = iota

	// OutcomeStopped means Stop was called, a newer Play replaced the
	// buffer, or the wait's context ended.
	OutcomeStopped

	// OutcomeTimedOut means the wait timeout expired and the driver stopped
	// playback itself.
	OutcomeTimedOut

	// OutcomeFailed means the output reported an error.
	OutcomeFailed
)

// String returns the snake_case name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeFinished:
		return "finished"
	case OutcomeStopped:
		return "stopped"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ---- options ----

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithWaitTimeout overrides [DefaultWaitTimeout].
func WithWaitTimeout(d time.Duration) DriverOption {
	return func(dr *Driver) {
		if d > 0 {
			dr.waitTimeout = d
		}
	}
}

// ---- Driver ----

// Driver owns at most one [Stream] at a time and tracks its state.
//
// All methods are safe for concurrent use.
type Driver struct {
	out         Output
	waitTimeout time.Duration

	mu      sync.Mutex
	state   State
	stream  Stream
	gen     uint64 // incremented per Play
	err     error  // failure of the last stream, if any
	changed chan struct{}
}

// NewDriver creates an idle Driver that plays through out.
func NewDriver(out Output, opts ...DriverOption) *Driver {
	d := &Driver{
		out:         out,
		waitTimeout: DefaultWaitTimeout,
		changed:     make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// notifyLocked wakes every waiter. d.mu must be held.
func (d *Driver) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}

// Play starts playing data, first stopping whatever was playing before.
func (d *Driver) Play(ctx context.Context, data []byte) error {
	d.mu.Lock()
	prev := d.takeActiveLocked(StateStopped)
	d.mu.Unlock()
	if prev != nil {
		_ = prev.Stop()
	}

	s, err := d.out.Start(ctx, data)
	if err != nil {
		return fmt.Errorf("audio: start playback: %w", err)
	}

	d.mu.Lock()
	// A concurrent Play may have slipped in while the output was starting.
	if old := d.takeActiveLocked(StateStopped); old != nil {
		defer func() { _ = old.Stop() }()
	}
	d.gen++
	gen := d.gen
	d.stream = s
	d.state = StatePlaying
	d.err = nil
	d.notifyLocked()
	d.mu.Unlock()

	go d.watch(gen, s)
	return nil
}

// takeActiveLocked moves an active stream into state and returns it so the
// caller can stop it outside the lock. d.mu must be held.
func (d *Driver) takeActiveLocked(state State) Stream {
	if !d.state.active() {
		return nil
	}
	s := d.stream
	d.state = state
	d.notifyLocked()
	return s
}

// watch records the natural end of the stream started as generation gen.
func (d *Driver) watch(gen uint64, s Stream) {
	<-s.Done()
	err := s.Err()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen || !d.state.active() {
		return
	}
	switch {
	case err == nil:
		d.state = StateFinished
	case errors.Is(err, ErrStopped):
		d.state = StateStopped
	default:
		d.state = StateFinished
		d.err = err
	}
	d.notifyLocked()
}

// Pause suspends playback. It is a no-op returning false unless the driver
// is playing.
func (d *Driver) Pause() bool {
	return d.transition(StatePlaying, StatePaused, Stream.Pause)
}

// Resume continues paused playback. It is a no-op returning false unless the
// driver is paused.
func (d *Driver) Resume() bool {
	return d.transition(StatePaused, StatePlaying, Stream.Resume)
}

func (d *Driver) transition(from, to State, op func(Stream) error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != from {
		return false
	}
	if err := op(d.stream); err != nil {
		slog.Warn("audio: playback control failed", "from", from, "to", to, "err", err)
		return false
	}
	d.state = to
	d.notifyLocked()
	return true
}

// Stop ends playback. It is safe to call in any state; only an active stream
// is affected.
func (d *Driver) Stop() {
	d.mu.Lock()
	s := d.takeActiveLocked(StateStopped)
	d.mu.Unlock()
	if s != nil {
		if err := s.Stop(); err != nil {
			slog.Debug("audio: stop stream", "err", err)
		}
	}
}

// State returns the current playback state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Wait blocks until the buffer passed to the latest Play ends.
//
// Time spent paused does not count against the wait timeout. When the
// timeout expires the driver stops playback and Wait returns
// [OutcomeTimedOut] with [ErrWaitTimeout]. If ctx ends first Wait returns
// [OutcomeStopped] with ctx.Err() and leaves playback alone.
func (d *Driver) Wait(ctx context.Context) (Outcome, error) {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()
	if gen == 0 {
		return OutcomeFailed, ErrNothingPlaying
	}

	budget := d.waitTimeout
	for {
		d.mu.Lock()
		state, changed, err := d.state, d.changed, d.err
		superseded := d.gen != gen
		d.mu.Unlock()

		if superseded {
			return OutcomeStopped, nil
		}

		switch state {
		case StateFinished:
			if err != nil {
				return OutcomeFailed, err
			}
			return OutcomeFinished, nil

		case StatePaused:
			select {
			case <-changed:
			case <-ctx.Done():
				return OutcomeStopped, ctx.Err()
			}

		case StatePlaying:
			if budget <= 0 {
				d.expire(gen)
				return OutcomeTimedOut, ErrWaitTimeout
			}
			start := time.Now()
			timer := time.NewTimer(budget)
			select {
			case <-changed:
				timer.Stop()
				budget -= time.Since(start)
			case <-timer.C:
				budget = 0
			case <-ctx.Done():
				timer.Stop()
				return OutcomeStopped, ctx.Err()
			}

		default:
			return OutcomeStopped, nil
		}
	}
}

// expire force-stops generation gen if it is still playing.
func (d *Driver) expire(gen uint64) {
	d.mu.Lock()
	var s Stream
	if d.gen == gen {
		s = d.takeActiveLocked(StateStopped)
	}
	d.mu.Unlock()
	if s != nil {
		slog.Warn("audio: playback exceeded wait timeout, stopping", "timeout", d.waitTimeout)
		_ = s.Stop()
	}
}
