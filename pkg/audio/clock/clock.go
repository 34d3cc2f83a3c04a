// Package clock provides a headless [audio.Output] that produces no sound and
// simply takes as long as the buffer would take to play.
//
// It is used when the host has no audio device (servers, CI) so that the
// reading session still advances at speaking pace. WAV buffers are timed from
// their header; other encodings use a fixed byte rate.
package clock

import (
	"context"
	"time"

	"github.com/MrWong99/readaloud/pkg/audio"
)

// Option configures an Output.
type Option func(*Output)

// WithFallbackByteRate sets the byte rate assumed for non-WAV buffers.
// Defaults to audio.DefaultByteRate.
func WithFallbackByteRate(n int) Option {
	return func(o *Output) {
		if n > 0 {
			o.byteRate = n
		}
	}
}

// WithSpeed scales playing time: 2 plays twice as fast, 0.5 half as fast.
func WithSpeed(f float64) Option {
	return func(o *Output) {
		if f > 0 {
			o.speed = f
		}
	}
}

// Output implements [audio.Output]. It is safe for concurrent use.
type Output struct {
	byteRate int
	speed    float64
}

var _ audio.Output = (*Output)(nil)

// New creates a clock Output.
func New(opts ...Option) *Output {
	o := &Output{byteRate: audio.DefaultByteRate, speed: 1}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Duration returns how long Start would play data.
func (o *Output) Duration(data []byte) time.Duration {
	return time.Duration(float64(audio.EstimateDuration(data, o.byteRate)) / o.speed)
}

// Start implements [audio.Output].
func (o *Output) Start(ctx context.Context, data []byte) (audio.Stream, error) {
	s := &stream{
		ctl:  make(chan command),
		done: make(chan struct{}),
	}
	go s.run(ctx, o.Duration(data))
	return s, nil
}

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdStop
)

type stream struct {
	ctl  chan command
	done chan struct{}
	err  error // written before done is closed
}

func (s *stream) run(ctx context.Context, remaining time.Duration) {
	defer close(s.done)

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	started := time.Now()
	running := true

	for {
		var tick <-chan time.Time
		if running {
			tick = timer.C
		}
		select {
		case <-tick:
			return
		case c := <-s.ctl:
			switch c {
			case cmdPause:
				if running {
					timer.Stop()
					remaining -= time.Since(started)
					running = false
				}
			case cmdResume:
				if !running {
					timer.Reset(max(remaining, 0))
					started = time.Now()
					running = true
				}
			case cmdStop:
				s.err = audio.ErrStopped
				return
			}
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		}
	}
}

func (s *stream) send(c command) error {
	select {
	case s.ctl <- c:
		return nil
	case <-s.done:
		return audio.ErrStreamClosed
	}
}

func (s *stream) Pause() error  { return s.send(cmdPause) }
func (s *stream) Resume() error { return s.send(cmdResume) }

func (s *stream) Stop() error {
	if err := s.send(cmdStop); err != nil {
		return nil // already ended
	}
	<-s.done
	return nil
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
