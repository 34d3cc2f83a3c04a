// Package mock provides an in-memory [audio.Output] for unit tests.
//
// Output records every buffer it is asked to play and hands back a [Stream]
// that the test controls. By default streams finish on their own after
// FinishAfter (immediately when zero); set Manual to keep them playing until
// the test calls [Stream.Finish] or [Stream.Fail].
//
// Typical usage:
//
//	out := &mock.Output{Manual: true}
//	d := audio.NewDriver(out)
//	_ = d.Play(ctx, []byte("pcm"))
//	out.Last().Finish()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/readaloud/pkg/audio"
)

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock implementation of [audio.Output].
// Set the exported fields before use; inspect the recorded streams after.
type Output struct {
	mu sync.Mutex

	// StartErr, when non-nil, is returned by every Start call.
	StartErr error

	// Manual keeps streams playing until the test ends them.
	Manual bool

	// FinishAfter is how long a non-manual stream plays. Pausing does not
	// extend it.
	FinishAfter time.Duration

	// OnStart, when set, is called with every stream right after it starts.
	OnStart func(s *Stream)

	streams []*Stream
}

// Start implements [audio.Output].
func (o *Output) Start(ctx context.Context, data []byte) (audio.Stream, error) {
	o.mu.Lock()
	if o.StartErr != nil {
		err := o.StartErr
		o.mu.Unlock()
		return nil, err
	}
	s := &Stream{
		Data: append([]byte(nil), data...),
		done: make(chan struct{}),
	}
	o.streams = append(o.streams, s)
	manual, after, onStart := o.Manual, o.FinishAfter, o.OnStart
	o.mu.Unlock()

	go func() {
		select {
		case <-s.done:
		case <-ctx.Done():
			s.end(ctx.Err())
		}
	}()
	if !manual {
		if after <= 0 {
			s.Finish()
		} else {
			time.AfterFunc(after, s.Finish)
		}
	}
	if onStart != nil {
		onStart(s)
	}
	return s, nil
}

// StartCount returns the number of successful Start calls.
func (o *Output) StartCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.streams)
}

// Streams returns every stream started so far, oldest first.
func (o *Output) Streams() []*Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Stream(nil), o.streams...)
}

// Last returns the most recent stream, or nil if none was started.
func (o *Output) Last() *Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.streams) == 0 {
		return nil
	}
	return o.streams[len(o.streams)-1]
}

// Played returns the buffers passed to Start, oldest first.
func (o *Output) Played() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][]byte, len(o.streams))
	for i, s := range o.streams {
		out[i] = s.Data
	}
	return out
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	// Data is a copy of the buffer passed to Start.
	Data []byte

	mu      sync.Mutex
	paused  bool
	pauses  int
	resumes int
	stops   int
	err     error
	ended   bool
	done    chan struct{}
}

// Pause implements [audio.Stream].
func (s *Stream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return audio.ErrStreamClosed
	}
	s.paused = true
	s.pauses++
	return nil
}

// Resume implements [audio.Stream].
func (s *Stream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return audio.ErrStreamClosed
	}
	s.paused = false
	s.resumes++
	return nil
}

// Stop implements [audio.Stream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	s.end(audio.ErrStopped)
	return nil
}

// Done implements [audio.Stream].
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Finish ends the stream as if the buffer had played to the end.
func (s *Stream) Finish() { s.end(nil) }

// Fail ends the stream with err.
func (s *Stream) Fail(err error) { s.end(err) }

func (s *Stream) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.done)
}

// Paused reports whether the stream is currently paused.
func (s *Stream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Ended reports whether the stream has ended.
func (s *Stream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// PauseCount returns how many times Pause succeeded.
func (s *Stream) PauseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauses
}

// ResumeCount returns how many times Resume succeeded.
func (s *Stream) ResumeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumes
}

// StopCount returns how many times Stop was called.
func (s *Stream) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
