// Package audio plays synthesised speech one buffer at a time.
//
// The two primary abstractions are:
//
//   - [Output]: a sound sink that starts playing an encoded buffer and
//     returns a [Stream] handle for it.
//   - [Driver]: wraps an Output with the playback state machine
//     (idle → playing → paused ⇄ playing → finished | stopped) and a
//     bounded wait for completion.
//
// Implementations of Output live in sub-packages: audio/execout pipes the
// buffer into an external player process, audio/clock simulates playback for
// the buffer's duration, and audio/mock records calls for tests.
//
// This package lives under pkg/ because external code is expected to provide
// its own Output implementations.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrStopped is reported by [Stream.Err] for a stream ended by Stop.
	ErrStopped = errors.New("audio: stream stopped")

	// ErrStreamClosed is returned by Stream control methods after the stream
	// has ended.
	ErrStreamClosed = errors.New("audio: stream already ended")

	// ErrPauseUnsupported is returned by outputs that cannot suspend playback
	// on the current platform.
	ErrPauseUnsupported = errors.New("audio: pause not supported")
)

// Output starts playback of encoded audio buffers.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Start begins playing data and returns immediately. Playback ends on its
	// own when the buffer is exhausted, when [Stream.Stop] is called, or when
	// ctx is cancelled.
	Start(ctx context.Context, data []byte) (Stream, error)
}

// Stream is a handle on one buffer being played.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Pause suspends playback, keeping the position.
	Pause() error

	// Resume continues playback from where Pause left it.
	Resume() error

	// Stop ends playback early. Calling Stop on an ended stream is a no-op.
	Stop() error

	// Done is closed once playback has ended for any reason.
	Done() <-chan struct{}

	// Err reports why playback ended: nil after the buffer played to the
	// end, ErrStopped after Stop, otherwise the failure. Only meaningful
	// after Done is closed.
	Err() error
}

// OutputFunc adapts an ordinary function to [Output].
type OutputFunc func(ctx context.Context, data []byte) (Stream, error)

// Start implements [Output].
func (f OutputFunc) Start(ctx context.Context, data []byte) (Stream, error) {
	return f(ctx, data)
}
