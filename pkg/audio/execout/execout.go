// Package execout provides an [audio.Output] that plays each buffer by piping
// it into an external player process, ffplay by default.
//
// Every Start launches one process in its own process group and writes the
// whole buffer to its stdin. Pause and resume suspend and continue the group
// with job-control signals on unix; elsewhere they return
// audio.ErrPauseUnsupported. Stop and context cancellation kill the group.
package execout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/MrWong99/readaloud/pkg/audio"
)

// DefaultCommand and DefaultArgs make ffplay read from stdin, play without a
// window, and exit at end of stream.
const DefaultCommand = "ffplay"

var DefaultArgs = []string{"-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0"}

// Option configures an Output.
type Option func(*Output)

// WithCommand replaces the player command and its arguments.
func WithCommand(command string, args ...string) Option {
	return func(o *Output) {
		o.command = command
		o.args = args
	}
}

// WithWaitDelay bounds how long the output waits for the player's I/O to
// drain after the process is killed. Defaults to 2s.
func WithWaitDelay(d time.Duration) Option {
	return func(o *Output) {
		if d > 0 {
			o.waitDelay = d
		}
	}
}

// Output implements [audio.Output].
type Output struct {
	command   string
	args      []string
	waitDelay time.Duration
}

var _ audio.Output = (*Output)(nil)

// New creates an Output. It returns an error when the player command cannot
// be found on PATH.
func New(opts ...Option) (*Output, error) {
	o := &Output{
		command:   DefaultCommand,
		args:      DefaultArgs,
		waitDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.command == "" {
		return nil, errors.New("execout: command must not be empty")
	}
	if _, err := exec.LookPath(o.command); err != nil {
		return nil, fmt.Errorf("execout: player %q: %w", o.command, err)
	}
	return o, nil
}

// Command returns the player command line.
func (o *Output) Command() (string, []string) {
	return o.command, append([]string(nil), o.args...)
}

// Start implements [audio.Output].
func (o *Output) Start(ctx context.Context, data []byte) (audio.Stream, error) {
	cmd := exec.CommandContext(ctx, o.command, o.args...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.WaitDelay = o.waitDelay
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("execout: start %s: %w", o.command, err)
	}

	s := &stream{cmd: cmd, done: make(chan struct{})}
	go s.wait(ctx)
	return s, nil
}

type stream struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	stopped bool
	err     error
}

func (s *stream) wait(ctx context.Context) {
	err := s.cmd.Wait()

	s.mu.Lock()
	switch {
	case s.stopped:
		s.err = audio.ErrStopped
	case ctx.Err() != nil:
		s.err = ctx.Err()
	case err != nil:
		s.err = fmt.Errorf("execout: player exited: %w", err)
	}
	s.mu.Unlock()
	close(s.done)
}

func (s *stream) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) Pause() error {
	if s.ended() {
		return audio.ErrStreamClosed
	}
	return suspendGroup(s.cmd)
}

func (s *stream) Resume() error {
	if s.ended() {
		return audio.ErrStreamClosed
	}
	return continueGroup(s.cmd)
}

func (s *stream) Stop() error {
	if s.ended() {
		return nil
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	// A suspended process only dies once it is continued on some systems.
	_ = continueGroup(s.cmd)
	if err := killGroup(s.cmd); err != nil {
		slog.Debug("execout: kill player", "err", err)
	}
	<-s.done
	return nil
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
