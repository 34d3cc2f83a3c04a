package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/types"
)

// ErrAllFailed matches a [FailoverError].
var ErrAllFailed = errors.New("all endpoints failed")

// ErrEmptyAudio is recorded when an endpoint reports success without audio.
var ErrEmptyAudio = errors.New("endpoint returned no audio")

// Endpoint is one synthesis backend of a language route.
type Endpoint struct {
	Name     string
	Provider tts.Provider
}

// EndpointFailure is the outcome of one endpoint during a failover walk.
type EndpointFailure struct {
	Endpoint string
	Err      error
}

// FailoverError lists why every endpoint of a [TTSFailover] failed, in the
// order they were tried. It matches [ErrAllFailed] and each endpoint error
// under errors.Is.
type FailoverError struct {
	Failures []EndpointFailure
}

func (e *FailoverError) Error() string {
	var b strings.Builder
	b.WriteString(ErrAllFailed.Error())
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", f.Endpoint, f.Err)
	}
	return b.String()
}

func (e *FailoverError) Is(target error) bool { return target == ErrAllFailed }

func (e *FailoverError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

type guardedEndpoint struct {
	Endpoint
	breaker *CircuitBreaker
}

// TTSFailover is a [tts.Provider] over a primary endpoint and its fallbacks.
// Every Synthesize call walks the endpoints in order until one returns audio.
// An open breaker skips its endpoint only while another one remains: the
// last endpoint is always called, so a caller's retry reaches a server even
// on a single-endpoint route. One call is one attempt across the route;
// retrying belongs to the caller.
type TTSFailover struct {
	endpoints []guardedEndpoint
}

var _ tts.Provider = (*TTSFailover)(nil)

// NewTTSFailover puts primary and fallbacks behind their own breakers, each
// configured from cfg with Name set to the endpoint name.
func NewTTSFailover(cfg CircuitBreakerConfig, primary Endpoint, fallbacks ...Endpoint) *TTSFailover {
	f := &TTSFailover{}
	for _, e := range append([]Endpoint{primary}, fallbacks...) {
		bc := cfg
		bc.Name = e.Name
		f.endpoints = append(f.endpoints, guardedEndpoint{Endpoint: e, breaker: NewCircuitBreaker(bc)})
	}
	return f
}

// Names returns the endpoint names in the order they are tried.
func (f *TTSFailover) Names() []string {
	names := make([]string, len(f.endpoints))
	for i, e := range f.endpoints {
		names[i] = e.Name
	}
	return names
}

// BreakerStates reports each endpoint's breaker state keyed by name.
func (f *TTSFailover) BreakerStates() map[string]State {
	out := make(map[string]State, len(f.endpoints))
	for _, e := range f.endpoints {
		out[e.Name] = e.breaker.State()
	}
	return out
}

// Synthesize returns audio from the first endpoint that produces some.
//
// Cancellation or expiry of ctx ends the walk and is returned unwrapped.
// Otherwise, when no endpoint succeeds, the error is a [*FailoverError].
func (f *TTSFailover) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	var failures []EndpointFailure
	for i, e := range f.endpoints {
		var audio []byte
		call := func() error {
			var err error
			audio, err = e.Provider.Synthesize(ctx, text, voice)
			if err == nil && len(audio) == 0 {
				err = ErrEmptyAudio
			}
			return err
		}
		var err error
		if i == len(f.endpoints)-1 {
			err = e.breaker.Force(call)
		} else {
			err = e.breaker.Execute(call)
		}
		if err == nil {
			if i > 0 {
				slog.Debug("tts failover served by fallback", "endpoint", e.Name, "skipped", len(failures))
			}
			return audio, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, ErrCircuitOpen) {
			if at := e.breaker.RetryAt(); !at.IsZero() {
				err = fmt.Errorf("%w, retry in %s", err, time.Until(at).Round(time.Second))
			}
		} else if i < len(f.endpoints)-1 {
			slog.Warn("tts endpoint failed, trying next", "endpoint", e.Name, "err", err)
		}
		failures = append(failures, EndpointFailure{Endpoint: e.Name, Err: err})
	}
	return nil, &FailoverError{Failures: failures}
}
