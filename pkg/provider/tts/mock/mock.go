// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio clips, to script a sequence of
// failures before success, and to verify which text and voice reached the
// backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio:  []byte("RIFF..."),
//	    Errors: []error{errBoom, errBoom}, // first two calls fail
//	}
//	audio, err := p.Synthesize(ctx, "Hello.", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio is returned by every successful call.
	Audio []byte

	// Errors is consumed front to back: call n returns Errors[n] when it is
	// non-nil. Once exhausted, calls fall through to Err.
	Errors []error

	// Err, if non-nil, is returned by every call after Errors is exhausted.
	Err error

	// SynthesizeFunc, if set, replaces all of the above.
	SynthesizeFunc func(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

	// Block, if non-nil, makes every call wait until it is closed or ctx is
	// done before answering.
	Block <-chan struct{}

	// --- Call records ---

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and answers according to the configured fields.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	n := len(p.Calls)
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	fn := p.SynthesizeFunc
	block := p.Block
	var scripted error
	if n < len(p.Errors) {
		scripted = p.Errors[n]
	}
	err := p.Err
	audio := p.Audio
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, text, voice)
	}
	if scripted != nil {
		return nil, scripted
	}
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// CallCount returns the number of Synthesize calls so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Texts returns the text of every recorded call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
