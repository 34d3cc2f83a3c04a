// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a remote speech synthesis endpoint and turns one bounded
// chunk of text into one encoded audio clip (typically WAV). Providers perform
// a single attempt per call; retries, circuit breaking and endpoint fallback are
// layered on top by internal/resilience and internal/fetch.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/readaloud/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the encoded
	// audio bytes exactly as the endpoint produced them.
	//
	// A non-nil error means the attempt failed (transport error, non-2xx
	// status, empty body, or ctx cancelled). Implementations must honour ctx
	// and return promptly once it is done.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)
}

// ProviderFunc adapts an ordinary function to the Provider interface.
type ProviderFunc func(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

// Synthesize calls f(ctx, text, voice).
func (f ProviderFunc) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return f(ctx, text, voice)
}
