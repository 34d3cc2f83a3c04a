package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a config entry names a provider
// no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is a name-keyed set of constructors for one provider kind.
type factories[T any] struct {
	kind   string
	byName map[string]func(ProviderEntry) (T, error)
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.byName[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

// Registry resolves the provider entries of a [Config] to implementations.
// Registration normally happens once at startup; lookups may run
// concurrently with it.
type Registry struct {
	mu    sync.RWMutex
	tts   factories[tts.Provider]
	audio factories[audio.Output]
}

// NewRegistry returns a [Registry] with no factories.
func NewRegistry() *Registry {
	return &Registry{
		tts:   factories[tts.Provider]{kind: "tts", byName: map[string]func(ProviderEntry) (tts.Provider, error){}},
		audio: factories[audio.Output]{kind: "audio", byName: map[string]func(ProviderEntry) (audio.Output, error){}},
	}
}

// RegisterTTS makes factory the constructor for tts entries called name,
// replacing any earlier one.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	r.tts.byName[name] = factory
	r.mu.Unlock()
}

// RegisterAudio is [Registry.RegisterTTS] for audio outputs.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Output, error)) {
	r.mu.Lock()
	r.audio.byName[name] = factory
	r.mu.Unlock()
}

// CreateTTS builds the synthesis endpoint described by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateAudio builds the audio output described by entry.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Output, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create(entry)
}

// Names lists the registered names of kind ("tts" or "audio") in order.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "tts":
		return slices.Sorted(maps.Keys(r.tts.byName))
	case "audio":
		return slices.Sorted(maps.Keys(r.audio.byName))
	}
	return nil
}

// ---- option helpers ----

// OptString returns opts[key] when it is a string, else "".
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptStrings extracts a list of strings from a provider Options map. YAML
// sequences decode as []any; non-string elements are skipped.
func OptStrings(opts map[string]any, key string) []string {
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// OptFloat extracts a number from a provider Options map. YAML integers and
// floats are both accepted.
func OptFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
