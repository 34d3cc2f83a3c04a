package main

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/MrWong99/readaloud/internal/app"
	"github.com/MrWong99/readaloud/internal/config"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/audio/clock"
	"github.com/MrWong99/readaloud/pkg/audio/execout"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/provider/tts/httptts"
	"github.com/MrWong99/readaloud/pkg/types"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── TTS ───────────────────────────────────────────────────────────────────
	// http-query and http-json differ only in request shape.
	for name, mode := range map[string]httptts.APIMode{
		"http-query": httptts.APIModeQuery,
		"http-json":  httptts.APIModeJSON,
	} {
		reg.RegisterTTS(name, func(entry config.ProviderEntry) (tts.Provider, error) {
			opts := []httptts.Option{httptts.WithAPIMode(mode)}
			if entry.Timeout > 0 {
				opts = append(opts, httptts.WithTimeout(entry.Timeout))
			}
			if entry.APIKey != "" {
				opts = append(opts, httptts.WithHeader("Authorization", "Bearer "+entry.APIKey))
			}
			if p := config.OptString(entry.Options, "speaker_param"); p != "" {
				opts = append(opts, httptts.WithSpeakerParam(p))
			}
			if n, ok := config.OptFloat(entry.Options, "max_response_mb"); ok {
				opts = append(opts, httptts.WithMaxResponseBytes(int64(n*(1<<20))))
			}
			return httptts.New(entry.BaseURL, opts...)
		})
	}

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("exec", func(entry config.ProviderEntry) (audio.Output, error) {
		var opts []execout.Option
		if cmd := config.OptString(entry.Options, "command"); cmd != "" {
			opts = append(opts, execout.WithCommand(cmd, config.OptStrings(entry.Options, "args")...))
		}
		return execout.New(opts...)
	})

	reg.RegisterAudio("clock", func(entry config.ProviderEntry) (audio.Output, error) {
		var opts []clock.Option
		if speed, ok := config.OptFloat(entry.Options, "speed"); ok {
			opts = append(opts, clock.WithSpeed(speed))
		}
		return clock.New(opts...), nil
	})

	for _, kind := range []string{"tts", "audio"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every provider named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{TTS: make(map[types.Language]app.TTSRoute, len(cfg.Providers.TTS))}

	for _, tag := range sortedKeys(cfg.Providers.TTS) {
		rc := cfg.Providers.TTS[tag]
		lang, err := types.ParseLanguage(tag)
		if err != nil {
			return nil, fmt.Errorf("tts route %q: %w", tag, err)
		}

		primary, err := buildEndpoint(reg, rc.ProviderEntry)
		if err != nil {
			return nil, fmt.Errorf("tts route %q: %w", tag, err)
		}
		route := app.TTSRoute{
			Primary: primary,
			Voice:   types.VoiceProfile{ID: rc.VoiceID, Provider: rc.Name, Language: lang},
		}
		for i, fb := range rc.Fallbacks {
			e, err := buildEndpoint(reg, fb)
			if err != nil {
				return nil, fmt.Errorf("tts route %q fallback %d: %w", tag, i, err)
			}
			route.Fallbacks = append(route.Fallbacks, e)
		}
		ps.TTS[lang] = route
		slog.Info("provider created", "kind", "tts", "language", lang, "name", rc.Name, "fallbacks", len(rc.Fallbacks))
	}

	out, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err)
	}
	ps.Audio = out
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	return ps, nil
}

// buildEndpoint names an endpoint after its base URL so breaker logs and
// readiness output point at the failing host.
func buildEndpoint(reg *config.Registry, entry config.ProviderEntry) (app.Endpoint, error) {
	p, err := reg.CreateTTS(entry)
	if err != nil {
		return app.Endpoint{}, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
	}
	name := entry.BaseURL
	if name == "" {
		name = entry.Name
	}
	return app.Endpoint{Name: name, Provider: p}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
