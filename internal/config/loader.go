package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/readaloud/internal/segment"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/types"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts":   {"http-query", "http-json"},
	"audio": {"exec", "clock"},
}

// Default endpoints used when no TTS provider is configured.
const (
	DefaultChineseEndpoint = "https://ttszh.mattwu.cc/tts"
	DefaultEnglishEndpoint = "https://tts.mattwu.cc/api/tts"
	DefaultEnglishVoice    = "p335"
)

// ---- loading ----

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, applies defaults and validates the result. An empty
// document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with the value of the environment variable VAR.
// A bare $ is left alone so DSNs and passwords survive untouched.
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// ---- defaults ----

// ApplyDefaults fills every unset field of cfg. Negative values are left for
// [Validate] to reject.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Reading.Language == "" {
		cfg.Reading.Language = string(types.Chinese)
	}
	if cfg.Reading.RenderDelay == 0 {
		cfg.Reading.RenderDelay = 200 * time.Millisecond
	}

	if cfg.Segmenter.MaxLengthZH == 0 {
		cfg.Segmenter.MaxLengthZH = segment.DefaultMaxLengthChinese
	}
	if cfg.Segmenter.MaxLengthEN == 0 {
		cfg.Segmenter.MaxLengthEN = segment.DefaultMaxLengthEnglish
	}
	if cfg.Segmenter.MinLength == 0 {
		cfg.Segmenter.MinLength = segment.DefaultMinLength
	}

	if len(cfg.Providers.TTS) == 0 {
		cfg.Providers.TTS = map[string]TTSConfig{
			string(types.Chinese): {ProviderEntry: ProviderEntry{Name: "http-json", BaseURL: DefaultChineseEndpoint}},
			string(types.English): {ProviderEntry: ProviderEntry{Name: "http-query", BaseURL: DefaultEnglishEndpoint, VoiceID: DefaultEnglishVoice}},
		}
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "exec"
	}

	if cfg.Fetch.MaxAttempts == 0 {
		cfg.Fetch.MaxAttempts = 3
	}
	if cfg.Fetch.BackoffUnit == 0 {
		cfg.Fetch.BackoffUnit = 2 * time.Second
	}
	if cfg.Fetch.MaxInFlight == 0 {
		cfg.Fetch.MaxInFlight = 2
	}
	if cfg.Fetch.CircuitBreaker.MaxFailures == 0 {
		cfg.Fetch.CircuitBreaker.MaxFailures = 5
	}
	if cfg.Fetch.CircuitBreaker.ResetTimeout == 0 {
		cfg.Fetch.CircuitBreaker.ResetTimeout = 30 * time.Second
	}

	if cfg.Playback.WaitTimeout == 0 {
		cfg.Playback.WaitTimeout = audio.DefaultWaitTimeout
	}
	if cfg.Playback.FailureDelay == 0 {
		cfg.Playback.FailureDelay = 500 * time.Millisecond
	}

	if cfg.PageTurn.Attempts == 0 {
		cfg.PageTurn.Attempts = 3
	}
	if cfg.PageTurn.Interval == 0 {
		cfg.PageTurn.Interval = 500 * time.Millisecond
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "readaloud"
	}
}

// ---- validation ----

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %g must be within [0, 1]", r))
	}

	// Reading
	if _, err := types.ParseLanguage(cfg.Reading.Language); err != nil {
		errs = append(errs, fmt.Errorf("reading.language: %w", err))
	}
	if cfg.Reading.StartPage < 0 {
		errs = append(errs, fmt.Errorf("reading.start_page %d must be >= 0", cfg.Reading.StartPage))
	}
	if cfg.Reading.AutoStart && cfg.Reading.Document == "" {
		errs = append(errs, errors.New("reading.auto_start requires reading.document"))
	}
	if cfg.Reading.RenderDelay < 0 {
		errs = append(errs, fmt.Errorf("reading.render_delay %s must not be negative", cfg.Reading.RenderDelay))
	}

	// Segmenter
	seg := cfg.Segmenter
	if seg.MinLength < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_length %d must be >= 0", seg.MinLength))
	}
	if seg.MaxLengthZH <= seg.MinLength {
		errs = append(errs, fmt.Errorf("segmenter.max_length_zh %d must exceed min_length %d", seg.MaxLengthZH, seg.MinLength))
	}
	if seg.MaxLengthEN <= seg.MinLength {
		errs = append(errs, fmt.Errorf("segmenter.max_length_en %d must exceed min_length %d", seg.MaxLengthEN, seg.MinLength))
	}

	// Providers
	langsSeen := make(map[types.Language]string, len(cfg.Providers.TTS))
	for _, tag := range sortedKeys(cfg.Providers.TTS) {
		entry := cfg.Providers.TTS[tag]
		prefix := fmt.Sprintf("providers.tts.%s", tag)
		lang, err := types.ParseLanguage(tag)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		} else if prev, dup := langsSeen[lang]; dup {
			errs = append(errs, fmt.Errorf("%s routes the same language as providers.tts.%s", prefix, prev))
		} else {
			langsSeen[lang] = tag
		}
		errs = append(errs, validateEntry("tts", prefix, entry.ProviderEntry)...)
		for i, fb := range entry.Fallbacks {
			errs = append(errs, validateEntry("tts", fmt.Sprintf("%s.fallbacks[%d]", prefix, i), fb)...)
		}
	}
	if _, ok := langsSeen[cfg.Reading.Lang()]; !ok && len(langsSeen) > 0 {
		slog.Warn("no tts provider configured for the reading language; every segment will be skipped",
			"language", cfg.Reading.Language)
	}
	validateProviderName("audio", cfg.Providers.Audio.Name)

	// Fetch
	if cfg.Fetch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("fetch.max_attempts %d must be >= 1", cfg.Fetch.MaxAttempts))
	}
	if cfg.Fetch.BackoffUnit < 0 {
		errs = append(errs, fmt.Errorf("fetch.backoff_unit %s must not be negative", cfg.Fetch.BackoffUnit))
	}
	if cfg.Fetch.MaxInFlight < 1 {
		errs = append(errs, fmt.Errorf("fetch.max_in_flight %d must be >= 1", cfg.Fetch.MaxInFlight))
	}
	if cfg.Fetch.CircuitBreaker.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("fetch.circuit_breaker.max_failures %d must be >= 1", cfg.Fetch.CircuitBreaker.MaxFailures))
	}
	if cfg.Fetch.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("fetch.circuit_breaker.reset_timeout %s must not be negative", cfg.Fetch.CircuitBreaker.ResetTimeout))
	}

	// Playback
	if cfg.Playback.WaitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("playback.wait_timeout %s must be positive", cfg.Playback.WaitTimeout))
	}
	if cfg.Playback.FailureDelay < 0 {
		errs = append(errs, fmt.Errorf("playback.failure_delay %s must not be negative", cfg.Playback.FailureDelay))
	}

	// Page turn
	if cfg.PageTurn.Attempts < 1 {
		errs = append(errs, fmt.Errorf("page_turn.attempts %d must be >= 1", cfg.PageTurn.Attempts))
	}
	if cfg.PageTurn.Interval <= 0 {
		errs = append(errs, fmt.Errorf("page_turn.interval %s must be positive", cfg.PageTurn.Interval))
	}

	// Bookmarks
	if cfg.Bookmarks.PostgresDSN == "" && cfg.Reading.Document != "" {
		slog.Warn("bookmarks.postgres_dsn is empty; reading positions are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateEntry checks the fields every HTTP synthesis endpoint needs.
func validateEntry(kind, prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	} else {
		validateProviderName(kind, e.Name)
	}
	if e.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base_url is required", prefix))
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, e.Timeout))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
