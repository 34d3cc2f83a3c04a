// Package httptts provides a tts.Provider backed by a plain HTTP synthesis
// endpoint that answers one request with one audio clip.
//
// Two API modes are supported:
//
//   - APIModeQuery (default): GET <endpoint>?text=<text>&speaker_id=<voice>.
//     This is the shape of the Coqui TTS server's /api/tts route and of the
//     English read-aloud endpoint.
//
//   - APIModeJSON: POST <endpoint> with a JSON body {"text": "..."} and
//     Content-Type application/json. This is the shape of the Chinese
//     read-aloud endpoint.
//
// Any 2xx response with a non-empty body is a success; the body is returned
// unmodified. Everything else is a failed attempt. The provider makes exactly
// one attempt per call.
//
// Typical usage:
//
//	en, _ := httptts.New("https://tts.example.com/api/tts")
//	zh, _ := httptts.New("https://ttszh.example.com/tts",
//	    httptts.WithAPIMode(httptts.APIModeJSON),
//	    httptts.WithTimeout(5*time.Minute),
//	)
//	audio, err := en.Synthesize(ctx, "Hello world.", types.VoiceProfile{ID: "p335"})
package httptts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// ---- constants ----

const (
	// defaultTimeout bounds a single synthesis request. Long Chinese segments
	// can take minutes on the reference server.
	defaultTimeout = 5 * time.Minute

	defaultSpeakerParam = "speaker_id"

	// defaultMaxResponseBytes caps the audio body read into memory.
	defaultMaxResponseBytes = 64 << 20
)

// ---- APIMode ----

// APIMode selects the request shape sent to the endpoint.
type APIMode string

const (
	// APIModeQuery sends GET with the text in the query string.
	APIModeQuery APIMode = "query"

	// APIModeJSON sends POST with a JSON body.
	APIModeJSON APIMode = "json"
)

// ParseAPIMode converts a config string into an APIMode.
func ParseAPIMode(s string) (APIMode, error) {
	switch APIMode(strings.ToLower(s)) {
	case "", APIModeQuery:
		return APIModeQuery, nil
	case APIModeJSON:
		return APIModeJSON, nil
	default:
		return "", fmt.Errorf("httptts: unknown api mode %q", s)
	}
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Method     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httptts: %s returned status %d", e.Method, e.StatusCode)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// ErrEmptyAudio is returned when the endpoint answers 2xx with no body.
var ErrEmptyAudio = errors.New("httptts: endpoint returned empty audio")

// ErrResponseTooLarge is returned when the audio body exceeds the limit set
// by [WithMaxResponseBytes]. Truncated audio is never returned.
var ErrResponseTooLarge = errors.New("httptts: audio response too large")

// ---- options ----

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIMode sets the request shape. Defaults to APIModeQuery.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 5 minutes.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client. The client's Timeout is kept as is.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithSpeakerParam sets the query parameter carrying the voice ID in
// APIModeQuery. Defaults to "speaker_id".
func WithSpeakerParam(name string) Option {
	return func(p *Provider) {
		p.speakerParam = name
	}
}

// WithMaxResponseBytes caps the audio body size. Defaults to 64 MiB.
func WithMaxResponseBytes(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxResponseBytes = n
		}
	}
}

// WithHeader adds a header to every request (e.g. an API key).
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		p.headers.Set(key, value)
	}
}

// ---- Provider ----

// Provider implements tts.Provider for a single HTTP endpoint.
// It is safe for concurrent use.
type Provider struct {
	endpoint     string
	apiMode      APIMode
	speakerParam string
	headers      http.Header
	httpClient   *http.Client

	maxResponseBytes int64
}

// New creates a Provider for the full endpoint URL (including path). endpoint
// must be an absolute http or https URL.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("httptts: endpoint must not be empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("httptts: parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httptts: endpoint %q must be http or https", endpoint)
	}
	p := &Provider{
		endpoint:         endpoint,
		apiMode:          APIModeQuery,
		speakerParam:     defaultSpeakerParam,
		headers:          make(http.Header),
		maxResponseBytes: defaultMaxResponseBytes,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Endpoint returns the configured endpoint URL.
func (p *Provider) Endpoint() string { return p.endpoint }

// Mode returns the configured API mode.
func (p *Provider) Mode() APIMode { return p.apiMode }

// ---- internal request types ----

// jsonRequest is the body sent in APIModeJSON.
type jsonRequest struct {
	Text string `json:"text"`
}

// ---- Synthesize ----

// Synthesize performs exactly one request and returns the response body.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	req, err := p.newRequest(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	for k, vs := range p.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httptts: %s %s: %w", req.Method, p.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, &StatusError{Method: req.Method, StatusCode: resp.StatusCode}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, p.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("httptts: read audio response: %w", err)
	}
	if int64(len(audio)) > p.maxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, p.maxResponseBytes)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}

func (p *Provider) newRequest(ctx context.Context, text string, voice types.VoiceProfile) (*http.Request, error) {
	if p.apiMode == APIModeJSON {
		data, err := json.Marshal(jsonRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("httptts: marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("httptts: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("httptts: parse endpoint: %w", err)
	}
	params := u.Query()
	params.Set("text", text)
	if voice.ID != "" && p.speakerParam != "" {
		params.Set(p.speakerParam, voice.ID)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("httptts: create request: %w", err)
	}
	return req, nil
}
