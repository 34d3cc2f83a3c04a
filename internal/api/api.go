// Package api exposes the reading session over HTTP.
//
// The control API is plain JSON: commands are POST/PUT requests that answer
// with the resulting [session.State], and GET /v1/state/stream pushes every
// state change over a websocket so a UI can render progress live. Commands
// that are invalid in the current state answer 409 Conflict, malformed input
// 400 Bad Request; both carry a JSON body {"error": "..."}.
//
// Typical usage:
//
//	srv := api.New(ctrl, api.WithPages(doc), api.WithHealth(health.New()))
//	http.ListenAndServe(":8080", srv.Handler())
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/MrWong99/readaloud/internal/health"
	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/session"
	"github.com/MrWong99/readaloud/pkg/types"
)

// Reader is the session surface driven by the API.
type Reader interface {
	StartReading(text string, lang types.Language) error
	StartPage(page int) error
	Pause() bool
	Resume() bool
	Stop()
	SetLanguage(lang types.Language) error
	SetAutoPageTurn(on bool)
	GoToReadingPage() bool
	StartSleepTimer(d time.Duration) error
	CancelSleepTimer() bool
	State() session.State
	Subscribe() (<-chan session.State, func())
}

// Pages is the document surface used for navigation.
type Pages interface {
	PageCount() int
	CurrentPage() int
	PageText(page int) (string, bool)
	SetPage(page int) error
}

var _ Reader = (*session.Controller)(nil)

// maxBodyBytes bounds request bodies; posted text is a page, not a book.
const maxBodyBytes = 1 << 20

// streamWriteTimeout bounds a single websocket write.
const streamWriteTimeout = 10 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithPages enables the page routes and page-based reading.
func WithPages(p Pages) Option {
	return func(s *Server) { s.pages = p }
}

// WithStartPage sets how the page is chosen when POST /v1/reading names
// neither text nor page, e.g. from a saved bookmark. The default is the
// page currently shown.
func WithStartPage(fn func(ctx context.Context) int) Option {
	return func(s *Server) { s.startPage = fn }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics recorded by the request middleware. Defaults
// to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithOriginPatterns allows cross-origin websocket clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server routes control requests to a Reader.
type Server struct {
	reader         Reader
	pages          Pages
	startPage      func(ctx context.Context) int
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	origins        []string

	handler http.Handler
}

// New builds the server and its routes.
func New(reader Reader, opts ...Option) *Server {
	s := &Server{reader: reader}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/state/stream", s.handleStream)

	mux.HandleFunc("POST /v1/reading", s.handleStart)
	mux.HandleFunc("POST /v1/reading/pause", s.handlePause)
	mux.HandleFunc("POST /v1/reading/resume", s.handleResume)
	mux.HandleFunc("POST /v1/reading/stop", s.handleStop)
	mux.HandleFunc("POST /v1/reading/goto", s.handleGoTo)

	mux.HandleFunc("PUT /v1/language", s.handleLanguage)
	mux.HandleFunc("PUT /v1/auto-page-turn", s.handleAutoPageTurn)

	mux.HandleFunc("POST /v1/sleep-timer", s.handleSleepStart)
	mux.HandleFunc("DELETE /v1/sleep-timer", s.handleSleepCancel)

	mux.HandleFunc("GET /v1/pages", s.handlePages)
	mux.HandleFunc("GET /v1/pages/{page}", s.handlePage)
	mux.HandleFunc("PUT /v1/pages/current", s.handleSetPage)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler with tracing and request metrics applied.
func (s *Server) Handler() http.Handler { return s.handler }
