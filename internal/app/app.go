// Package app wires the read-aloud subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the document, the
// speech fetcher, the playback driver, the reading session controller and the
// control API; Run serves the API until ctx ends; Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithDocument,
// WithBookmarkStore, WithListener). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/readaloud/internal/api"
	"github.com/MrWong99/readaloud/internal/bookmark"
	"github.com/MrWong99/readaloud/internal/config"
	"github.com/MrWong99/readaloud/internal/document"
	"github.com/MrWong99/readaloud/internal/fetch"
	"github.com/MrWong99/readaloud/internal/health"
	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/resilience"
	"github.com/MrWong99/readaloud/internal/segment"
	"github.com/MrWong99/readaloud/internal/session"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/types"
)

const (
	bookmarkTimeout   = 2 * time.Second
	readHeaderTimeout = 10 * time.Second
	serverStopTimeout = 5 * time.Second
)

// Endpoint is one named synthesis backend. Its name labels the endpoint's
// circuit breaker, usually its base URL.
type Endpoint = resilience.Endpoint

// TTSRoute is the synthesis chain for one language: a primary endpoint, the
// fallbacks tried when it fails, and the voice sent with every request.
type TTSRoute struct {
	Primary   Endpoint
	Fallbacks []Endpoint
	Voice     types.VoiceProfile
}

// Providers holds the provider instances built from config. Populated by
// main.go via the config registry.
type Providers struct {
	TTS   map[types.Language]TTSRoute
	Audio audio.Output
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	doc        *document.Document
	bookmarks  bookmark.Store
	pinger     health.Pinger
	fallbacks  map[types.Language]*resilience.TTSFailover
	fetcher    *fetch.Fetcher
	driver     *audio.Driver
	controller *session.Controller
	api        *api.Server
	server     *http.Server
	listener   net.Listener

	// pendingBookmark holds the newest position not yet saved; the writer
	// goroutine drains it until bookmarksQuit closes.
	pendingBookmark chan bookmark.Bookmark
	bookmarksQuit   chan struct{}
	bookmarksDone   chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDocument injects a document instead of loading reading.document.
func WithDocument(d *document.Document) Option {
	return func(a *App) { a.doc = d }
}

// WithBookmarkStore injects a bookmark store instead of creating one from
// config.
func WithBookmarkStore(s bookmark.Store) Option {
	return func(a *App) { a.bookmarks = s }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves the API on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithLevelVar lets ApplyConfig change the log level of a running process.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil {
		return nil, errors.New("app: an audio output is required")
	}
	if len(providers.TTS) == 0 {
		return nil, errors.New("app: at least one TTS route is required")
	}

	a := &App{
		cfg:             cfg,
		providers:       providers,
		pendingBookmark: make(chan bookmark.Bookmark, 1),
		bookmarksQuit:   make(chan struct{}),
		bookmarksDone:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Document ──────────────────────────────────────────────────────
	if err := a.initDocument(); err != nil {
		return nil, fmt.Errorf("app: init document: %w", err)
	}

	// ── 2. Bookmarks ─────────────────────────────────────────────────────
	if err := a.initBookmarks(ctx); err != nil {
		return nil, fmt.Errorf("app: init bookmarks: %w", err)
	}

	// ── 3. Speech fetcher ────────────────────────────────────────────────
	a.initFetcher()

	// ── 4. Playback driver ───────────────────────────────────────────────
	a.driver = audio.NewDriver(providers.Audio, audio.WithWaitTimeout(cfg.Playback.WaitTimeout))

	// ── 5. Session controller ────────────────────────────────────────────
	a.initController()

	// ── 6. Control API ───────────────────────────────────────────────────
	a.initAPI()

	go a.writeBookmarks()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDocument loads reading.document when no document was injected. A
// config without a document serves posted text only.
func (a *App) initDocument() error {
	if a.doc != nil {
		return nil
	}
	path := a.cfg.Reading.Document
	if path == "" {
		slog.Warn("no document configured, only posted text can be read")
		return nil
	}
	doc, err := document.Load(path,
		document.WithRenderDelay(a.cfg.Reading.RenderDelay),
		document.WithOnPageChange(func(page int) {
			slog.Debug("page displayed", "page", page)
		}),
	)
	if err != nil {
		return err
	}
	a.doc = doc
	slog.Info("loaded document", "name", doc.Name(), "pages", doc.PageCount())
	return nil
}

// initBookmarks opens the PostgreSQL store when a DSN is configured and
// falls back to an in-memory store otherwise.
func (a *App) initBookmarks(ctx context.Context) error {
	if a.bookmarks != nil {
		if p, ok := a.bookmarks.(health.Pinger); ok {
			a.pinger = p
		}
		return nil
	}

	dsn := a.cfg.Bookmarks.PostgresDSN
	if dsn == "" {
		a.bookmarks = bookmark.NewMemoryStore()
		return nil
	}

	store, err := bookmark.Open(ctx, dsn)
	if err != nil {
		return err
	}
	a.bookmarks = store
	a.pinger = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("bookmark store connected")
	return nil
}

// initFetcher puts every route's endpoints behind a failover with one circuit
// breaker per endpoint and registers it with the fetcher.
func (a *App) initFetcher() {
	fc := a.cfg.Fetch
	a.fetcher = fetch.New(
		fetch.WithRetryPolicy(resilience.RetryPolicy{
			MaxAttempts: fc.MaxAttempts,
			Backoff:     resilience.QuadraticBackoff(fc.BackoffUnit),
		}),
		fetch.WithMaxInFlight(fc.MaxInFlight),
		fetch.WithMetrics(a.metrics),
	)

	breakers := resilience.CircuitBreakerConfig{
		MaxFailures:  fc.CircuitBreaker.MaxFailures,
		ResetTimeout: fc.CircuitBreaker.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "endpoint", name, "from", from, "to", to)
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}

	a.fallbacks = make(map[types.Language]*resilience.TTSFailover, len(a.providers.TTS))
	for _, lang := range sortedLanguages(a.providers.TTS) {
		route := a.providers.TTS[lang]
		fb := resilience.NewTTSFailover(breakers, route.Primary, route.Fallbacks...)
		a.fallbacks[lang] = fb
		a.fetcher.Route(lang, fetch.Route{
			Name:     route.Primary.Name,
			Provider: fb,
			Voice:    route.Voice,
		})
		slog.Info("tts route registered", "language", lang, "endpoints", fb.Names())
	}
}

func (a *App) initController() {
	rc := a.cfg.Reading
	sc := a.cfg.Segmenter

	segOpts := []segment.Option{segment.WithMinLength(sc.MinLength)}
	if sc.MaxLengthZH > 0 {
		segOpts = append(segOpts, segment.WithMaxLength(types.Chinese, sc.MaxLengthZH))
	}
	if sc.MaxLengthEN > 0 {
		segOpts = append(segOpts, segment.WithMaxLength(types.English, sc.MaxLengthEN))
	}

	// A nil *document.Document must not become a non-nil interface.
	var pages session.PageSource
	if a.doc != nil {
		pages = a.doc
	}

	a.controller = session.New(a.fetcher, a.driver, pages,
		session.WithSegmenter(segment.New(segOpts...)),
		session.WithLanguage(rc.Lang()),
		session.WithAutoPageTurn(rc.AutoPageTurnEnabled()),
		session.WithFailureDelay(a.cfg.Playback.FailureDelay),
		session.WithPageTurnPolicy(a.cfg.PageTurn.Attempts, a.cfg.PageTurn.Interval),
		session.WithEventHandler(a.recordBookmark),
		session.WithMetrics(a.metrics),
	)
}

func (a *App) initAPI() {
	checkers := make([]health.Checker, 0, len(a.fallbacks)+1)
	for _, lang := range sortedLanguages(a.fallbacks) {
		checkers = append(checkers, health.Breakers("tts_"+string(lang), a.fallbacks[lang].BreakerStates))
	}
	if a.pinger != nil {
		checkers = append(checkers, health.Ping("bookmarks", a.pinger, true))
	}

	opts := []api.Option{
		api.WithHealth(health.New(checkers...)),
		api.WithMetrics(a.metrics),
		api.WithMetricsHandler(observe.MetricsHandler()),
		api.WithStartPage(a.startPage),
	}
	if a.doc != nil {
		opts = append(opts, api.WithPages(a.doc))
	}
	a.api = api.New(a.controller, opts...)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// ─── Bookmarks ───────────────────────────────────────────────────────────────

// recordBookmark queues the reading position whenever the session turns a
// page or ends. It runs on the session goroutine, so the save itself happens
// in writeBookmarks.
func (a *App) recordBookmark(e session.Event) {
	switch e.Kind {
	case session.EventPageTurned, session.EventFinished, session.EventStopped:
	default:
		return
	}
	if a.doc == nil || e.Page < 1 {
		return
	}
	a.queueBookmark(bookmark.Bookmark{Document: a.doc.Name(), Page: e.Page})
}

// queueBookmark never blocks. A position still waiting to be saved is
// replaced by b.
func (a *App) queueBookmark(b bookmark.Bookmark) {
	for {
		select {
		case a.pendingBookmark <- b:
			return
		default:
		}
		select {
		case stale := <-a.pendingBookmark:
			slog.Debug("bookmark superseded before save", "document", stale.Document, "page", stale.Page)
		default:
		}
	}
}

// writeBookmarks saves queued positions one at a time. On quit it saves the
// last pending one and returns.
func (a *App) writeBookmarks() {
	defer close(a.bookmarksDone)
	for {
		select {
		case b := <-a.pendingBookmark:
			a.saveBookmark(b)
		case <-a.bookmarksQuit:
			select {
			case b := <-a.pendingBookmark:
				a.saveBookmark(b)
			default:
			}
			return
		}
	}
}

func (a *App) saveBookmark(b bookmark.Bookmark) {
	ctx, cancel := context.WithTimeout(context.Background(), bookmarkTimeout)
	defer cancel()
	if err := a.bookmarks.Save(ctx, b); err != nil {
		slog.Warn("failed to save bookmark", "document", b.Document, "page", b.Page, "err", err)
		return
	}
	slog.Debug("bookmark saved", "document", b.Document, "page", b.Page)
}

// startPage is the page a reading session starts on when the caller names
// none: the bookmark for the document, then reading.start_page.
func (a *App) startPage(ctx context.Context) int {
	if a.doc != nil {
		b, err := a.bookmarks.Get(ctx, a.doc.Name())
		if err != nil {
			slog.Warn("failed to load bookmark", "document", a.doc.Name(), "err", err)
		} else if b != nil && b.Page <= a.doc.PageCount() {
			return b.Page
		}
	}
	return a.cfg.Reading.StartPage
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the reading session controller.
func (a *App) Controller() *session.Controller { return a.controller }

// Document returns the loaded document, or nil when none is configured.
func (a *App) Document() *document.Document { return a.doc }

// Handler returns the control API handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API and blocks until ctx is cancelled or the server
// fails. With reading.auto_start set, reading begins once the server is
// listening. Run returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", a.server.Addr); err != nil {
			return fmt.Errorf("app: listen on %q: %w", a.server.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("control API listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		defer cancel()
		return a.server.Shutdown(stopCtx)
	})

	if a.cfg.Reading.AutoStart && a.doc != nil {
		page := a.startPage(ctx)
		if page < 1 {
			page = 1
		}
		if err := a.controller.StartPage(page); err != nil {
			slog.Warn("auto start failed", "page", page, "err", err)
		} else {
			slog.Info("reading started", "document", a.doc.Name(), "page", page)
		}
	}

	return g.Wait()
}

// ApplyConfig applies the live-reloadable parts of a config change. Fields
// listed in diff.RestartRequired are only logged.
func (a *App) ApplyConfig(newCfg *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.LanguageChanged {
		if err := a.controller.SetLanguage(newCfg.Reading.Lang()); err != nil {
			slog.Warn("failed to apply language change", "err", err)
		}
	}
	if diff.AutoPageTurnChanged {
		a.controller.SetAutoPageTurn(diff.NewAutoPageTurn)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the reading session, then tears down all subsystems in
// init order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.controller.Close(ctx); err != nil {
			slog.Warn("session close error", "err", err)
			shutdownErr = err
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("server shutdown error", "err", err)
		}

		// The final position must reach the store before it closes.
		close(a.bookmarksQuit)
		select {
		case <-a.bookmarksDone:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while saving bookmark")
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func sortedLanguages[V any](m map[types.Language]V) []types.Language {
	out := make([]types.Language, 0, len(m))
	for lang := range m {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
