// Package session runs reading sessions: it walks the segments of a page in
// order, fetches each one's audio (prefetching the next while the current one
// plays), drives the audio player, and continues onto the following page when
// a page is done.
//
// A [Controller] owns at most one active session. Its published [State] is
// written only by the controller and can be read by any number of observers
// through [Controller.State] or [Controller.Subscribe].
//
// Every run has its own context and prefetch cache. Stop cancels the context,
// stops the player and closes the cache; a superseded run checks its identity
// under the controller mutex before every publish or play, so results that
// arrive after a stop are dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/prefetch"
	"github.com/MrWong99/readaloud/internal/resilience"
	"github.com/MrWong99/readaloud/internal/segment"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/types"
)

var (
	// ErrSessionActive is returned by Start* while a session is running.
	ErrSessionActive = errors.New("session: a reading session is already active")

	// ErrNoPageSource is returned by page operations on a controller built
	// without a PageSource.
	ErrNoPageSource = errors.New("session: no page source")

	// ErrPageTurn describes a failed automatic page turn.
	ErrPageTurn = errors.New("session: next page did not become available")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: controller closed")
)

// ---- collaborators ----

// Fetcher resolves a segment to audio bytes. *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, seg segment.TextSegment) ([]byte, error)
}

// Player plays one buffer at a time. *audio.Driver satisfies it.
type Player interface {
	Play(ctx context.Context, data []byte) error
	Pause() bool
	Resume() bool
	Stop()
	Wait(ctx context.Context) (audio.Outcome, error)
}

// PageSource is the paged document being read. Pages are 1-based.
//
// RequestPageChange is fire-and-forget: the controller confirms the change by
// polling CurrentPage and PageText.
type PageSource interface {
	CurrentPage() int
	PageCount() int
	PageText(page int) (string, bool)
	RequestPageChange(page int)
}

var _ Player = (*audio.Driver)(nil)

// ---- defaults ----

const (
	defaultFailureDelay     = 500 * time.Millisecond
	defaultPageTurnAttempts = 3
	defaultPageTurnInterval = 500 * time.Millisecond
)

// ---- options ----

// Option configures a Controller.
type Option func(*Controller)

// WithSegmenter replaces the default segmenter.
func WithSegmenter(s *segment.Segmenter) Option {
	return func(c *Controller) { c.seg = s }
}

// WithLanguage sets the initial session language. Defaults to Chinese.
func WithLanguage(lang types.Language) Option {
	return func(c *Controller) {
		if lang.IsValid() {
			c.state.Language = lang
		}
	}
}

// WithAutoPageTurn sets the initial auto-page-turn toggle. Defaults to on.
func WithAutoPageTurn(on bool) Option {
	return func(c *Controller) { c.state.AutoPageTurn = on }
}

// WithFailureDelay sets the pause after a segment whose audio could not be
// fetched.
func WithFailureDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.failureDelay = d
		}
	}
}

// WithPageTurnPolicy sets how often, and how far apart, the next page is
// polled after a page-turn request.
func WithPageTurnPolicy(attempts int, interval time.Duration) Option {
	return func(c *Controller) {
		if attempts > 0 {
			c.turnAttempts = attempts
		}
		if interval >= 0 {
			c.turnInterval = interval
		}
	}
}

// WithEventHandler adds a handler that receives every session event. Handlers
// run on the session goroutine and must not block.
func WithEventHandler(h func(Event)) Option {
	return func(c *Controller) {
		if h != nil {
			c.handlers = append(c.handlers, h)
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// ---- Controller ----

// run is one reading session from Start to its end.
type run struct {
	id     string
	lang   types.Language
	ctx    context.Context
	cancel context.CancelFunc
	cache  *prefetch.Cache

	// Guarded by Controller.mu.
	paused  bool
	resumed chan struct{} // closed on Resume
}

// Controller is safe for concurrent use.
type Controller struct {
	fetcher Fetcher
	player  Player
	pages   PageSource

	seg          *segment.Segmenter
	metrics      *observe.Metrics
	handlers     []func(Event)
	failureDelay time.Duration
	turnAttempts int
	turnInterval time.Duration
	sleep        func(context.Context, time.Duration) error

	mu         sync.Mutex
	state      State
	run        *run
	subs       map[int]chan State
	nextSub    int
	sleepTimer *time.Timer
	sleepGen   int
	closed     bool

	wg sync.WaitGroup
}

// New creates an idle Controller. pages may be nil, in which case sessions
// read only the text they are given and never turn pages.
func New(fetcher Fetcher, player Player, pages PageSource, opts ...Option) *Controller {
	c := &Controller{
		fetcher:      fetcher,
		player:       player,
		pages:        pages,
		failureDelay: defaultFailureDelay,
		turnAttempts: defaultPageTurnAttempts,
		turnInterval: defaultPageTurnInterval,
		sleep:        resilience.Sleep,
		subs:         make(map[int]chan State),
		state: State{
			Phase:        PhaseIdle,
			Language:     types.Chinese,
			AutoPageTurn: true,
			Status:       StatusReady,
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.seg == nil {
		c.seg = segment.New()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// StartReading begins a session over text in lang. The reading page is the
// page source's current page, if there is a page source.
//
// It returns ErrSessionActive if a session is running. Text that yields no
// segments ends the session at once with status "nothing to read".
func (c *Controller) StartReading(text string, lang types.Language) error {
	if !lang.IsValid() {
		return fmt.Errorf("session: start reading: unsupported language %q", lang)
	}
	page := 0
	if c.pages != nil {
		page = c.pages.CurrentPage()
	}
	return c.start(text, lang, page)
}

// StartPage begins a session at page in the current language. A page without
// text falls back to page 1.
func (c *Controller) StartPage(page int) error {
	if c.pages == nil {
		return ErrNoPageSource
	}
	text, ok := c.pages.PageText(page)
	if !ok || text == "" {
		slog.Info("session: page has no text, starting from the first page", "page", page)
		page = 1
		text, _ = c.pages.PageText(page)
	}
	c.mu.Lock()
	lang := c.state.Language
	c.mu.Unlock()
	return c.start(text, lang, page)
}

func (c *Controller) start(text string, lang types.Language, page int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.run != nil {
		c.mu.Unlock()
		return ErrSessionActive
	}

	segs := c.seg.Segment(text, lang)
	if len(segs) == 0 {
		c.resetStateLocked(StatusNothingToRead)
		c.state.Language = lang
		c.state.ReadingPage = page
		c.publishLocked()
		c.mu.Unlock()
		c.emit(Event{Kind: EventFinished, Page: page, Status: StatusNothingToRead})
		return nil
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(observe.WithSession(context.Background(), id))
	r := &run{
		id:      id,
		lang:    lang,
		ctx:     ctx,
		cancel:  cancel,
		resumed: make(chan struct{}),
	}
	r.cache = prefetch.New(c.fetcher.Fetch, prefetch.WithMetrics(c.metrics))
	c.run = r

	c.state = State{
		SessionID:     r.id,
		Phase:         PhasePlaying,
		Language:      lang,
		AutoPageTurn:  c.state.AutoPageTurn,
		ReadingPage:   page,
		TotalSegments: len(segs),
		Status:        StatusReading,
		SleepDeadline: c.state.SleepDeadline,
	}
	c.publishLocked()
	c.metrics.ActiveSessions.Add(ctx, 1)

	c.wg.Add(1)
	c.mu.Unlock()

	slog.Info("session: reading started",
		"session_id", r.id,
		"language", lang,
		"page", page,
		"segments", len(segs))
	go c.loop(r, segs, page)
	return nil
}

// Pause freezes the session. In-flight prefetch keeps running. It returns
// false unless a session is playing.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.run
	if r == nil || r.paused {
		return false
	}
	r.paused = true
	r.resumed = make(chan struct{})
	c.player.Pause()
	c.state.Phase = PhasePaused
	c.state.Status = StatusPaused
	c.publishLocked()
	return true
}

// Resume continues a paused session where it left off. It returns false
// unless a session is paused.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.run
	if r == nil || !r.paused {
		return false
	}
	r.paused = false
	close(r.resumed)
	c.player.Resume()
	c.state.Phase = PhasePlaying
	c.state.Status = StatusReading
	c.publishLocked()
	return true
}

// Stop ends the active session, if any, and resets the published state to
// idle. It is safe to call from any state and returns without waiting for the
// session goroutine; use Close for that.
func (c *Controller) Stop() {
	c.stopWith(StatusStopped, nil)
}

func (c *Controller) stopWith(status string, cause error) {
	c.mu.Lock()
	r := c.run
	if r == nil {
		c.mu.Unlock()
		return
	}
	page := c.state.ReadingPage
	c.endRunLocked(r)
	c.resetStateLocked(status)
	if cause != nil {
		c.state.LastError = cause.Error()
	}
	c.publishLocked()
	// Under c.mu, so a session started right after cannot have its first
	// Play cut off by this Stop.
	c.player.Stop()
	c.mu.Unlock()

	slog.Info("session: reading stopped", "session_id", r.id, "status", status)
	c.emit(Event{Kind: EventStopped, SessionID: r.id, Page: page, Status: status, Err: cause})
}

// endRunLocked detaches r and cancels everything it started. c.mu must be
// held.
func (c *Controller) endRunLocked(r *run) {
	c.run = nil
	r.cancel()
	r.cache.Close()
	c.metrics.ActiveSessions.Add(context.Background(), -1)
}

// resetStateLocked zeroes the per-session fields and keeps the settings.
// c.mu must be held.
func (c *Controller) resetStateLocked(status string) {
	c.state = State{
		Phase:         PhaseIdle,
		Language:      c.state.Language,
		AutoPageTurn:  c.state.AutoPageTurn,
		ReadingPage:   c.state.ReadingPage,
		Status:        status,
		SleepDeadline: c.state.SleepDeadline,
	}
}

// SetLanguage changes the session language. Changing it while a session is
// active stops that session; reading must be started again.
func (c *Controller) SetLanguage(lang types.Language) error {
	if !lang.IsValid() {
		return fmt.Errorf("session: set language: unsupported language %q", lang)
	}
	c.mu.Lock()
	changed := c.state.Language != lang
	active := c.run != nil
	if !changed {
		c.mu.Unlock()
		return nil
	}
	c.state.Language = lang
	if !active {
		c.publishLocked()
	}
	c.mu.Unlock()

	if active {
		c.stopWith(StatusLanguageSwap, nil)
	}
	return nil
}

// SetAutoPageTurn toggles automatic continuation onto the next page. It takes
// effect at the end of the current page.
func (c *Controller) SetAutoPageTurn(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.AutoPageTurn == on {
		return
	}
	c.state.AutoPageTurn = on
	c.publishLocked()
}

// GoToReadingPage asks the page source to show the page being read. It
// reports whether a request was made.
func (c *Controller) GoToReadingPage() bool {
	if c.pages == nil {
		return false
	}
	c.mu.Lock()
	page := c.state.ReadingPage
	c.mu.Unlock()
	if page <= 0 {
		return false
	}
	c.pages.RequestPageChange(page)
	return true
}

// State returns a snapshot of the published state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel that receives the current state at once and
// then every change. Slow readers only see the latest state. Call cancel to
// unsubscribe; the channel is then closed.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	ch <- c.state
	if c.closed {
		close(ch)
		c.mu.Unlock()
		return ch, func() {}
	}
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// publishLocked pushes the state to every subscriber, replacing any value
// they have not read yet. c.mu must be held.
func (c *Controller) publishLocked() {
	s := c.state
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (c *Controller) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, h := range c.handlers {
		h(e)
	}
}

// Close stops any session, closes all subscriptions and waits for session
// goroutines to return or ctx to end.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Stop()

	c.mu.Lock()
	if c.sleepTimer != nil {
		c.sleepTimer.Stop()
		c.sleepTimer = nil
	}
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: close: %w", ctx.Err())
	}
}
