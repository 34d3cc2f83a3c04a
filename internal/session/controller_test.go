package session_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/segment"
	"github.com/MrWong99/readaloud/internal/session"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/audio/mock"
	"github.com/MrWong99/readaloud/pkg/types"
)

// ---- fakes ----

// fakeFetcher returns the segment text as audio. Texts listed in fail error
// out; texts listed in block wait for their channel to close.
type fakeFetcher struct {
	fail      map[string]error
	block     map[string]chan struct{}
	ignoreCtx bool // a blocked fetch keeps running after cancellation

	mu    sync.Mutex
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, seg segment.TextSegment) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, seg.Text)
	f.mu.Unlock()

	if ch := f.block[seg.Text]; ch != nil {
		if f.ignoreCtx {
			<-ch
		} else {
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err := f.fail[seg.Text]; err != nil {
		return nil, err
	}
	return []byte(seg.Text), nil
}

func (f *fakeFetcher) called(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.calls, text)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakePages is an in-memory PageSource. Page changes apply immediately;
// emptyPolls makes PageText return "" for the first n calls for a page.
type fakePages struct {
	mu         sync.Mutex
	texts      map[int]string
	count      int
	current    int
	emptyPolls map[int]int
	textCalls  map[int]int
	requests   []int
}

func newFakePages(count, current int, texts map[int]string) *fakePages {
	return &fakePages{
		texts:      texts,
		count:      count,
		current:    current,
		emptyPolls: make(map[int]int),
		textCalls:  make(map[int]int),
	}
}

func (p *fakePages) CurrentPage() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *fakePages) PageCount() int { return p.count }

func (p *fakePages) PageText(page int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.textCalls[page]++
	if p.emptyPolls[page] > 0 {
		p.emptyPolls[page]--
		return "", false
	}
	t, ok := p.texts[page]
	return t, ok
}

func (p *fakePages) RequestPageChange(page int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, page)
	if page >= 1 && page <= p.count {
		p.current = page
	}
}

func (p *fakePages) calls(page int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.textCalls[page]
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []session.Event
}

func (r *recorder) handle(e session.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofKind(k session.EventKind) []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// gatedStopPlayer holds its first Stop until release is closed.
type gatedStopPlayer struct {
	*audio.Driver
	stopping chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (p *gatedStopPlayer) Stop() {
	p.once.Do(func() {
		close(p.stopping)
		<-p.release
	})
	p.Driver.Stop()
}

// ---- helpers ----

var texts = []string{
	"The first line here.",
	"The second line here.",
	"The third line here.",
}

func joined() string { return strings.Join(texts, " ") }

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newController(t *testing.T, f session.Fetcher, p session.Player, pages session.PageSource, opts ...session.Option) *session.Controller {
	t.Helper()
	base := []session.Option{
		session.WithMetrics(testMetrics(t)),
		session.WithSegmenter(segment.New(segment.WithMaxLength(types.English, 25))),
		session.WithLanguage(types.English),
		session.WithFailureDelay(time.Millisecond),
		session.WithPageTurnPolicy(3, 5*time.Millisecond),
	}
	c := session.New(f, p, pages, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitStatus(t *testing.T, c *session.Controller, status string) session.State {
	t.Helper()
	eventually(t, "status "+status, func() bool { return c.State().Status == status })
	return c.State()
}

func playedTexts(out *mock.Output) []string {
	var s []string
	for _, b := range out.Played() {
		s = append(s, string(b))
	}
	return s
}

// ---- tests ----

func TestStartReading_PlaysSegmentsInOrder(t *testing.T) {
	out := &mock.Output{}
	f := &fakeFetcher{}
	rec := &recorder{}
	c := newController(t, f, audio.NewDriver(out), nil, session.WithEventHandler(rec.handle))

	if err := c.StartReading(joined(), types.English); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	st := waitStatus(t, c, session.StatusFinished)

	if st.Phase != session.PhaseIdle || st.Progress != 1 || st.IsPlaying() {
		t.Errorf("final state = %+v", st)
	}
	if got := playedTexts(out); !slices.Equal(got, texts) {
		t.Errorf("played %q, want %q", got, texts)
	}
	played := rec.ofKind(session.EventSegmentPlayed)
	for i, e := range played {
		if e.Index != i {
			t.Errorf("played event %d has index %d", i, e.Index)
		}
	}
	if len(played) != 3 || len(rec.ofKind(session.EventFinished)) != 1 {
		t.Errorf("events: %d played, %d finished", len(played), len(rec.ofKind(session.EventFinished)))
	}
}

func TestStartReading_RejectsSecondSession(t *testing.T) {
	out := &mock.Output{Manual: true}
	c := newController(t, &fakeFetcher{}, audio.NewDriver(out), nil)

	if err := c.StartReading(joined(), types.English); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	before := c.State()
	if err := c.StartReading("Something else entirely.", types.English); !errors.Is(err, session.ErrSessionActive) {
		t.Fatalf("second StartReading = %v, want ErrSessionActive", err)
	}
	if after := c.State(); after.SessionID != before.SessionID || after.TotalSegments != before.TotalSegments {
		t.Error("rejected start changed the session")
	}
}

func TestStartReading_NothingToRead(t *testing.T) {
	f := &fakeFetcher{}
	rec := &recorder{}
	c := newController(t, f, audio.NewDriver(&mock.Output{}), nil, session.WithEventHandler(rec.handle))

	if err := c.StartReading(" \n\t ", types.English); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	st := c.State()
	if st.Phase != session.PhaseIdle || st.Status != session.StatusNothingToRead {
		t.Errorf("state = %+v", st)
	}
	if f.callCount() != 0 {
		t.Error("fetched audio for empty text")
	}
	if len(rec.ofKind(session.EventFinished)) != 1 {
		t.Error("no finished event")
	}
	// A new session can start right away.
	if err := c.StartReading(texts[0], types.English); err != nil {
		t.Errorf("StartReading after empty text: %v", err)
	}
}

func TestStartReading_InvalidLanguage(t *testing.T) {
	c := newController(t, &fakeFetcher{}, audio.NewDriver(&mock.Output{}), nil)
	if err := c.StartReading("hello there friend.", types.Language("fr")); err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestFetchFailure_SkipsSegment(t *testing.T) {
	out := &mock.Output{}
	f := &fakeFetcher{fail: map[string]error{texts[1]: errors.New("endpoint down")}}
	rec := &recorder{}
	c := newController(t, f, audio.NewDriver(out), nil, session.WithEventHandler(rec.handle))

	_ = c.StartReading(joined(), types.English)
	st := waitStatus(t, c, session.StatusFinished)

	if got, want := playedTexts(out), []string{texts[0], texts[2]}; !slices.Equal(got, want) {
		t.Errorf("played %q, want %q", got, want)
	}
	if st.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", st.Skipped)
	}
	skipped := rec.ofKind(session.EventSegmentSkipped)
	if len(skipped) != 1 || skipped[0].Index != 1 || skipped[0].Err == nil {
		t.Errorf("skip events = %+v", skipped)
	}
}

func TestPauseResume(t *testing.T) {
	out := &mock.Output{Manual: true}
	f := &fakeFetcher{}
	c := newController(t, f, audio.NewDriver(out), nil)

	if c.Pause() {
		t.Error("Pause while idle returned true")
	}
	_ = c.StartReading(joined(), types.English)
	eventually(t, "first segment playing", func() bool { return out.StartCount() == 1 })

	if !c.Pause() {
		t.Fatal("Pause returned false")
	}
	if c.Pause() {
		t.Error("second Pause returned true")
	}
	st := c.State()
	if st.Phase != session.PhasePaused || !st.IsPaused() || !st.IsPlaying() {
		t.Errorf("state after Pause = %+v", st)
	}
	if !out.Last().Paused() {
		t.Error("player not paused")
	}
	// Prefetch of the next segment continues while paused.
	eventually(t, "prefetch of segment 1", func() bool { return f.called(texts[1]) })

	if !c.Resume() {
		t.Fatal("Resume returned false")
	}
	if c.Resume() {
		t.Error("second Resume returned true")
	}
	if out.Last().Paused() {
		t.Error("player not resumed")
	}

	for n := 1; n <= 3; n++ {
		eventually(t, "segment playing", func() bool { return out.StartCount() == n })
		out.Last().Finish()
	}
	waitStatus(t, c, session.StatusFinished)
}

func TestPause_BeforePlaybackHoldsNextSegment(t *testing.T) {
	out := &mock.Output{}
	gate := make(chan struct{})
	f := &fakeFetcher{block: map[string]chan struct{}{texts[0]: gate}}
	c := newController(t, f, audio.NewDriver(out), nil)

	_ = c.StartReading(joined(), types.English)
	eventually(t, "first fetch", func() bool { return f.called(texts[0]) })
	c.Pause()
	close(gate)

	time.Sleep(50 * time.Millisecond)
	if out.StartCount() != 0 {
		t.Fatal("played while paused")
	}
	c.Resume()
	waitStatus(t, c, session.StatusFinished)
	if got := playedTexts(out); !slices.Equal(got, texts) {
		t.Errorf("played %q", got)
	}
}

func TestStop_DuringFetchDiscardsResult(t *testing.T) {
	out := &mock.Output{}
	release := make(chan struct{})
	f := &fakeFetcher{
		block:     map[string]chan struct{}{texts[0]: release},
		ignoreCtx: true,
	}
	rec := &recorder{}
	c := newController(t, f, audio.NewDriver(out), nil, session.WithEventHandler(rec.handle))

	_ = c.StartReading(joined(), types.English)
	eventually(t, "fetch in flight", func() bool { return f.called(texts[0]) })

	c.Stop()
	st := c.State()
	if st.Phase != session.PhaseIdle || st.Progress != 0 || st.CurrentText != "" || st.Status != session.StatusStopped {
		t.Errorf("state right after Stop = %+v", st)
	}

	close(release)
	time.Sleep(30 * time.Millisecond)
	if out.StartCount() != 0 {
		t.Errorf("stale audio played: %q", playedTexts(out))
	}
	if len(rec.ofKind(session.EventStopped)) != 1 {
		t.Error("no stopped event")
	}
}

func TestStop_SupersededRunNeverPlays(t *testing.T) {
	out := &mock.Output{}
	release := make(chan struct{})
	f := &fakeFetcher{
		block:     map[string]chan struct{}{texts[0]: release},
		ignoreCtx: true,
	}
	c := newController(t, f, audio.NewDriver(out), nil)

	_ = c.StartReading(texts[0], types.English)
	eventually(t, "first run fetching", func() bool { return f.called(texts[0]) })
	c.Stop()

	if err := c.StartReading(texts[1], types.English); err != nil {
		t.Fatalf("second StartReading: %v", err)
	}
	waitStatus(t, c, session.StatusFinished)
	close(release)
	time.Sleep(30 * time.Millisecond)

	if got := playedTexts(out); !slices.Equal(got, []string{texts[1]}) {
		t.Errorf("played %q, want only the second run", got)
	}
}

func TestStop_DuringPlayback(t *testing.T) {
	out := &mock.Output{Manual: true}
	c := newController(t, &fakeFetcher{}, audio.NewDriver(out), nil)

	_ = c.StartReading(joined(), types.English)
	eventually(t, "playing", func() bool { return out.StartCount() == 1 })
	c.Pause()
	c.Stop()

	if !out.Last().Ended() {
		t.Error("stream still playing after Stop")
	}
	if st := c.State(); st.Phase != session.PhaseIdle {
		t.Errorf("phase = %v", st.Phase)
	}
	c.Stop() // idempotent
	if c.Resume() {
		t.Error("Resume after Stop returned true")
	}
}

func TestStop_CompletesBeforeNextSessionPlays(t *testing.T) {
	out := &mock.Output{Manual: true}
	p := &gatedStopPlayer{Driver: audio.NewDriver(out), stopping: make(chan struct{}), release: make(chan struct{})}
	c := newController(t, &fakeFetcher{}, p, nil)

	_ = c.StartReading(joined(), types.English)
	eventually(t, "playing", func() bool { return out.StartCount() == 1 })

	go c.Stop()
	<-p.stopping

	started := make(chan error, 1)
	go func() { started <- c.StartReading("A new line to read.", types.English) }()
	select {
	case err := <-started:
		close(p.release)
		t.Fatalf("StartReading returned %v while the old session was still stopping", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(p.release)
	if err := <-started; err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	eventually(t, "new session playing", func() bool { return out.StartCount() == 2 })
	if out.Last().Ended() {
		t.Error("the new session's stream was stopped by the old session's Stop")
	}
}

func TestPlaybackTimeout_MovesOn(t *testing.T) {
	out := &mock.Output{Manual: true}
	rec := &recorder{}
	driver := audio.NewDriver(out, audio.WithWaitTimeout(20*time.Millisecond))
	c := newController(t, &fakeFetcher{}, driver, nil, session.WithEventHandler(rec.handle))

	_ = c.StartReading(joined(), types.English)
	waitStatus(t, c, session.StatusFinished)

	if out.StartCount() != 3 {
		t.Errorf("played %d segments, want 3", out.StartCount())
	}
	failed := rec.ofKind(session.EventPlaybackFailed)
	if len(failed) != 3 || !errors.Is(failed[0].Err, audio.ErrWaitTimeout) {
		t.Errorf("playback_failed events = %+v", failed)
	}
}

func TestAutoPageTurn_PollsUntilTextAppears(t *testing.T) {
	pages := newFakePages(5, 3, map[int]string{
		3: "Page three is here.",
		4: "Page four is here.",
		5: "Page five is here.",
	})
	pages.emptyPolls[4] = 1
	out := &mock.Output{}
	rec := &recorder{}
	c := newController(t, &fakeFetcher{}, audio.NewDriver(out), pages, session.WithEventHandler(rec.handle))

	states, cancel := c.Subscribe()
	defer cancel()

	if err := c.StartPage(3); err != nil {
		t.Fatalf("StartPage: %v", err)
	}

	var sawActive bool
	for st := range states {
		if st.Status == session.StatusFinished {
			if st.Progress != 1 || st.ReadingPage != 5 {
				t.Errorf("final state = %+v", st)
			}
			break
		}
		if st.IsPlaying() {
			sawActive = true
		} else if sawActive {
			t.Fatalf("session went idle mid-read: %+v", st)
		}
	}

	want := []string{"Page three is here.", "Page four is here.", "Page five is here."}
	if got := playedTexts(out); !slices.Equal(got, want) {
		t.Errorf("played %q, want %q", got, want)
	}
	if pages.calls(4) != 2 {
		t.Errorf("PageText(4) polled %d times, want 2", pages.calls(4))
	}
	turned := rec.ofKind(session.EventPageTurned)
	if len(turned) != 2 || turned[0].Page != 4 || turned[1].Page != 5 {
		t.Errorf("page_turned events = %+v", turned)
	}
}

func TestAutoPageTurn_FailsWhenTextNeverArrives(t *testing.T) {
	pages := newFakePages(5, 3, map[int]string{3: "Page three is here."})
	rec := &recorder{}
	c := newController(t, &fakeFetcher{}, audio.NewDriver(&mock.Output{}), pages, session.WithEventHandler(rec.handle))

	_ = c.StartPage(3)
	st := waitStatus(t, c, session.StatusPageTurnFail)

	if st.Phase != session.PhaseIdle || !strings.Contains(st.LastError, "page 4") {
		t.Errorf("state = %+v", st)
	}
	if pages.calls(4) != 3 {
		t.Errorf("PageText(4) polled %d times, want 3", pages.calls(4))
	}
	failed := rec.ofKind(session.EventPageTurnFailed)
	if len(failed) != 1 || !errors.Is(failed[0].Err, session.ErrPageTurn) {
		t.Errorf("page_turn_failed events = %+v", failed)
	}
}

func TestAutoPageTurn_Disabled(t *testing.T) {
	pages := newFakePages(5, 3, map[int]string{3: "Page three is here.", 4: "Page four is here."})
	c := newController(t, &fakeFetcher{}, audio.NewDriver(&mock.Output{}), pages, session.WithAutoPageTurn(false))

	_ = c.StartPage(3)
	st := waitStatus(t, c, session.StatusFinished)
	if st.ReadingPage != 3 {
		t.Errorf("ReadingPage = %d, want 3", st.ReadingPage)
	}
	if len(pages.requests) != 0 {
		t.Errorf("page change requested: %v", pages.requests)
	}
}

func TestStartPage_FallsBackToFirstPage(t *testing.T) {
	pages := newFakePages(2, 1, map[int]string{1: "Page one is right here."})
	c := newController(t, &fakeFetcher{}, audio.NewDriver(&mock.Output{Manual: true}), pages)

	if err := c.StartPage(2); err != nil {
		t.Fatalf("StartPage: %v", err)
	}
	if st := c.State(); st.ReadingPage != 1 {
		t.Errorf("ReadingPage = %d, want 1", st.ReadingPage)
	}
}

func TestStartPage_NoPageSource(t *testing.T) {
	c := newController(t, &fakeFetcher{}, audio.NewDriver(&mock.Output{}), nil)
	if err := c.StartPage(1); !errors.Is(err, session.ErrNoPageSource) {
		t.Fatalf("err = %v, want ErrNoPageSource", err)
	}
	if c.GoToReadingPage() {
		t.Error("GoToReadingPage without pages returned true")
	}
}

func TestSetLanguage_StopsActiveSession(t *testing.T) {
	out := &mock.Output{Manual: true}
	c := newController(t, &fakeFetcher{}, audio.NewDriver(out), nil)

	_ = c.StartReading(joined(), types.English)
	eventually(t, "playing", func() bool { return out.StartCount() == 1 })

	if err := c.SetLanguage(types.English); err != nil {
		t.Fatalf("SetLanguage(same): %v", err)
	}
	if !c.State().IsPlaying() {
		t.Fatal("setting the same language stopped the session")
	}

	if err := c.SetLanguage(types.Chinese); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	st := c.State()
	if st.Phase != session.PhaseIdle || st.Language != types.Chinese || st.Status != session.StatusLanguageSwap {
		t.Errorf("state = %+v", st)
	}
	if !out.Last().Ended() {
		t.Error("playback continued after language change")
	}
	if err := c.SetLanguage("xx"); err == nil {
		t.Error("expected error for unsupported language")
	}
}

func TestSetAutoPageTurn_Publishes(t *testing.T) {
	c := newController(t, &fakeFetcher{}, audio.NewDriver(&mock.Output{}), nil)
	states, cancel := c.Subscribe()
	defer cancel()
	<-states // initial

	c.SetAutoPageTurn(false)
	select {
	case st := <-states:
		if st.AutoPageTurn {
			t.Error("AutoPageTurn still on")
		}
	case <-time.After(time.Second):
		t.Fatal("no state published")
	}
}

func TestSleepTimer_StopsSession(t *testing.T) {
	out := &mock.Output{Manual: true}
	c := newController(t, &fakeFetcher{}, audio.NewDriver(out), nil)

	if err := c.StartSleepTimer(0); err == nil {
		t.Error("expected error for zero duration")
	}
	_ = c.StartReading(joined(), types.English)
	if err := c.StartSleepTimer(30 * time.Millisecond); err != nil {
		t.Fatalf("StartSleepTimer: %v", err)
	}
	if c.State().SleepDeadline.IsZero() {
		t.Error("SleepDeadline not published")
	}

	st := waitStatus(t, c, session.StatusSleepExpired)
	if st.Phase != session.PhaseIdle || !st.SleepDeadline.IsZero() {
		t.Errorf("state = %+v", st)
	}
}

func TestSleepTimer_Cancel(t *testing.T) {
	out := &mock.Output{Manual: true}
	c := newController(t, &fakeFetcher{}, audio.NewDriver(out), nil)

	if c.CancelSleepTimer() {
		t.Error("CancelSleepTimer without timer returned true")
	}
	_ = c.StartReading(joined(), types.English)
	_ = c.StartSleepTimer(20 * time.Millisecond)
	if !c.CancelSleepTimer() {
		t.Fatal("CancelSleepTimer returned false")
	}
	time.Sleep(50 * time.Millisecond)
	if st := c.State(); !st.IsPlaying() || !st.SleepDeadline.IsZero() {
		t.Errorf("state after cancelled timer = %+v", st)
	}
}

func TestGoToReadingPage(t *testing.T) {
	pages := newFakePages(3, 2, map[int]string{2: "Page two is right here."})
	out := &mock.Output{Manual: true}
	c := newController(t, &fakeFetcher{}, audio.NewDriver(out), pages)

	if c.GoToReadingPage() {
		t.Error("GoToReadingPage before any session returned true")
	}
	_ = c.StartReading("Page two is right here.", types.English)
	pages.RequestPageChange(1) // user browses away

	if !c.GoToReadingPage() {
		t.Fatal("GoToReadingPage returned false")
	}
	if pages.CurrentPage() != 2 {
		t.Errorf("current page = %d, want 2", pages.CurrentPage())
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	c := newController(t, &fakeFetcher{}, audio.NewDriver(&mock.Output{}), nil)
	states, cancel := c.Subscribe()
	st := <-states
	if st.Phase != session.PhaseIdle || st.Language != types.English {
		t.Errorf("initial state = %+v", st)
	}
	cancel()
	cancel()
	if _, ok := <-states; ok {
		t.Error("channel still open after cancel")
	}
}

func TestClose_RefusesNewSessions(t *testing.T) {
	out := &mock.Output{Manual: true}
	c := session.New(&fakeFetcher{}, audio.NewDriver(out), nil,
		session.WithMetrics(testMetrics(t)),
		session.WithLanguage(types.English))

	_ = c.StartReading(joined(), types.English)
	eventually(t, "playing", func() bool { return out.StartCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.StartReading(joined(), types.English); !errors.Is(err, session.ErrClosed) {
		t.Errorf("StartReading after Close = %v, want ErrClosed", err)
	}
}
