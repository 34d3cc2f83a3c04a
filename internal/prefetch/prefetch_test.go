package prefetch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/prefetch"
	"github.com/MrWong99/readaloud/internal/segment"
	"github.com/MrWong99/readaloud/pkg/types"
)

// ---- helpers ----

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

// gatedFetcher blocks every fetch until its index is released and counts
// calls per index.
type gatedFetcher struct {
	mu        sync.Mutex
	calls     map[int]int
	gates     map[int]chan struct{}
	cancelled map[int]bool
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{
		calls:     make(map[int]int),
		gates:     make(map[int]chan struct{}),
		cancelled: make(map[int]bool),
	}
}

func (g *gatedFetcher) gate(idx int) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[idx]
	if !ok {
		ch = make(chan struct{})
		g.gates[idx] = ch
	}
	return ch
}

func (g *gatedFetcher) release(idx int) { close(g.gate(idx)) }

func (g *gatedFetcher) Fetch(ctx context.Context, seg segment.TextSegment) ([]byte, error) {
	g.mu.Lock()
	g.calls[seg.Index]++
	g.mu.Unlock()

	select {
	case <-g.gate(seg.Index):
		return []byte(fmt.Sprintf("audio-%d", seg.Index)), nil
	case <-ctx.Done():
		g.mu.Lock()
		g.cancelled[seg.Index] = true
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (g *gatedFetcher) callCount(idx int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[idx]
}

func (g *gatedFetcher) wasCancelled(idx int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled[idx]
}

func seg(i int) segment.TextSegment {
	return segment.TextSegment{Text: fmt.Sprintf("segment %d", i), Language: types.English, Index: i}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// ---- tests ----

func TestPrefetch_AtMostOneEntryPerIndex(t *testing.T) {
	g := newGatedFetcher()
	c := prefetch.New(g.Fetch, prefetch.WithMetrics(testMetrics(t)))
	defer func() { c.Close(); c.Wait() }()

	if !c.Prefetch(context.Background(), seg(1)) {
		t.Fatal("first Prefetch returned false")
	}
	if c.Prefetch(context.Background(), seg(1)) {
		t.Fatal("second Prefetch for the same index returned true")
	}
	waitFor(t, func() bool { return g.callCount(1) == 1 })
	if c.Len() != 1 || c.Pending() != 1 {
		t.Fatalf("Len=%d Pending=%d, want 1/1", c.Len(), c.Pending())
	}

	g.release(1)
	got, err := c.Take(context.Background(), seg(1))
	if err != nil || string(got) != "audio-1" {
		t.Fatalf("Take = %q, %v", got, err)
	}
	if g.callCount(1) != 1 {
		t.Errorf("fetch calls for index 1 = %d, want 1", g.callCount(1))
	}
}

func TestTake_AwaitsPendingEntry(t *testing.T) {
	g := newGatedFetcher()
	c := prefetch.New(g.Fetch, prefetch.WithMetrics(testMetrics(t)))
	defer func() { c.Close(); c.Wait() }()

	c.Prefetch(context.Background(), seg(2))

	type result struct {
		audio []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		a, err := c.Take(context.Background(), seg(2))
		done <- result{a, err}
	}()

	select {
	case <-done:
		t.Fatal("Take returned before the pending fetch resolved")
	case <-time.After(20 * time.Millisecond):
	}

	g.release(2)
	r := <-done
	if r.err != nil || string(r.audio) != "audio-2" {
		t.Fatalf("Take = %q, %v", r.audio, r.err)
	}
}

func TestTake_MissFetchesAndEvicts(t *testing.T) {
	g := newGatedFetcher()
	g.release(0)
	c := prefetch.New(g.Fetch, prefetch.WithMetrics(testMetrics(t)))
	defer func() { c.Close(); c.Wait() }()

	got, err := c.Take(context.Background(), seg(0))
	if err != nil || string(got) != "audio-0" {
		t.Fatalf("Take = %q, %v", got, err)
	}
	if c.Has(0) || c.Len() != 0 {
		t.Fatal("consumed entry was not evicted")
	}
}

func TestTake_ResolvedErrorIsReturned(t *testing.T) {
	errBoom := errors.New("boom")
	c := prefetch.New(func(context.Context, segment.TextSegment) ([]byte, error) {
		return nil, errBoom
	}, prefetch.WithMetrics(testMetrics(t)))
	defer func() { c.Close(); c.Wait() }()

	c.Prefetch(context.Background(), seg(3))
	if _, err := c.Take(context.Background(), seg(3)); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if c.Has(3) {
		t.Fatal("failed entry was not evicted")
	}
}

func TestReset_CancelsPendingAndDiscardsResults(t *testing.T) {
	g := newGatedFetcher()
	c := prefetch.New(g.Fetch, prefetch.WithMetrics(testMetrics(t)))

	c.Prefetch(context.Background(), seg(4))
	c.Prefetch(context.Background(), seg(5))

	takeErr := make(chan error, 1)
	go func() {
		_, err := c.Take(context.Background(), seg(4))
		takeErr <- err
	}()
	waitFor(t, func() bool { return g.callCount(4) == 1 && g.callCount(5) == 1 })

	c.Reset()

	select {
	case err := <-takeErr:
		if err == nil {
			t.Fatal("Take returned audio from a discarded entry")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not return after Reset")
	}
	c.Wait()

	if c.Len() != 0 {
		t.Fatalf("Len = %d after Reset, want 0", c.Len())
	}
	if !g.wasCancelled(4) || !g.wasCancelled(5) {
		t.Error("Reset did not cancel in-flight fetches")
	}

	// The cache remains usable after Reset.
	g.release(6)
	if got, err := c.Take(context.Background(), seg(6)); err != nil || string(got) != "audio-6" {
		t.Fatalf("Take after Reset = %q, %v", got, err)
	}
	c.Close()
	c.Wait()
}

func TestTake_ContextCancelledEvicts(t *testing.T) {
	g := newGatedFetcher()
	c := prefetch.New(g.Fetch, prefetch.WithMetrics(testMetrics(t)))
	defer func() { c.Close(); c.Wait() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := c.Take(ctx, seg(7)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if c.Has(7) {
		t.Fatal("cancelled entry was not evicted")
	}
	waitFor(t, func() bool { return g.wasCancelled(7) })
}

func TestClose_RefusesWork(t *testing.T) {
	g := newGatedFetcher()
	c := prefetch.New(g.Fetch, prefetch.WithMetrics(testMetrics(t)))
	c.Prefetch(context.Background(), seg(1))
	c.Close()
	c.Wait()

	if c.Prefetch(context.Background(), seg(2)) {
		t.Error("Prefetch after Close returned true")
	}
	if _, err := c.Take(context.Background(), seg(2)); !errors.Is(err, prefetch.ErrClosed) {
		t.Errorf("Take after Close = %v, want ErrClosed", err)
	}
	if c.Len() != 0 || c.Pending() != 0 {
		t.Errorf("Len=%d Pending=%d after Close, want 0/0", c.Len(), c.Pending())
	}
}
