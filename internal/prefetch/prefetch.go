// Package prefetch holds speculatively fetched audio for upcoming segments so
// synthesis of segment i+1 overlaps playback of segment i.
//
// A [Cache] keeps at most one entry per segment index. An entry is pending
// while its fetch goroutine runs and resolved once it has audio or an error.
// Consuming an entry evicts it; [Cache.Reset] and [Cache.Close] cancel every
// pending fetch and drop all entries, so a result that arrives afterwards is
// discarded and never handed out.
//
// One Cache serves one reading run. Create a new one per run instead of
// sharing across runs.
package prefetch

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/segment"
)

var (
	// ErrClosed is returned by Take after Close.
	ErrClosed = errors.New("prefetch: cache closed")

	// ErrDiscarded is returned by Take when the entry it was waiting on was
	// dropped by Reset or Close.
	ErrDiscarded = errors.New("prefetch: entry discarded")
)

// FetchFunc produces the audio for one segment. It must honour ctx.
type FetchFunc func(ctx context.Context, seg segment.TextSegment) ([]byte, error)

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records hit/miss counts on m. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}

	// Written by the fetch goroutine before done is closed.
	audio []byte
	err   error
}

func (e *entry) resolved() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Cache is safe for concurrent use.
type Cache struct {
	fetch   FetchFunc
	metrics *observe.Metrics

	mu      sync.Mutex
	entries map[int]*entry
	closed  bool

	wg sync.WaitGroup
}

// New creates an empty Cache that fetches through fetch.
func New(fetch FetchFunc, opts ...Option) *Cache {
	c := &Cache{
		fetch:   fetch,
		entries: make(map[int]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Prefetch starts fetching seg in the background and returns immediately. It
// is a no-op returning false when an entry for seg.Index already exists or the
// cache is closed. The fetch runs under a child of ctx.
func (c *Cache) Prefetch(ctx context.Context, seg segment.TextSegment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, ok := c.entries[seg.Index]; ok {
		return false
	}
	c.start(ctx, seg)
	return true
}

// start spawns the fetch goroutine for seg. c.mu must be held.
func (c *Cache) start(ctx context.Context, seg segment.TextSegment) *entry {
	ectx, cancel := context.WithCancel(ctx)
	e := &entry{cancel: cancel, done: make(chan struct{})}
	c.entries[seg.Index] = e

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(e.done)
		e.audio, e.err = c.fetch(ectx, seg)
	}()
	return e
}

// Take returns the audio for seg and evicts its entry. A pending entry is
// awaited; a missing one is fetched now and awaited. If ctx ends first the
// entry is evicted and cancelled and ctx.Err() is returned.
func (c *Cache) Take(ctx context.Context, seg segment.TextSegment) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, hit := c.entries[seg.Index]
	if !hit {
		e = c.start(ctx, seg)
	}
	c.mu.Unlock()
	c.metrics.RecordPrefetchLookup(context.WithoutCancel(ctx), hit)

	select {
	case <-e.done:
	case <-ctx.Done():
		c.evict(seg.Index, e)
		return nil, ctx.Err()
	}

	if !c.evict(seg.Index, e) {
		return nil, ErrDiscarded
	}
	return e.audio, e.err
}

// evict removes e if it is still the live entry for idx and releases its
// context. It reports whether e was still live.
func (c *Cache) evict(idx int, e *entry) bool {
	c.mu.Lock()
	live := c.entries[idx] == e
	if live {
		delete(c.entries, idx)
	}
	c.mu.Unlock()
	e.cancel()
	return live
}

// Has reports whether an entry (pending or resolved) exists for idx.
func (c *Cache) Has(idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[idx]
	return ok
}

// Len returns the number of entries, pending or resolved.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Pending returns the number of entries whose fetch is still running.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if !e.resolved() {
			n++
		}
	}
	return n
}

// Reset cancels every pending fetch and drops all entries. The cache stays
// usable.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.dropLocked()
	c.mu.Unlock()
}

// Close resets the cache and refuses all further work.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.dropLocked()
	c.mu.Unlock()
}

func (c *Cache) dropLocked() {
	for idx, e := range c.entries {
		e.cancel()
		delete(c.entries, idx)
	}
}

// Wait blocks until every fetch goroutine the cache ever started has
// returned. Call it after Close to make sure nothing is left running.
func (c *Cache) Wait() {
	c.wg.Wait()
}
