package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/segment"
	"github.com/MrWong99/readaloud/pkg/audio"
)

// loop reads page after page until the document, the session, or the page
// source runs out.
func (c *Controller) loop(r *run, segs []segment.TextSegment, page int) {
	defer c.wg.Done()
	defer func() {
		r.cache.Close()
		r.cache.Wait()
	}()

	for {
		if !c.readPage(r, segs, page) {
			return
		}

		next, nextSegs, err := c.turnPage(r, page)
		switch {
		case err != nil:
			if r.ctx.Err() == nil {
				c.failPageTurn(r, next, err)
			}
			return
		case next == 0:
			c.finish(r)
			return
		}

		page, segs = next, nextSegs
	}
}

// readPage plays segs in order. It returns false once r is no longer the
// active run.
func (c *Controller) readPage(r *run, segs []segment.TextSegment, page int) bool {
	lang := string(r.lang)
	ctx, span := observe.StartSpan(r.ctx, "session.page",
		trace.WithAttributes(observe.AttrPage.Int(page)))
	defer span.End()

	for i, seg := range segs {
		if !c.awaitResume(r) || !c.beginSegment(r, i, len(segs), seg) {
			return false
		}
		c.emit(Event{Kind: EventSegmentStarted, SessionID: r.id, Page: page, Index: i, Total: len(segs), Text: seg.Text})

		data, err := r.cache.Take(ctx, seg)
		if r.ctx.Err() != nil {
			return false
		}
		if i+1 < len(segs) {
			r.cache.Prefetch(ctx, segs[i+1])
		}

		if err != nil {
			slog.Warn("session: segment unavailable, skipping",
				"session_id", r.id,
				"index", i,
				"err", err)
			c.metrics.RecordSegment(r.ctx, lang, "skipped")
			c.recordSkip(r, err)
			c.emit(Event{Kind: EventSegmentSkipped, SessionID: r.id, Page: page, Index: i, Total: len(segs), Text: seg.Text, Err: err})
			if c.sleep(r.ctx, c.failureDelay) != nil {
				return false
			}
		} else if !c.playSegment(r, page, i, len(segs), seg, data) {
			return false
		}

		if !c.advance(r, i+1, len(segs)) {
			return false
		}
	}
	return true
}

// awaitResume blocks while r is paused. It returns false if r ends first.
func (c *Controller) awaitResume(r *run) bool {
	c.mu.Lock()
	paused, resumed := r.paused, r.resumed
	c.mu.Unlock()
	if !paused {
		return r.ctx.Err() == nil
	}
	select {
	case <-resumed:
		return r.ctx.Err() == nil
	case <-r.ctx.Done():
		return false
	}
}

// beginSegment publishes segment i as the one being read.
func (c *Controller) beginSegment(r *run, i, total int, seg segment.TextSegment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != r {
		return false
	}
	c.state.SegmentIndex = i
	c.state.TotalSegments = total
	c.state.CurrentText = seg.Text
	c.publishLocked()
	return true
}

func (c *Controller) recordSkip(r *run, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != r {
		return
	}
	c.state.Skipped++
	c.state.LastError = err.Error()
	c.publishLocked()
}

// advance publishes progress after done of total segments.
func (c *Controller) advance(r *run, done, total int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != r {
		return false
	}
	c.state.Progress = float64(done) / float64(total)
	c.publishLocked()
	return true
}

// playSegment plays data and waits for it to end. Playback problems are
// reported and the session moves on; it returns false only when r ended.
func (c *Controller) playSegment(r *run, page, i, total int, seg segment.TextSegment, data []byte) bool {
	if !c.awaitResume(r) {
		return false
	}

	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return false
	}
	err := c.player.Play(r.ctx, data)
	if err == nil && r.paused {
		c.player.Pause()
	}
	c.mu.Unlock()

	lang := string(r.lang)
	if err != nil {
		slog.Warn("session: playback failed to start", "session_id", r.id, "index", i, "err", err)
		c.metrics.RecordSegment(r.ctx, lang, "failed")
		c.emit(Event{Kind: EventPlaybackFailed, SessionID: r.id, Page: page, Index: i, Total: total, Text: seg.Text, Err: err})
		return c.sleep(r.ctx, c.failureDelay) == nil
	}

	start := time.Now()
	outcome, err := c.player.Wait(r.ctx)
	if r.ctx.Err() != nil {
		return false
	}
	c.metrics.PlaybackDuration.Record(r.ctx, time.Since(start).Seconds())

	switch outcome {
	case audio.OutcomeFinished:
		c.metrics.RecordSegment(r.ctx, lang, "played")
		c.emit(Event{Kind: EventSegmentPlayed, SessionID: r.id, Page: page, Index: i, Total: total, Text: seg.Text})
	case audio.OutcomeStopped:
		// Someone else stopped the player; the segment simply ended early.
		c.metrics.RecordSegment(r.ctx, lang, "stopped")
	default:
		slog.Warn("session: playback did not finish cleanly",
			"session_id", r.id,
			"index", i,
			"outcome", outcome,
			"err", err)
		c.metrics.RecordSegment(r.ctx, lang, outcome.String())
		c.emit(Event{Kind: EventPlaybackFailed, SessionID: r.id, Page: page, Index: i, Total: total, Text: seg.Text, Err: err})
	}
	return true
}

// ---- page turning ----

// turnPage moves to the page after page. It returns next == 0 with a nil
// error when there is nothing to turn to.
func (c *Controller) turnPage(r *run, page int) (next int, segs []segment.TextSegment, err error) {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return 0, nil, context.Canceled
	}
	auto := c.state.AutoPageTurn
	c.mu.Unlock()

	if !auto || c.pages == nil || page <= 0 || page >= c.pages.PageCount() {
		return 0, nil, nil
	}

	next = page + 1
	c.setStatus(r, StatusTurningPage)
	c.pages.RequestPageChange(next)

	for attempt := 1; attempt <= c.turnAttempts; attempt++ {
		if err := c.sleep(r.ctx, c.turnInterval); err != nil {
			return next, nil, err
		}
		if cur := c.pages.CurrentPage(); cur != next {
			slog.Debug("session: page change not applied yet", "want", next, "current", cur, "attempt", attempt)
			continue
		}
		text, ok := c.pages.PageText(next)
		if !ok || strings.TrimSpace(text) == "" {
			slog.Debug("session: next page has no text yet", "page", next, "attempt", attempt)
			continue
		}
		if segs = c.seg.Segment(text, r.lang); len(segs) > 0 {
			break
		}
	}
	if len(segs) == 0 {
		c.metrics.RecordPageTurn(r.ctx, false)
		return next, nil, fmt.Errorf("%w: page %d after %d attempts", ErrPageTurn, next, c.turnAttempts)
	}

	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return next, nil, context.Canceled
	}
	// The old page's leftovers must never play on the new one.
	r.cache.Reset()
	c.state.ReadingPage = next
	c.state.SegmentIndex = 0
	c.state.TotalSegments = len(segs)
	c.state.Progress = 0
	c.state.CurrentText = ""
	c.state.Status = StatusReading
	if r.paused {
		c.state.Status = StatusPaused
	}
	c.publishLocked()
	c.mu.Unlock()

	c.metrics.RecordPageTurn(r.ctx, true)
	slog.Info("session: turned page", "session_id", r.id, "page", next, "segments", len(segs))
	c.emit(Event{Kind: EventPageTurned, SessionID: r.id, Page: next, Total: len(segs)})
	return next, segs, nil
}

func (c *Controller) setStatus(r *run, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != r {
		return
	}
	c.state.Status = status
	c.publishLocked()
}

// ---- session end ----

// finish ends r after its last page.
func (c *Controller) finish(r *run) {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return
	}
	page, total, skipped := c.state.ReadingPage, c.state.TotalSegments, c.state.Skipped
	c.endRunLocked(r)
	c.resetStateLocked(StatusFinished)
	c.state.Progress = 1
	c.state.Skipped = skipped
	c.publishLocked()
	c.mu.Unlock()

	slog.Info("session: reading finished", "session_id", r.id, "page", page, "skipped", skipped)
	c.emit(Event{Kind: EventFinished, SessionID: r.id, Page: page, Total: total, Status: StatusFinished})
}

// failPageTurn ends r because the next page never became readable.
func (c *Controller) failPageTurn(r *run, page int, err error) {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return
	}
	c.endRunLocked(r)
	c.resetStateLocked(StatusPageTurnFail)
	c.state.LastError = err.Error()
	c.publishLocked()
	c.player.Stop()
	c.mu.Unlock()

	slog.Error("session: page turn failed, stopping", "session_id", r.id, "page", page, "err", err)
	c.emit(Event{Kind: EventPageTurnFailed, SessionID: r.id, Page: page, Status: StatusPageTurnFail, Err: err})
}
