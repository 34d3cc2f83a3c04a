// Package document provides the paged text the reader walks through.
//
// A [Document] is a list of page texts. The file format is the one
// pdftotext produces: plain UTF-8 text with pages separated by form feeds
// (U+000C). Page numbers are 1-based.
//
// Page changes requested through [Document.RequestPageChange] take effect
// after a configurable render delay, the way a viewer shows a page only once
// it has rendered it. Readers therefore must confirm a change by polling
// [Document.CurrentPage] instead of assuming it happened.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// pageBreak separates pages in a text file.
const pageBreak = "\f"

// ErrPageOutOfRange is returned for page numbers outside 1..PageCount.
var ErrPageOutOfRange = errors.New("document: page out of range")

// Option configures a Document.
type Option func(*Document)

// WithRenderDelay delays page changes requested with RequestPageChange.
func WithRenderDelay(d time.Duration) Option {
	return func(doc *Document) {
		if d >= 0 {
			doc.renderDelay = d
		}
	}
}

// WithName sets the document name used as the bookmark key.
func WithName(name string) Option {
	return func(doc *Document) { doc.name = name }
}

// WithOnPageChange registers a callback invoked with the new page after every
// applied change. It runs outside the document lock and must not block.
func WithOnPageChange(fn func(page int)) Option {
	return func(doc *Document) { doc.onChange = fn }
}

// Document is safe for concurrent use.
type Document struct {
	name        string
	pages       []string
	renderDelay time.Duration
	onChange    func(page int)

	mu      sync.Mutex
	current int
	pending *time.Timer
}

// New creates a Document from page texts. The current page is 1 (0 for a
// document without pages).
func New(pages []string, opts ...Option) *Document {
	d := &Document{pages: pages}
	if len(pages) > 0 {
		d.current = 1
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Parse reads a form-feed separated text from r. A trailing form feed does
// not create an empty last page.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("document: read: %w", err)
	}
	raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	text := strings.TrimSuffix(string(raw), pageBreak)
	text = strings.TrimSuffix(text, pageBreak+"\n")
	if strings.TrimSpace(text) == "" {
		return New(nil, opts...), nil
	}
	return New(strings.Split(text, pageBreak), opts...), nil
}

// Load reads the document at path. The file's base name becomes the document
// name unless WithName overrides it.
func Load(path string, opts ...Option) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("document: open: %w", err)
	}
	defer f.Close()
	return Parse(f, append([]Option{WithName(filepath.Base(path))}, opts...)...)
}

// Name returns the document name.
func (d *Document) Name() string { return d.name }

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return len(d.pages) }

// CurrentPage returns the page shown to the user.
func (d *Document) CurrentPage() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// PageText returns the text of page, trimmed. ok is false for pages out of
// range.
func (d *Document) PageText(page int) (string, bool) {
	if page < 1 || page > len(d.pages) {
		return "", false
	}
	return strings.TrimSpace(d.pages[page-1]), true
}

// RequestPageChange moves to page after the render delay. Requests for pages
// out of range are ignored; a newer request replaces a pending one.
func (d *Document) RequestPageChange(page int) {
	if page < 1 || page > len(d.pages) {
		return
	}
	d.mu.Lock()
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	if d.renderDelay <= 0 {
		d.mu.Unlock()
		d.apply(page)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d.renderDelay, func() {
		d.mu.Lock()
		if d.pending != t {
			d.mu.Unlock()
			return
		}
		d.pending = nil
		d.mu.Unlock()
		d.apply(page)
	})
	d.pending = t
	d.mu.Unlock()
}

// SetPage moves to page immediately.
func (d *Document) SetPage(page int) error {
	if page < 1 || page > len(d.pages) {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, len(d.pages))
	}
	d.mu.Lock()
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	d.mu.Unlock()
	d.apply(page)
	return nil
}

func (d *Document) apply(page int) {
	d.mu.Lock()
	changed := d.current != page
	d.current = page
	d.mu.Unlock()
	if changed && d.onChange != nil {
		d.onChange(page)
	}
}
