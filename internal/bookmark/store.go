// Package bookmark remembers the last page read in each document so a new
// session can pick up where the previous one stopped.
package bookmark

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Bookmark is the reading position saved for one document.
type Bookmark struct {
	Document  string    `json:"document"`
	Page      int       `json:"page"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate reports whether b can be stored.
func (b Bookmark) Validate() error {
	var errs []error
	if b.Document == "" {
		errs = append(errs, errors.New("bookmark: document is required"))
	}
	if b.Page < 1 {
		errs = append(errs, errors.New("bookmark: page must be >= 1"))
	}
	return errors.Join(errs...)
}

// Store persists bookmarks. Implementations must be safe for concurrent use.
type Store interface {
	// Save creates or replaces the bookmark for b.Document. UpdatedAt is set
	// by the store.
	Save(ctx context.Context, b Bookmark) error

	// Get returns the bookmark for doc. Returns (nil, nil) if none exists.
	Get(ctx context.Context, doc string) (*Bookmark, error)

	// Delete removes the bookmark for doc. Deleting a missing bookmark is not
	// an error.
	Delete(ctx context.Context, doc string) error
}

// MemoryStore is a [Store] that lives for the lifetime of the process.
type MemoryStore struct {
	mu    sync.Mutex
	marks map[string]Bookmark
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]Bookmark), now: time.Now}
}

// Save implements [Store].
func (s *MemoryStore) Save(_ context.Context, b Bookmark) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b.UpdatedAt = s.now()
	s.marks[b.Document] = b
	return nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, doc string) (*Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.marks[doc]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// Delete implements [Store].
func (s *MemoryStore) Delete(_ context.Context, doc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.marks, doc)
	return nil
}
