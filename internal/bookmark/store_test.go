package bookmark

import (
	"context"
	"testing"
	"time"
)

func TestBookmark_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		b       Bookmark
		wantErr bool
	}{
		{"valid", Bookmark{Document: "book.txt", Page: 3}, false},
		{"missing document", Bookmark{Page: 1}, true},
		{"page zero", Bookmark{Document: "book.txt"}, true},
		{"both invalid", Bookmark{Page: -2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.b.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	got, err := s.Get(ctx, "book.txt")
	if err != nil || got != nil {
		t.Fatalf("Get on empty store = %v, %v; want nil, nil", got, err)
	}

	if err := s.Save(ctx, Bookmark{Document: "book.txt", Page: 4}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, Bookmark{Document: "book.txt", Page: 7}); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	got, err = s.Get(ctx, "book.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Page != 7 || !got.UpdatedAt.Equal(fixed) {
		t.Errorf("Get = %+v, want page 7 at %v", got, fixed)
	}

	if err := s.Save(ctx, Bookmark{Document: "book.txt"}); err == nil {
		t.Error("Save accepted an invalid bookmark")
	}

	if err := s.Delete(ctx, "book.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "book.txt"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if got, _ := s.Get(ctx, "book.txt"); got != nil {
		t.Errorf("Get after Delete = %+v", got)
	}
}
