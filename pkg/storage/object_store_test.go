package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestManuscriptKey(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"novel.pdf", "manuscripts/65a1b2c3d4e5f60718293a4b/novel.pdf"},
		{"../../etc/passwd", "manuscripts/65a1b2c3d4e5f60718293a4b/passwd"},
		{`C:\Users\me\draft.pdf`, "manuscripts/65a1b2c3d4e5f60718293a4b/draft.pdf"},
		{"", "manuscripts/65a1b2c3d4e5f60718293a4b/manuscript.pdf"},
	}
	for _, tt := range tests {
		if got := ManuscriptKey("65a1b2c3d4e5f60718293a4b", tt.filename); got != tt.want {
			t.Errorf("ManuscriptKey(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Put(ctx, "a", bytes.NewReader([]byte("pdf")), 3, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := s.Get("a")
	if !ok || string(got) != "pdf" {
		t.Fatalf("get: %q %v", got, ok)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get("a"); ok {
		t.Fatalf("object still present after delete")
	}
}
