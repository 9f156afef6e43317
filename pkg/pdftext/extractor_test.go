package pdftext

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"greenlight/pkg/pdftext/pdftest"
)

func TestExtractTwoPageDocument(t *testing.T) {
	e := New(Options{})
	doc, err := e.Extract(context.Background(), pdftest.Build("Hello world", "Second page"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if doc.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", doc.Pages)
	}
	if !strings.Contains(doc.Text, "Hello world") || !strings.Contains(doc.Text, "Second page") {
		t.Fatalf("unexpected text %q", doc.Text)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		data []byte
		want error
	}{
		{"empty input", Options{}, nil, ErrInvalidFormat},
		{"not a pdf", Options{}, []byte("PK\x03\x04 this is a zip"), ErrInvalidFormat},
		{"truncated pdf", Options{}, []byte("%PDF-1.4\n1 0 obj\n"), ErrInvalidFormat},
		{"oversized", Options{MaxBytes: 64}, pdftest.Build("Hello world"), ErrSizeExceeded},
		{"too many pages", Options{MaxPages: 2}, pdftest.Build("a", "b", "c"), ErrPageCountExceeded},
		{"blank pages", Options{}, pdftest.Build("", ""), ErrEmptyContent},
		{"whitespace only", Options{}, pdftest.Build("   "), ErrEmptyContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts).Validate(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() err = %v, want %v", err, tt.want)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestSizeCheckedBeforeParsing(t *testing.T) {
	// not a PDF at all, but too large: the size limit must win
	data := bytes.Repeat([]byte("x"), 2048)
	_, err := New(Options{MaxBytes: 1024}).Validate(data)
	if !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}
}

func TestExtractHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Extract(ctx, pdftest.Build("Hello world"))
	if !errors.Is(err, ErrExtractionFailed) && !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestNormalizeText(t *testing.T) {
	raw := "  Title\x00\t\r\n\r\nLine   one\rSecond\xff line  "
	got := normalizeText(raw)
	want := "Title\nLine one\nSecond line"
	if got != want {
		t.Fatalf("normalizeText() = %q, want %q", got, want)
	}
}

func TestDefaults(t *testing.T) {
	e := New(Options{})
	if e.MaxBytes() != 10<<20 || e.MaxPages() != 10 {
		t.Fatalf("unexpected defaults: %d bytes, %d pages", e.MaxBytes(), e.MaxPages())
	}
}
