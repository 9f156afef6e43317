// Package pdftext validates uploaded manuscripts and extracts their plain
// text. It performs no I/O beyond reading the supplied bytes.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	DefaultMaxBytes int64 = 10 << 20
	DefaultMaxPages       = 10
)

var (
	ErrInvalidFormat     = errors.New("file is not a valid PDF")
	ErrSizeExceeded      = errors.New("file exceeds the maximum upload size")
	ErrPageCountExceeded = errors.New("PDF exceeds the maximum page count")
	ErrEmptyContent      = errors.New("PDF contains no extractable text")
	ErrExtractionFailed  = errors.New("text extraction failed")
)

// ValidationError reports a rejected upload. Err is one of the sentinel
// errors above.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, format string, args ...any) error {
	return &ValidationError{Err: err, Detail: fmt.Sprintf(format, args...)}
}

type Options struct {
	MaxBytes int64
	MaxPages int
}

// Extractor enforces size and page limits and pulls text out of a PDF.
type Extractor struct {
	maxBytes int64
	maxPages int
}

// Document is the extraction result.
type Document struct {
	Text  string
	Pages int
}

func New(opts Options) *Extractor {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	return &Extractor{maxBytes: opts.MaxBytes, maxPages: opts.MaxPages}
}

func (e *Extractor) MaxBytes() int64 { return e.maxBytes }
func (e *Extractor) MaxPages() int   { return e.maxPages }

// Validate checks data against the configured limits, including that the
// document yields non-blank text.
func (e *Extractor) Validate(data []byte) (Document, error) {
	return e.Extract(context.Background(), data)
}

// Extract validates data and returns its normalized text. Parsing runs on a
// separate goroutine so that ctx bounds the call even if the parser stalls.
func (e *Extractor) Extract(ctx context.Context, data []byte) (Document, error) {
	if err := e.checkEnvelope(data); err != nil {
		return Document{}, err
	}

	type result struct {
		doc Document
		err error
	}
	done := make(chan result, 1)
	go func() {
		doc, err := e.extract(ctx, data)
		done <- result{doc, err}
	}()

	select {
	case <-ctx.Done():
		return Document{}, fmt.Errorf("%w: %w", ErrExtractionFailed, ctx.Err())
	case res := <-done:
		return res.doc, res.err
	}
}

func (e *Extractor) checkEnvelope(data []byte) error {
	if len(data) == 0 {
		return invalid(ErrInvalidFormat, "file is empty")
	}
	if int64(len(data)) > e.maxBytes {
		return invalid(ErrSizeExceeded, "%d bytes, limit is %d MB", len(data), e.maxBytes>>20)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return invalid(ErrInvalidFormat, "missing PDF header")
	}
	return nil
}

func (e *Extractor) extract(ctx context.Context, data []byte) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = Document{}
			err = fmt.Errorf("%w: parser panic: %v", ErrExtractionFailed, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, invalid(ErrInvalidFormat, "%v", err)
	}
	total := reader.NumPage()
	if total <= 0 {
		return Document{}, invalid(ErrEmptyContent, "document has no pages")
	}
	if total > e.maxPages {
		return Document{}, invalid(ErrPageCountExceeded, "%d pages, limit is %d", total, e.maxPages)
	}

	parts := make([]string, 0, total)
	var firstErr error
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return Document{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// skip unreadable pages; fail only if nothing is readable
			if firstErr == nil {
				firstErr = fmt.Errorf("page %d: %w", i, err)
			}
			continue
		}
		if text = normalizeText(text); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		if firstErr != nil {
			return Document{}, fmt.Errorf("%w: %w", ErrExtractionFailed, firstErr)
		}
		return Document{}, invalid(ErrEmptyContent, "no text found on %d page(s)", total)
	}
	return Document{Text: strings.Join(parts, "\n\n"), Pages: total}, nil
}

// normalizeText strips NULs and invalid UTF-8, collapses runs of blanks
// within each line and drops empty lines.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
