// Package analysis turns manuscript text into a structured market analysis
// using a completion provider from pkg/ai.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"greenlight/pkg/ai"
	"greenlight/pkg/domain"
)

const (
	DefaultExcerptChars    = 8000
	DefaultCacheTTL        = 24 * time.Hour
	DefaultCacheMaxEntries = 1000
	DefaultLookupTimeout   = 60 * time.Second
	truncationMarker       = "..."
)

var (
	ErrNoContent         = errors.New("no text content to analyze")
	ErrMalformedResponse = errors.New("malformed analysis response")
	ErrTitleRequired     = errors.New("title is required")
)

type Config struct {
	ExcerptChars    int
	CacheTTL        time.Duration
	CacheMaxEntries int
	// LookupTimeout bounds a shared metadata request, which outlives the
	// caller that started it.
	LookupTimeout time.Duration
}

// Client prompts a TextGenerator and normalizes its JSON replies.
type Client struct {
	gen          ai.TextGenerator
	excerptChars  int
	lookupTimeout time.Duration
	validate      *validator.Validate

	metadata *expirable.LRU[string, domain.BookMetadata]
	inflight singleflight.Group
}

func New(gen ai.TextGenerator, cfg Config) *Client {
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = DefaultExcerptChars
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = DefaultCacheMaxEntries
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	return &Client{
		gen:           gen,
		excerptChars:  cfg.ExcerptChars,
		lookupTimeout: cfg.LookupTimeout,
		validate:      validator.New(),
		metadata:      expirable.NewLRU[string, domain.BookMetadata](cfg.CacheMaxEntries, nil, cfg.CacheTTL),
	}
}

// Analyze classifies the manuscript and suggests comparable titles.
// Provider failures are returned unchanged; anything the provider sends
// back that does not parse into a valid result is ErrMalformedResponse.
func (c *Client) Analyze(ctx context.Context, text, synopsis string) (domain.AnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.AnalysisResult{}, ErrNoContent
	}
	prompt := buildAnalysisPrompt(Excerpt(text, c.excerptChars), synopsis)

	start := time.Now()
	raw, err := c.gen.GenerateText(ctx, analysisSystemPrompt, prompt)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	result, err := ParseAnalysis(raw)
	if err != nil {
		slog.Warn("analysis response rejected", "err", err, "response_bytes", len(raw))
		return domain.AnalysisResult{}, err
	}
	if err := c.validate.Struct(result); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	slog.Debug("analysis completed", "genre", result.Genre, "best_comps", len(result.BestComps), "duration", time.Since(start))
	return result, nil
}

// BookMetadata looks up publication details for a title. Results are kept
// in a bounded LRU; concurrent lookups of the same title share one request.
// The shared request is detached from ctx so one caller going away does not
// fail the others; ctx still bounds how long this caller waits.
func (c *Client) BookMetadata(ctx context.Context, title string) (domain.BookMetadata, error) {
	key := cacheKey(title)
	if key == "" {
		return domain.BookMetadata{}, ErrTitleRequired
	}
	if md, ok := c.metadata.Get(key); ok {
		return md, nil
	}

	ch := c.inflight.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lookupTimeout)
		defer cancel()
		raw, err := c.gen.GenerateText(lookupCtx, metadataSystemPrompt, buildMetadataPrompt(strings.TrimSpace(title)))
		if err != nil {
			return nil, err
		}
		md, err := parseMetadata(raw)
		if err != nil {
			return nil, err
		}
		c.metadata.Add(key, md)
		return md, nil
	})
	select {
	case <-ctx.Done():
		return domain.BookMetadata{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.BookMetadata{}, res.Err
		}
		return res.Val.(domain.BookMetadata), nil
	}
}

// CachedTitles reports how many metadata entries are live.
func (c *Client) CachedTitles() int { return c.metadata.Len() }

// BookDetails gives a quick market read of a manuscript excerpt.
func (c *Client) BookDetails(ctx context.Context, text string) (domain.BookDetails, error) {
	if strings.TrimSpace(text) == "" {
		return domain.BookDetails{}, ErrNoContent
	}
	raw, err := c.gen.GenerateText(ctx, detailsSystemPrompt, buildDetailsPrompt(Excerpt(text, c.excerptChars)))
	if err != nil {
		return domain.BookDetails{}, err
	}
	var details domain.BookDetails
	if err := json.Unmarshal([]byte(CleanJSONBlock(raw)), &details); err != nil {
		return domain.BookDetails{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := c.validate.Struct(details); err != nil {
		return domain.BookDetails{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return details, nil
}

// Excerpt returns at most n runes of text, marking truncation with "...".
func Excerpt(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + truncationMarker
}

// CleanJSONBlock removes markdown code fences around a JSON reply.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func cacheKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
