package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"greenlight/pkg/domain"
)

// Keys accepted for each comparable-title list, canonical first.
var (
	bestCompKeys   = []string{"bestComps", "comparable_titles", "comps"}
	recentCompKeys = []string{"recentComps", "recent_titles", "recent_comps"}
)

// ParseAnalysis decodes a provider reply into the canonical result. Older
// reply shapes (snake_case keys, comparable titles as bare strings) are
// translated here so nothing past this point sees them.
func ParseAnalysis(raw string) (domain.AnalysisResult, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	result := domain.AnalysisResult{SchemaVersion: domain.AnalysisSchemaVersion}
	if v, ok := fields["genre"]; ok {
		if result.Genre, err = stringValue(v); err != nil {
			return domain.AnalysisResult{}, malformed("genre: %v", err)
		}
	}
	if result.Themes, err = stringList(fields["themes"]); err != nil {
		return domain.AnalysisResult{}, malformed("themes: %v", err)
	}
	if result.Tropes, err = stringList(fields["tropes"]); err != nil {
		return domain.AnalysisResult{}, malformed("tropes: %v", err)
	}
	if result.BestComps, err = compList(fields, bestCompKeys); err != nil {
		return domain.AnalysisResult{}, err
	}
	if result.RecentComps, err = compList(fields, recentCompKeys); err != nil {
		return domain.AnalysisResult{}, err
	}
	return result, nil
}

func parseMetadata(raw string) (domain.BookMetadata, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return domain.BookMetadata{}, err
	}
	md := domain.BookMetadata{
		Title:             firstString(fields, "title"),
		Author:            firstString(fields, "author"),
		Imprint:           firstString(fields, "imprint", "publisher"),
		PublicationDate:   firstString(fields, "publicationDate", "publication_date"),
		CopiesSold:        firstString(fields, "copiesSold", "copies_sold"),
		MarketingStrategy: firstString(fields, "marketingStrategy", "marketing_strategy"),
	}
	if b := firstBool(fields, "nytBestseller", "nyt_bestseller"); b != nil {
		md.NYTBestseller = *b
	}
	if md.Title == "" {
		return domain.BookMetadata{}, malformed("missing title")
	}
	return md, nil
}

func decodeObject(raw string) (map[string]json.RawMessage, error) {
	cleaned := CleanJSONBlock(raw)
	if cleaned == "" {
		return nil, malformed("empty response")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, malformed("%v", err)
	}
	if fields == nil {
		return nil, malformed("response is not a JSON object")
	}
	return fields, nil
}

func compList(fields map[string]json.RawMessage, keys []string) ([]domain.ComparableTitle, error) {
	raw, key := lookup(fields, keys...)
	if raw == nil || isNull(raw) {
		return []domain.ComparableTitle{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, malformed("%s: %v", key, err)
	}
	out := make([]domain.ComparableTitle, 0, len(items))
	for i, item := range items {
		title, err := comparableTitle(item)
		if err != nil {
			return nil, malformed("%s[%d]: %v", key, i, err)
		}
		if title.Title == "" {
			continue
		}
		out = append(out, title)
	}
	return out, nil
}

func comparableTitle(raw json.RawMessage) (domain.ComparableTitle, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var title string
		if err := json.Unmarshal(trimmed, &title); err != nil {
			return domain.ComparableTitle{}, err
		}
		return domain.ComparableTitle{Title: strings.TrimSpace(title)}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return domain.ComparableTitle{}, err
	}
	ct := domain.ComparableTitle{
		Title:            firstString(fields, "title"),
		Author:           firstString(fields, "author"),
		Publisher:        firstString(fields, "publisher", "imprint"),
		EstimatedSales:   firstString(fields, "estimatedSales", "copies_sold"),
		MarketingSummary: firstString(fields, "marketingSummary", "marketing_strategy"),
		Reason:           firstString(fields, "reason", "similarity", "why"),
		Bestseller:       firstBool(fields, "bestseller", "nyt_bestseller"),
	}
	if v, _ := lookup(fields, "year"); v != nil {
		ct.Year = yearFrom(v)
	}
	if ct.Year == 0 {
		if v, _ := lookup(fields, "publication_date", "publicationDate"); v != nil {
			ct.Year = yearFrom(v)
		}
	}
	return ct, nil
}

func lookup(fields map[string]json.RawMessage, keys ...string) (json.RawMessage, string) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && !isNull(v) {
			return v, k
		}
	}
	return nil, ""
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// stringValue accepts JSON strings and numbers.
func stringValue(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("expected string, got %s", bytes.TrimSpace(raw))
}

func firstString(fields map[string]json.RawMessage, keys ...string) string {
	raw, _ := lookup(fields, keys...)
	if raw == nil {
		return ""
	}
	s, _ := stringValue(raw)
	return s
}

func firstBool(fields map[string]json.RawMessage, keys ...string) *bool {
	raw, _ := lookup(fields, keys...)
	if raw == nil {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return &parsed
		}
	}
	return nil
}

// stringList accepts an array of strings or a single string.
func stringList(raw json.RawMessage) ([]string, error) {
	if raw == nil || isNull(raw) {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var single string
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, err
		}
		list = []string{single}
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// yearFrom reads a year from a number or the leading four digits of a
// date string such as "2014-09-09".
func yearFrom(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return 0
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0
	}
	return year
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
