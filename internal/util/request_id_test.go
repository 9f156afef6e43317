package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveRequestID(t *testing.T, incoming string) (header, inContext string) {
	t.Helper()
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inContext = RequestID(r.Context())
		if LoggerFromContext(r.Context()) == nil {
			t.Fatal("expected request logger in context")
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if incoming != "" {
		req.Header.Set(RequestIDHeader, incoming)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Header().Get(RequestIDHeader), inContext
}

func TestWithRequestIDPropagatesIncomingHeader(t *testing.T) {
	header, ctxID := serveRequestID(t, "  req-incoming-123 ")
	if header != "req-incoming-123" || ctxID != header {
		t.Fatalf("unexpected ids: header=%q context=%q", header, ctxID)
	}
}

func TestWithRequestIDReplacesUnusableHeaders(t *testing.T) {
	tests := map[string]string{
		"missing":   "",
		"oversized": strings.Repeat("x", maxRequestIDLength+1),
		"spaces":    "two words",
		"control":   "id\x1bwith-escape",
		"non-ascii": "идентификатор",
	}
	for name, incoming := range tests {
		t.Run(name, func(t *testing.T) {
			header, ctxID := serveRequestID(t, incoming)
			if len(header) != 36 || ctxID != header {
				t.Fatalf("expected generated uuid, got header=%q context=%q", header, ctxID)
			}
		})
	}
}

func TestRequestIDWithoutMiddleware(t *testing.T) {
	if got := RequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
