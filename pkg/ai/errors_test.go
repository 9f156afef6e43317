package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		kind      Kind
		transient bool
	}{
		{http.StatusUnauthorized, KindInvalidCredentials, false},
		{http.StatusForbidden, KindInvalidCredentials, false},
		{http.StatusTooManyRequests, KindRateLimited, true},
		{http.StatusInternalServerError, KindUnavailable, true},
		{http.StatusServiceUnavailable, KindUnavailable, true},
		{http.StatusBadRequest, KindRejected, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := StatusError("test", tt.status, "")
			if err.Kind != tt.kind || err.Transient != tt.transient {
				t.Fatalf("StatusError(%d) = %s/%v, want %s/%v", tt.status, err.Kind, err.Transient, tt.kind, tt.transient)
			}
			if IsTransient(err) != tt.transient || KindOf(err) != tt.kind {
				t.Fatalf("helpers disagree for %d", tt.status)
			}
		})
	}
}

func TestTransportErrorKeepsCancellation(t *testing.T) {
	if err := TransportError("test", context.Canceled); !errors.Is(err, context.Canceled) || IsTransient(err) {
		t.Fatalf("cancellation must pass through untouched, got %v", err)
	}
	err := TransportError("test", errors.New("connection refused"))
	if !IsTransient(err) || KindOf(err) != KindUnavailable {
		t.Fatalf("expected transient unavailable, got %v", err)
	}
}

func statusServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProvidersClassifyHTTPFailures(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindInvalidCredentials},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusBadGateway, KindUnavailable},
	}
	bodies := map[string]string{
		ProviderOpenAI: `{"error": {"message": "nope", "type": "invalid_request_error"}}`,
		ProviderGemini: `{"error": {"message": "nope"}}`,
		ProviderOllama: `{"error": "nope"}`,
	}
	for provider, body := range bodies {
		for _, tc := range cases {
			t.Run(provider+"/"+http.StatusText(tc.status), func(t *testing.T) {
				srv := statusServer(t, tc.status, body)
				gen, err := NewGenerator(GeneratorConfig{
					Provider: provider,
					Model:    "test-model",
					APIKey:   "key",
					BaseURL:  srv.URL,
				})
				if err != nil {
					t.Fatalf("new generator: %v", err)
				}
				_, err = gen.GenerateText(context.Background(), "system", "user")
				if err == nil {
					t.Fatalf("expected error")
				}
				if KindOf(err) != tc.kind {
					t.Fatalf("KindOf(%v) = %q, want %q", err, KindOf(err), tc.kind)
				}
			})
		}
	}
}

func TestOllamaGenerateText(t *testing.T) {
	srv := statusServer(t, http.StatusOK, `{"message": {"role": "assistant", "content": "{\"genre\": \"Horror\"}"}}`)
	gen := NewOllamaGenerator(NewOllamaClient(srv.URL), "llama3")
	got, err := gen.GenerateText(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != `{"genre": "Horror"}` {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestGeminiGenerateText(t *testing.T) {
	srv := statusServer(t, http.StatusOK, `{"candidates": [{"content": {"parts": [{"text": "{}"}]}}]}`)
	client, err := NewGeminiClient("key")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	client.baseURL = srv.URL
	got, err := NewGeminiGenerator(client, "").GenerateText(context.Background(), "system", "user")
	if err != nil || got != "{}" {
		t.Fatalf("generate: %q %v", got, err)
	}
}

func TestOpenAIGenerateText(t *testing.T) {
	srv := statusServer(t, http.StatusOK, `{"id": "x", "object": "chat.completion", "choices": [{"index": 0, "message": {"role": "assistant", "content": " {\"genre\": \"Romance\"} "}, "finish_reason": "stop"}]}`)
	gen, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "key", BaseURL: srv.URL, JSONMode: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := gen.GenerateText(context.Background(), "system", "user")
	if err != nil || got != `{"genre": "Romance"}` {
		t.Fatalf("generate: %q %v", got, err)
	}
}

func TestUnknownProvider(t *testing.T) {
	if _, err := NewGenerator(GeneratorConfig{Provider: "palm"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
