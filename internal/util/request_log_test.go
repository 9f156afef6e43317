package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogRecordsStatusAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := WithRequestLog("intake", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("oops"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/process/abc", nil)
	req = req.WithContext(ContextWithLogger(req.Context(), logger))
	h.ServeHTTP(httptest.NewRecorder(), req)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log record %q: %v", buf.String(), err)
	}
	if record["msg"] != "http_request" || record["level"] != "WARN" {
		t.Fatalf("unexpected record: %v", record)
	}
	if record["status"] != float64(http.StatusBadGateway) || record["bytes"] != float64(4) {
		t.Fatalf("unexpected status/bytes: %v", record)
	}
	if record["service"] != "intake" || record["path"] != "/api/process/abc" {
		t.Fatalf("unexpected request fields: %v", record)
	}
}
