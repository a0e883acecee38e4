package observability

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/querylens/querylens/internal/config"
)

func TestTraceMiddlewareGeneratesAndPropagatesID(t *testing.T) {
	var seen string
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if seen == "" {
		t.Fatal("trace id missing from context")
	}
	if rr.Header().Get("X-Trace-ID") != seen {
		t.Fatalf("response header = %q, context = %q", rr.Header().Get("X-Trace-ID"), seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Trace-ID", "caller-supplied")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "caller-supplied" {
		t.Fatalf("trace id = %q", seen)
	}
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/execute", nil))

	logged := buf.String()
	if !strings.Contains(logged, `"status":418`) || !strings.Contains(logged, `"path":"/v1/execute"`) {
		t.Fatalf("logged = %s", logged)
	}
}

func TestTraceIDFromContextWithoutValue(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Fatalf("trace id = %q", got)
	}
}

func TestNewLoggerIncludesServiceAttrs(t *testing.T) {
	cfg, err := config.Load("querylens-api", func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	cfg.Observability.LogJSON = true

	var buf bytes.Buffer
	logger := NewLogger(cfg, &buf)
	logger.Info("startup complete")

	logged := buf.String()
	if !strings.Contains(logged, `"service":"querylens-api"`) || !strings.Contains(logged, `"profile":"dev"`) {
		t.Fatalf("logged = %s", logged)
	}
}
