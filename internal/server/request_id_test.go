package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"castctl/internal/observability/logging"
)

func TestRequestIDMiddlewareAnnotatesContextAndHeaders(t *testing.T) {
	t.Parallel()

	handler := requestIDMiddlewareWithGenerator(slog.Default(), func() string { return "generated" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, _ := logging.RequestIDFromContext(r.Context())
		if requestID != "incoming" {
			t.Fatalf("expected request id to be preserved, got %q", requestID)
		}
		if logging.LoggerFromContext(r.Context()) == nil {
			t.Fatal("expected a request-scoped logger in the context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	req.Header.Set("X-Request-Id", " incoming ")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-Id") != "incoming" {
		t.Fatalf("expected response header to carry request id, got %q", rr.Header().Get("X-Request-Id"))
	}
}

func TestRequestIDMiddlewareGeneratesMissingID(t *testing.T) {
	t.Parallel()

	handler := requestIDMiddlewareWithGenerator(slog.Default(), func() string { return "generated" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/devices", nil))

	if rr.Header().Get("X-Request-Id") != "generated" {
		t.Fatalf("expected generated request id, got %q", rr.Header().Get("X-Request-Id"))
	}
}

func TestRequestLoggerCarriesRequestID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	chain := requestIDMiddlewareWithGenerator(logger, func() string { return "generated-id" })(
		logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger, DisableRemoteAddr: true})(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}),
		),
	)

	chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/d1/blorp", nil))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if payload["request_id"] != "generated-id" {
		t.Fatalf("expected request_id generated-id, got %v", payload["request_id"])
	}
	if payload["msg"] != "request completed" {
		t.Fatalf("unexpected message %v", payload["msg"])
	}
	if payload["status"] != float64(http.StatusNotFound) {
		t.Fatalf("expected status 404, got %v", payload["status"])
	}
	if payload["path"] != "/d1/blorp" {
		t.Fatalf("unexpected path %v", payload["path"])
	}
}
