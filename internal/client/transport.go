package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries a per-request correlation ID to the backend.
const RequestIDHeader = "X-Request-ID"

// maxBodyLogLen is the maximum length of a response body quoted in errors.
const maxBodyLogLen = 200

// slowRequestThreshold is the time-to-headers above which requests are logged at WARN level.
const slowRequestThreshold = 2 * time.Second

// NewHTTPClient returns an http.Client that tags and logs every request.
// It has no overall timeout: callers bound each request with a context, and
// the progress stream must be allowed to stay open indefinitely.
func NewHTTPClient(logger *slog.Logger) *http.Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Client{
		Transport: &loggingTransport{next: http.DefaultTransport, logger: logger},
	}
}

// loggingTransport logs all requests with timing.
// Slow requests and non-2xx responses are logged at WARN level.
type loggingTransport struct {
	next   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(RequestIDHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	attrs := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"request_id", req.Header.Get(RequestIDHeader),
		"duration_ms", duration.Milliseconds(),
	}

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		t.logger.Debug("request cancelled", attrs...)
	case err != nil:
		attrs = append(attrs, "error", err.Error())
		t.logger.Warn("request failed", attrs...)
	case resp.StatusCode >= 400:
		attrs = append(attrs, "status", resp.StatusCode)
		t.logger.Warn("request rejected", attrs...)
	case duration > slowRequestThreshold:
		attrs = append(attrs, "status", resp.StatusCode)
		t.logger.Warn("slow request", attrs...)
	default:
		attrs = append(attrs, "status", resp.StatusCode)
		t.logger.Debug("request completed", attrs...)
	}

	return resp, err
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
