package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/raphaelgruber/vamos-go/internal/metrics"
	"github.com/raphaelgruber/vamos-go/internal/models"
)

const op = "progress stream"

// Handler receives the events of one subscription.
// Both callbacks run on the subscription's reader goroutine, one at a time.
type Handler struct {
	OnUpdate func(Update)
	// OnError is invoked at most once, after which the subscription is closed.
	OnError func(error)
}

// Listener opens progress subscriptions against the backend.
type Listener struct {
	base       *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// NewListener creates a listener for the backend at baseURL. The http client
// must not carry an overall timeout since the stream stays open for the whole job.
func NewListener(baseURL string, httpClient *http.Client, logger *slog.Logger, collector *metrics.Collector) (*Listener, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{base: base, httpClient: httpClient, logger: logger, metrics: collector}, nil
}

// Subscription is a live progress stream for one job.
type Subscription struct {
	jobID   string
	handler Handler
	cancel  context.CancelFunc
	done    chan struct{}

	// mu is held while a handler runs so Close can wait for it.
	mu     sync.Mutex
	closed bool
}

// Subscribe opens the progress stream of jobID and returns immediately.
// Events are delivered to h until a terminal update, an error or Close.
func (l *Listener) Subscribe(ctx context.Context, jobID string, h Handler) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		jobID:   jobID,
		handler: h,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx, l)
	return s
}

// JobID returns the job this subscription follows.
func (s *Subscription) JobID() string {
	return s.jobID
}

// Close terminates the connection. Once it returns no handler is running and
// none will be invoked. Close is idempotent but must not be called from a handler.
func (s *Subscription) Close() error {
	s.cancel()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Done is closed when the reader goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run(ctx context.Context, l *Listener) {
	defer close(s.done)
	defer s.cancel()

	start := time.Now()
	err := s.read(ctx, l)
	l.metrics.RecordTiming(metrics.OpStream, time.Since(start), err)
	if err != nil {
		l.logger.Warn("progress stream ended", "job_id", s.jobID, "error", err)
		s.fail(err)
		return
	}
	l.logger.Debug("progress stream closed", "job_id", s.jobID, "duration", time.Since(start).Round(time.Millisecond))
}

// read consumes the stream. It returns nil after a terminal update or when
// the subscription was closed, and a stream error otherwise.
func (s *Subscription) read(ctx context.Context, l *Listener) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base.JoinPath("progress-stream", s.jobID).String(), nil)
	if err != nil {
		return &models.Error{Kind: models.KindStream, Reason: models.ReasonRejected, Op: op, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &models.Error{Kind: models.KindStream, Reason: models.ReasonDropped, Op: op, Msg: "connect", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &models.Error{Kind: models.KindStream, Reason: models.ReasonRejected, Op: op, Status: resp.StatusCode, Msg: resp.Status}
	}

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &models.Error{Kind: models.KindStream, Reason: models.ReasonDropped, Op: op, Err: err}
		}
		if ev.Data == "" {
			continue
		}

		u := ParseEvent(ev.Data)
		if u.Failed() {
			return &models.Error{Kind: models.KindStream, Reason: models.ReasonRemote, Op: op, Msg: u.Raw}
		}
		if u.Warning != "" {
			l.logger.Warn("malformed progress event", "job_id", s.jobID, "data", u.Raw, "warning", u.Warning)
		}
		if !s.deliver(u) || u.Terminal {
			return nil
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return &models.Error{Kind: models.KindStream, Reason: models.ReasonDropped, Op: op, Err: errors.New("stream ended before completion")}
}

// deliver hands u to the handler unless the subscription is closed.
// A terminal update closes the subscription before the handler sees it.
func (s *Subscription) deliver(u Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if u.Terminal {
		s.closed = true
		s.cancel()
	}
	if s.handler.OnUpdate != nil {
		s.handler.OnUpdate(u)
	}
	return true
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	if s.handler.OnError != nil {
		s.handler.OnError(err)
	}
}
