package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/vamos-go/internal/config"
	"github.com/raphaelgruber/vamos-go/internal/models"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		data     string
		percent  int
		stage    models.Stage
		terminal bool
		warning  bool
	}{
		{"30,extracting,processing", 30, models.StageExtracting, false, false},
		{"55,masking,processing", 55, models.StageMasking, false, false},
		{"73.4,masking,processing", 73, models.StageMasking, false, false},
		{" 100 , done , done ", 100, models.StageDone, true, false},
		{"100,combining_final,processing", 100, models.StageCombiningFinal, false, false},
		{"99,done,done", 99, models.StageDone, false, false},
		{"40,resizing,processing", 40, models.StageUnknown, false, false},
		{"12,splitting", 12, models.StageSplitting, false, false},
		{"abc,masking,processing", 0, models.StageMasking, false, true},
		{"-1,masking,processing", 0, models.StageMasking, false, true},
		{"101,masking,processing", 0, models.StageMasking, false, true},
		{"NaN,masking,processing", 0, models.StageMasking, false, true},
		{"garbage", 0, models.StageUnknown, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			u := ParseEvent(tt.data)
			assert.Equal(t, tt.percent, u.Percent)
			assert.Equal(t, tt.stage, u.Stage)
			assert.Equal(t, tt.terminal, u.Terminal)
			assert.Equal(t, tt.warning, u.Warning != "", "warning: %q", u.Warning)
		})
	}
}

func TestParseEventErrorStatus(t *testing.T) {
	u := ParseEvent("42,masking,error")
	assert.True(t, u.Failed())
	assert.False(t, u.Terminal)

	u = ParseEvent("oops,masking,error")
	assert.True(t, u.Failed())
}

func TestUpdateLabel(t *testing.T) {
	assert.Equal(t, "Masking faces and license plates", ParseEvent("10,masking,processing").Label())
	assert.Equal(t, "Analyzing", ParseEvent("10,resizing,processing").Label())
}

// sseServer serves the given events on /progress-stream/{id} and then either
// hangs until the client goes away or ends the response.
func sseServer(t *testing.T, events []string, hang bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/progress-stream/job-1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
		if hang {
			<-r.Context().Done()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
	errs    []error
	calls   atomic.Int64
}

func (r *recorder) handler() Handler {
	return Handler{
		OnUpdate: func(u Update) {
			r.calls.Add(1)
			r.mu.Lock()
			r.updates = append(r.updates, u)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.calls.Add(1)
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]Update, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...), append([]error(nil), r.errs...)
}

func newListener(t *testing.T, srv *httptest.Server) *Listener {
	t.Helper()
	l, err := NewListener(srv.URL, srv.Client(), config.DiscardLogger(), nil)
	require.NoError(t, err)
	return l
}

func waitDone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not finish")
	}
}

func TestSubscribeDeliversUntilTerminal(t *testing.T) {
	srv := sseServer(t, []string{
		"30,extracting,processing",
		"abc,masking,processing",
		"55,masking,processing",
		"100,done,done",
		"100,done,done",
	}, true)
	rec := &recorder{}

	sub := newListener(t, srv).Subscribe(context.Background(), "job-1", rec.handler())
	waitDone(t, sub)

	updates, errs := rec.snapshot()
	assert.Empty(t, errs)
	require.Len(t, updates, 4)
	assert.Equal(t, 30, updates[0].Percent)
	assert.NotEmpty(t, updates[1].Warning)
	assert.Equal(t, models.StageMasking, updates[2].Stage)
	assert.True(t, updates[3].Terminal)
}

func TestSubscribeEndOfStreamIsDropped(t *testing.T) {
	srv := sseServer(t, []string{"30,extracting,processing"}, false)
	rec := &recorder{}

	sub := newListener(t, srv).Subscribe(context.Background(), "job-1", rec.handler())
	waitDone(t, sub)

	updates, errs := rec.snapshot()
	assert.Len(t, updates, 1)
	require.Len(t, errs, 1)
	var typed *models.Error
	require.ErrorAs(t, errs[0], &typed)
	assert.Equal(t, models.KindStream, typed.Kind)
	assert.Equal(t, models.ReasonDropped, typed.Reason)
}

func TestSubscribeRejected(t *testing.T) {
	srv := sseServer(t, nil, false)
	rec := &recorder{}
	l := newListener(t, srv)

	sub := l.Subscribe(context.Background(), "other-job", rec.handler())
	waitDone(t, sub)

	_, errs := rec.snapshot()
	require.Len(t, errs, 1)
	var typed *models.Error
	require.ErrorAs(t, errs[0], &typed)
	assert.Equal(t, models.ReasonRejected, typed.Reason)
	assert.Equal(t, http.StatusNotFound, typed.Status)
}

func TestSubscribeRemoteError(t *testing.T) {
	srv := sseServer(t, []string{"20,splitting,processing", "20,splitting,error", "30,splitting,processing"}, true)
	rec := &recorder{}

	sub := newListener(t, srv).Subscribe(context.Background(), "job-1", rec.handler())
	waitDone(t, sub)

	updates, errs := rec.snapshot()
	assert.Len(t, updates, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, models.KindStream, models.KindOf(errs[0]))
}

func TestSubscribeConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	l, err := NewListener(srv.URL, srv.Client(), config.DiscardLogger(), nil)
	require.NoError(t, err)
	srv.Close()
	rec := &recorder{}

	sub := l.Subscribe(context.Background(), "job-1", rec.handler())
	waitDone(t, sub)

	_, errs := rec.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, models.IsRetryable(errs[0]))
}

func TestCloseStopsDelivery(t *testing.T) {
	events := make(chan string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		for {
			select {
			case ev := <-events:
				fmt.Fprintf(w, "data: %s\n\n", ev)
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	rec := &recorder{}
	got := make(chan struct{}, 1)
	h := rec.handler()
	onUpdate := h.OnUpdate
	h.OnUpdate = func(u Update) {
		onUpdate(u)
		got <- struct{}{}
	}

	sub := newListener(t, srv).Subscribe(context.Background(), "job-1", h)
	events <- "10,splitting,processing"
	<-got

	require.NoError(t, sub.Close())
	before := rec.calls.Load()
	waitDone(t, sub)
	require.NoError(t, sub.Close())

	assert.Equal(t, int64(1), before)
	assert.Equal(t, before, rec.calls.Load())
	_, errs := rec.snapshot()
	assert.Empty(t, errs)
}

func TestParentContextCancelSilencesSubscription(t *testing.T) {
	srv := sseServer(t, nil, true)
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	sub := newListener(t, srv).Subscribe(ctx, "job-1", rec.handler())
	cancel()
	waitDone(t, sub)

	assert.Zero(t, rec.calls.Load())
}
