// Package service drives a video job through upload, analysis and progress tracking.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/raphaelgruber/vamos-go/internal/client"
	"github.com/raphaelgruber/vamos-go/internal/config"
	"github.com/raphaelgruber/vamos-go/internal/models"
	"github.com/raphaelgruber/vamos-go/internal/stream"
)

// recordTimeout bounds a single history write.
const recordTimeout = 5 * time.Second

// Transport is the part of the backend client the orchestrator drives.
type Transport interface {
	ValidateFile(path string) (int64, error)
	Upload(ctx context.Context, path string, onProgress client.ProgressFunc) (string, error)
	TriggerAnalysis(ctx context.Context, jobID string) ([]string, error)
	DerivedResult(jobID string) models.ResultRefs
}

// Subscription is an open progress stream.
type Subscription interface {
	Close() error
}

// Listener opens progress streams. Subscribe must return without invoking h.
type Listener interface {
	Subscribe(ctx context.Context, jobID string, h stream.Handler) Subscription
}

// Recorder persists job transitions.
type Recorder interface {
	Record(ctx context.Context, job models.Job) error
}

// ResultPresenter receives completed jobs.
type ResultPresenter interface {
	Present(ctx context.Context, job models.Job) error
}

// PresenterFunc adapts a function to the ResultPresenter interface.
type PresenterFunc func(ctx context.Context, job models.Job) error

// Present calls f.
func (f PresenterFunc) Present(ctx context.Context, job models.Job) error {
	return f(ctx, job)
}

// StreamListener adapts a stream.Listener to the Listener interface.
func StreamListener(l *stream.Listener) Listener {
	return streamListener{l}
}

type streamListener struct {
	l *stream.Listener
}

func (s streamListener) Subscribe(ctx context.Context, jobID string, h stream.Handler) Subscription {
	return s.l.Subscribe(ctx, jobID, h)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every status transition.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithPresenter hands completed jobs to p.
func WithPresenter(p ResultPresenter) Option {
	return func(o *Orchestrator) { o.presenter = p }
}

// Orchestrator owns the single active Job. All transitions happen under mu;
// callbacks from superseded jobs or subscriptions are recognized by their
// generation and sequence numbers and ignored.
type Orchestrator struct {
	transport Transport
	listener  Listener
	recorder  Recorder
	presenter ResultPresenter
	logger    *slog.Logger

	staleTimeout      time.Duration
	reconnectAttempts int
	reconnectDelay    time.Duration
	triggerRetryDelay time.Duration

	mu  sync.Mutex
	job models.Job
	// gen increases whenever the current job is replaced or cancelled.
	gen uint64
	// subSeq identifies the current subscription within a job.
	subSeq    uint64
	sub       Subscription
	jobCtx    context.Context
	cancelJob context.CancelFunc
	reconnect backoff.BackOff
	lastEvent time.Time

	staleTimer *time.Timer
	retryTimer *time.Timer

	watchers map[chan models.Job]struct{}
	changed  chan struct{}

	// pending holds history writes queued under mu. recMu keeps them in order
	// once they are written outside mu.
	pending []models.Job
	recMu   sync.Mutex
}

// New creates an idle orchestrator.
func New(cfg config.Config, transport Transport, listener Listener, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		transport:         transport,
		listener:          listener,
		logger:            logger,
		staleTimeout:      cfg.StaleTimeout,
		reconnectAttempts: cfg.ReconnectAttempts,
		reconnectDelay:    cfg.ReconnectDelay,
		triggerRetryDelay: cfg.TriggerRetryDelay,
		job:               models.Job{Status: models.StatusIdle},
		watchers:          make(map[chan models.Job]struct{}),
		changed:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// =============================================================================
// OBSERVATION
// =============================================================================

// Snapshot returns a copy of the current job.
func (o *Orchestrator) Snapshot() models.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.job.Clone()
}

// Watch returns a channel that always holds the latest job snapshot.
// Intermediate snapshots may be skipped by slow readers. stop releases the
// channel and closes it.
func (o *Orchestrator) Watch() (updates <-chan models.Job, stop func()) {
	ch := make(chan models.Job, 1)

	o.mu.Lock()
	ch <- o.job.Clone()
	o.watchers[ch] = struct{}{}
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.watchers, ch)
			close(ch)
			o.mu.Unlock()
		})
	}
}

// Wait blocks until the job is no longer uploading, queued or processing.
func (o *Orchestrator) Wait(ctx context.Context) (models.Job, error) {
	for {
		o.mu.Lock()
		if !o.job.Status.Active() {
			job := o.job.Clone()
			o.mu.Unlock()
			return job, nil
		}
		changed := o.changed
		o.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return o.Snapshot(), ctx.Err()
		}
	}
}

// publish hands the job to observers. Caller must hold mu.
func (o *Orchestrator) publish() {
	o.job.Version++
	o.job.UpdatedAt = time.Now()
	snap := o.job.Clone()
	for ch := range o.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	close(o.changed)
	o.changed = make(chan struct{})
}

// record queues job for the history. Caller must hold mu and release it
// with unlock so the write happens outside the lock.
func (o *Orchestrator) record(job models.Job) {
	if o.recorder == nil || job.ID == "" {
		return
	}
	o.pending = append(o.pending, job.Clone())
}

// unlock releases mu and writes queued history records.
func (o *Orchestrator) unlock() {
	queued := len(o.pending) > 0
	o.mu.Unlock()
	if queued {
		o.flushRecords()
	}
}

// Flush blocks until every transition so far has been written to the history.
func (o *Orchestrator) Flush() {
	o.flushRecords()
}

func (o *Orchestrator) flushRecords() {
	o.recMu.Lock()
	defer o.recMu.Unlock()

	o.mu.Lock()
	jobs := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, job := range jobs {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := o.recorder.Record(ctx, job); err != nil {
			o.logger.Warn("failed to record job", "job_id", job.ID, "status", job.Status, "error", err)
		}
		cancel()
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// StartJob uploads path, triggers analysis and opens the progress stream.
// It blocks until the job is Processing or Failed. Lifecycle failures are
// recorded on the job; the returned error reports only rejected requests
// (models.ErrJobActive, models.ErrInvalidFile). Cancelling ctx before StartJob
// returns cancels the job.
func (o *Orchestrator) StartJob(ctx context.Context, path string) error {
	o.mu.Lock()
	if o.job.Status.Active() {
		o.mu.Unlock()
		return models.ErrJobActive
	}
	size, err := o.transport.ValidateFile(path)
	if err != nil {
		o.mu.Unlock()
		return err
	}

	gen := o.resetLocked(models.Job{
		Status:   models.StatusUploading,
		FilePath: path,
		FileSize: size,
	})
	jobCtx := o.jobCtx
	o.publish()
	o.mu.Unlock()

	o.logger.Info("job started", "path", path, "bytes", size)

	stop := context.AfterFunc(ctx, func() { o.cancelGeneration(gen) })
	defer stop()

	id, err := o.transport.Upload(jobCtx, path, func(sent, total int64) {
		o.uploadProgress(gen, sent, total)
	})
	if err != nil {
		o.fail(gen, err)
		return nil
	}

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return nil
	}
	o.job.ID = id
	o.job.Status = models.StatusQueued
	o.job.UploadPercent = 100
	o.record(o.job)
	o.publish()
	o.unlock()

	o.logger.Info("upload complete, triggering analysis", "job_id", id)

	frames, err := o.trigger(jobCtx, id)
	if err != nil {
		o.fail(gen, err)
		return nil
	}

	o.mu.Lock()
	defer o.unlock()
	if gen != o.gen {
		return nil
	}
	o.job.Status = models.StatusProcessing
	o.job.Frames = frames
	o.record(o.job)
	o.publish()
	o.subscribeLocked()
	return nil
}

// Resume follows the progress of a job that was already triggered, e.g. by
// an earlier session. filePath is the uploaded video when it is known; it
// becomes the original reference of the result. Resume is rejected while
// another job is active.
func (o *Orchestrator) Resume(jobID, filePath string) error {
	if jobID == "" {
		return fmt.Errorf("resume: empty job id")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job.Status.Active() {
		return models.ErrJobActive
	}
	o.resetLocked(models.Job{ID: jobID, Status: models.StatusProcessing, FilePath: filePath})
	o.publish()
	o.subscribeLocked()

	o.logger.Info("resuming job", "job_id", jobID)
	return nil
}

// Cancel abandons the current job and returns to Idle. It is a no-op unless a
// job is uploading, queued or processing. When it returns the subscription is
// closed and no callback from the abandoned job can change state.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	sub, cancel, ok := o.cancelLocked()
	o.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	if sub != nil {
		_ = sub.Close()
	}
	o.flushRecords()
}

func (o *Orchestrator) cancelGeneration(gen uint64) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	sub, cancel, ok := o.cancelLocked()
	o.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	if sub != nil {
		_ = sub.Close()
	}
	o.flushRecords()
}

// cancelLocked moves an active job to Idle and returns what must be released
// once mu is unlocked.
func (o *Orchestrator) cancelLocked() (Subscription, context.CancelFunc, bool) {
	if !o.job.Status.Active() {
		return nil, nil, false
	}
	prev := o.job.Clone()
	o.logger.Info("job cancelled", "job_id", prev.ID, "status", prev.Status)

	sub, cancel := o.detachLocked()
	o.gen++

	o.job = models.Job{Status: models.StatusIdle, Version: prev.Version}
	prev.Status = models.StatusIdle
	o.record(prev)
	o.publish()
	return sub, cancel, true
}

// resetLocked replaces the job and returns its generation. Caller must hold mu.
func (o *Orchestrator) resetLocked(job models.Job) uint64 {
	if o.cancelJob != nil {
		o.cancelJob()
	}
	o.gen++
	o.stopTimersLocked()
	o.sub = nil

	now := time.Now()
	job.StartedAt = now
	job.Version = o.job.Version
	o.job = job
	o.jobCtx, o.cancelJob = context.WithCancel(context.Background())
	o.reconnect = o.newReconnectBackOff()
	return o.gen
}

// detachLocked stops timers and hands back the subscription and job context
// cancel func for release outside mu.
func (o *Orchestrator) detachLocked() (Subscription, context.CancelFunc) {
	o.stopTimersLocked()
	sub := o.sub
	o.sub = nil
	cancel := o.cancelJob
	if cancel == nil {
		cancel = func() {}
	}
	o.cancelJob = nil
	return sub, cancel
}

func (o *Orchestrator) stopTimersLocked() {
	if o.staleTimer != nil {
		o.staleTimer.Stop()
		o.staleTimer = nil
	}
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
}

// =============================================================================
// UPLOAD AND TRIGGER
// =============================================================================

func (o *Orchestrator) uploadProgress(gen uint64, sent, total int64) {
	if total <= 0 {
		return
	}
	pct := int(sent * 100 / total)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.job.Status != models.StatusUploading || pct <= o.job.UploadPercent {
		return
	}
	o.job.UploadPercent = min(pct, 100)
	o.publish()
}

// trigger starts analysis, retrying once after a transient transport failure.
func (o *Orchestrator) trigger(ctx context.Context, jobID string) ([]string, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(o.triggerRetryDelay), 1), ctx)
	var frames []string
	op := func() error {
		var err error
		frames, err = o.transport.TriggerAnalysis(ctx, jobID)
		if err != nil && !models.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		o.logger.Warn("analysis trigger failed, retrying", "job_id", jobID, "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return frames, nil
}

// fail records err on the job of generation gen.
func (o *Orchestrator) fail(gen uint64, err error) {
	o.mu.Lock()
	if gen != o.gen || !o.job.Status.Active() {
		o.mu.Unlock()
		return
	}
	sub, cancel := o.failLocked(err)
	o.unlock()

	cancel()
	if sub != nil {
		_ = sub.Close()
	}
}

func (o *Orchestrator) failLocked(err error) (Subscription, context.CancelFunc) {
	sub, cancel := o.detachLocked()
	o.job.Status = models.StatusFailed
	o.job.Error = models.NewJobError(err)
	o.record(o.job)
	o.publish()
	o.logger.Error("job failed", "job_id", o.job.ID, "kind", o.job.Error.Kind, "reason", o.job.Error.Reason, "error", err)
	return sub, cancel
}

// =============================================================================
// PROGRESS STREAM
// =============================================================================

func (o *Orchestrator) newReconnectBackOff() backoff.BackOff {
	if o.reconnectAttempts <= 0 {
		return &backoff.StopBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.reconnectDelay
	exp.MaxInterval = 30 * time.Second
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(o.reconnectAttempts))
}

// subscribeLocked opens a stream for the current job. Caller must hold mu.
func (o *Orchestrator) subscribeLocked() {
	o.subSeq++
	gen, seq := o.gen, o.subSeq

	o.sub = o.listener.Subscribe(o.jobCtx, o.job.ID, stream.Handler{
		OnUpdate: func(u stream.Update) { o.onUpdate(gen, seq, u) },
		OnError:  func(err error) { o.onStreamError(gen, seq, err) },
	})
	o.lastEvent = time.Now()
	if o.staleTimeout > 0 {
		o.staleTimer = time.AfterFunc(o.staleTimeout, func() { o.onStale(gen, seq) })
	}
}

// currentLocked reports whether a callback belongs to the live subscription.
func (o *Orchestrator) currentLocked(gen, seq uint64) bool {
	return gen == o.gen && seq == o.subSeq && o.sub != nil && o.job.Status == models.StatusProcessing
}

func (o *Orchestrator) onUpdate(gen, seq uint64, u stream.Update) {
	o.mu.Lock()
	defer o.unlock()
	if !o.currentLocked(gen, seq) {
		return
	}
	o.lastEvent = time.Now()

	if u.Warning != "" {
		o.logger.Debug("ignoring malformed progress event", "job_id", o.job.ID, "data", u.Raw)
		return
	}
	o.reconnect.Reset()

	if u.Percent < o.job.Percent {
		o.logger.Debug("ignoring regressive progress", "job_id", o.job.ID, "percent", u.Percent, "current", o.job.Percent)
		return
	}
	// At an unchanged percent a stage is taken only if it comes later than
	// the current one.
	advanced := u.Percent > o.job.Percent
	o.job.Percent = u.Percent
	if u.Stage != "" && u.Stage != o.job.Stage && (advanced || u.Stage.After(o.job.Stage)) {
		o.job.Stage = u.Stage
		o.job.StageHistory = append(o.job.StageHistory, u.Stage)
	}

	if !u.Terminal || u.Percent < 100 {
		o.publish()
		return
	}

	// The stream closed itself before delivering the terminal update.
	o.stopTimersLocked()
	o.sub = nil
	o.job.Status = models.StatusCompleted
	refs := o.transport.DerivedResult(o.job.ID)
	if refs.OriginalURL == "" && o.job.FilePath != "" {
		refs.OriginalURL = models.FileURL(o.job.FilePath)
	}
	if len(refs.Frames) == 0 {
		refs.Frames = o.job.Frames
	}
	o.job.Result = &refs
	o.record(o.job)
	o.publish()
	o.logger.Info("job completed", "job_id", o.job.ID, "stages", len(o.job.StageHistory))

	if o.presenter != nil {
		job := o.job.Clone()
		go func() {
			if err := o.presenter.Present(context.Background(), job); err != nil {
				o.logger.Warn("failed to present result", "job_id", job.ID, "error", err)
			}
		}()
	}
}

func (o *Orchestrator) onStreamError(gen, seq uint64, err error) {
	o.mu.Lock()
	defer o.unlock()
	if !o.currentLocked(gen, seq) {
		return
	}
	// The stream already closed itself.
	o.sub = nil
	o.streamFailedLocked(gen, err)
}

func (o *Orchestrator) onStale(gen, seq uint64) {
	o.mu.Lock()
	if !o.currentLocked(gen, seq) {
		o.mu.Unlock()
		return
	}
	if wait := o.staleTimeout - time.Since(o.lastEvent); wait > 0 {
		o.staleTimer.Reset(wait)
		o.mu.Unlock()
		return
	}

	sub := o.sub
	o.sub = nil
	o.streamFailedLocked(gen, &models.Error{
		Kind:   models.KindStream,
		Reason: models.ReasonStale,
		Op:     "progress stream",
		Msg:    fmt.Sprintf("no event for %s", o.staleTimeout),
	})
	o.unlock()

	_ = sub.Close()
}

// streamFailedLocked schedules a reconnect for recoverable stream errors and
// fails the job otherwise. The subscription must already be detached.
func (o *Orchestrator) streamFailedLocked(gen uint64, err error) {
	o.stopTimersLocked()

	wait := backoff.Stop
	if models.IsRetryable(err) {
		wait = o.reconnect.NextBackOff()
	}
	if wait == backoff.Stop {
		_, cancel := o.failLocked(err)
		// Safe under mu: cancelling only stops request contexts.
		cancel()
		return
	}

	o.job.Reconnects++
	o.publish()
	o.logger.Warn("progress stream interrupted, reconnecting", "job_id", o.job.ID, "attempt", o.job.Reconnects, "wait", wait, "error", err)

	o.retryTimer = time.AfterFunc(wait, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if gen != o.gen || o.sub != nil || o.job.Status != models.StatusProcessing {
			return
		}
		o.retryTimer = nil
		o.subscribeLocked()
	})
}
