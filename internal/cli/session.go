package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/raphaelgruber/vamos-go/internal/client"
	"github.com/raphaelgruber/vamos-go/internal/models"
	"github.com/raphaelgruber/vamos-go/internal/presenter"
	"github.com/raphaelgruber/vamos-go/internal/service"
	"github.com/raphaelgruber/vamos-go/internal/stream"
)

// session wires the client, progress stream, orchestrator and presenter for one command.
type session struct {
	client    *client.Client
	orch      *service.Orchestrator
	presenter *presenter.Presenter
	// presented receives the outcome of the completed-job handoff.
	presented chan error
	play      bool
}

// newSession builds the components for a job. With play set, completed jobs
// open the configured player for the original and masked video.
func newSession(ctx context.Context, play bool) (*session, error) {
	c, err := client.New(cfg, nil, logger, collector)
	if err != nil {
		return nil, err
	}
	listener, err := stream.NewListener(cfg.APIURL, c.HTTPClient(), logger, collector)
	if err != nil {
		return nil, err
	}

	var open presenter.OpenFunc
	if play {
		open = presenter.ProcessOpener(cfg.PlayerCommand, cfg.PlayerArgs, logger)
	}
	s := &session{
		client:    c,
		presenter: presenter.New(c, open, logger),
		presented: make(chan error, 1),
		play:      play,
	}

	opts := []service.Option{
		service.WithPresenter(service.PresenterFunc(func(ctx context.Context, job models.Job) error {
			err := s.presenter.Present(ctx, job)
			s.presented <- err
			return err
		})),
	}
	if h, err := openHistory(ctx); err != nil {
		logger.Warn("job history unavailable", "error", err)
	} else {
		opts = append(opts, service.WithRecorder(h))
	}

	s.orch = service.New(cfg, c, service.StreamListener(listener), logger, opts...)
	return s, nil
}

// run starts the job with start and follows it to a terminal state. A
// completed job's result is printed or played.
func (s *session) run(ctx context.Context, start func(context.Context) error) error {
	defer s.presenter.Close()
	defer s.orch.Flush()

	updates, stop := s.orch.Watch()
	defer stop()

	started := make(chan error, 1)
	go func() { started <- start(ctx) }()

	var (
		job     models.Job
		stopped bool
		err     error
	)
	if interactive() {
		job, stopped, err = runProgressUI(updates, started, s.orch.Cancel)
	} else {
		job, stopped, err = followPlain(ctx, os.Stdout, updates, started, s.orch.Cancel)
	}
	if err != nil {
		return err
	}
	if stopped {
		if !interactive() {
			fmt.Println(resumeHint(job.ID))
		}
		return nil
	}

	switch job.Status {
	case models.StatusCompleted:
		return s.finish(ctx, job)
	case models.StatusFailed:
		return jobFailedError(job)
	default:
		fmt.Println("Job cancelled.")
		return nil
	}
}

// finish waits for the presenter handoff and shows the result.
func (s *session) finish(ctx context.Context, job models.Job) error {
	select {
	case err := <-s.presented:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	id, refs, _ := s.presenter.Refs()
	if !s.play {
		printRefs(os.Stdout, id, refs)
		return nil
	}
	return playUntilDone(ctx, s.presenter, id, refs)
}

// playUntilDone keeps the players open until the user quits.
func playUntilDone(ctx context.Context, p *presenter.Presenter, jobID string, refs models.ResultRefs) error {
	if interactive() {
		return runPlaybackUI(p, jobID, refs)
	}
	printRefs(os.Stdout, jobID, refs)
	fmt.Println("Playing. Press Ctrl+C to stop.")
	<-ctx.Done()
	return nil
}

// followPlain prints one line per visible change until the job settles.
// Cancelling ctx abandons the job and reports it as stopped.
func followPlain(ctx context.Context, w io.Writer, updates <-chan models.Job, started <-chan error, cancel func()) (models.Job, bool, error) {
	var (
		last   models.Job
		active bool
		line   string
	)
	for {
		select {
		case <-ctx.Done():
			cancel()
			return last, true, nil
		case err := <-started:
			if err != nil {
				return last, false, err
			}
			started = nil
		case job, ok := <-updates:
			if !ok {
				return last, false, nil
			}
			last = job

			if next := plainLine(job); next != line {
				line = next
				fmt.Fprintln(w, line)
			}

			switch {
			case job.Status.Terminal():
				return job, false, nil
			case job.Status.Active():
				active = true
			case active:
				return job, false, nil
			}
		}
	}
}

func plainLine(job models.Job) string {
	switch job.Status {
	case models.StatusIdle:
		return ""
	case models.StatusUploading:
		return fmt.Sprintf("[%s] %3d%% %s", job.Status, job.UploadPercent, job.StatusLine())
	case models.StatusProcessing:
		return fmt.Sprintf("[%s] %3d%% %s", job.Status, job.Percent, job.StatusLine())
	default:
		return fmt.Sprintf("[%s] %s", job.Status, job.StatusLine())
	}
}

func printRefs(w io.Writer, jobID string, refs models.ResultRefs) {
	fmt.Fprintf(w, "Result for job %s\n", jobID)
	if refs.OriginalURL != "" {
		fmt.Fprintf(w, "  Original: %s\n", refs.OriginalURL)
	}
	fmt.Fprintf(w, "  Masked:   %s\n", refs.MaskedURL)
	if len(refs.Frames) > 0 {
		fmt.Fprintf(w, "  Frames:   %d\n", len(refs.Frames))
		for _, u := range refs.Frames {
			fmt.Fprintf(w, "    %s\n", u)
		}
	}
}

// knownJob returns what the history knows about jobID. Without a history
// record only the ID is set.
func knownJob(ctx context.Context, jobID string) models.Job {
	h, err := openHistory(ctx)
	if err != nil {
		logger.Debug("job history unavailable", "error", err)
		return models.Job{ID: jobID}
	}
	rec, err := h.Get(ctx, jobID)
	if err != nil {
		logger.Debug("job not in history", "job_id", jobID, "error", err)
		return models.Job{ID: jobID}
	}
	return rec.Job
}

func jobFailedError(job models.Job) error {
	msg := job.StatusLine()
	if job.ID == "" {
		return errors.New(msg)
	}
	return fmt.Errorf("job %s failed: %s", job.ID, msg)
}
