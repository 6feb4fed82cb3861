// Package presenter shows the result of a completed job: the original and
// masked videos side by side, played and paused as one unit.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/raphaelgruber/vamos-go/internal/models"
)

// Player controls one playing video.
type Player interface {
	Play() error
	Pause() error
	Close() error
}

// ResultSource resolves the media of a completed job.
type ResultSource interface {
	FetchResult(ctx context.Context, jobID string) (models.ResultRefs, error)
	DerivedResult(jobID string) models.ResultRefs
}

// OpenFunc starts a player for url. label is "original" or "masked".
type OpenFunc func(ctx context.Context, label, url string) (Player, error)

// Presenter holds the result of the last presented job and its players.
type Presenter struct {
	source ResultSource
	open   OpenFunc
	logger *slog.Logger

	mu       sync.Mutex
	jobID    string
	refs     models.ResultRefs
	original Player
	masked   Player
	playing  bool
}

// New creates a presenter. open may be nil, in which case Present only
// resolves references and players must be mounted explicitly.
func New(source ResultSource, open OpenFunc, logger *slog.Logger) *Presenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presenter{source: source, open: open, logger: logger}
}

// Present resolves the media of job and, if an OpenFunc is configured,
// starts and mounts a player for each reference. When the backend has no
// result record the job's own result is used, and a missing original falls
// back to the uploaded file if it is still on disk.
func (p *Presenter) Present(ctx context.Context, job models.Job) error {
	jobID := job.ID
	refs, err := p.source.FetchResult(ctx, jobID)
	if err != nil {
		if models.KindOf(err) != models.KindNotFound {
			return fmt.Errorf("fetch result: %w", err)
		}
		if job.Result != nil && job.Result.MaskedURL != "" {
			refs = *job.Result
		} else {
			refs = p.source.DerivedResult(jobID)
		}
		p.logger.Info("result endpoint has no record, using derived reference", "job_id", jobID, "masked_url", refs.MaskedURL)
	}
	if refs.OriginalURL == "" && job.FilePath != "" {
		if _, statErr := os.Stat(job.FilePath); statErr == nil {
			refs.OriginalURL = models.FileURL(job.FilePath)
		}
	}
	if len(refs.Frames) == 0 {
		switch {
		case job.Result != nil && len(job.Result.Frames) > 0:
			refs.Frames = slices.Clone(job.Result.Frames)
		case len(job.Frames) > 0:
			refs.Frames = slices.Clone(job.Frames)
		}
	}

	p.mu.Lock()
	p.jobID = jobID
	p.refs = refs
	p.mu.Unlock()

	if p.open == nil {
		return nil
	}

	var original, masked Player
	if refs.OriginalURL != "" {
		if original, err = p.open(ctx, "original", refs.OriginalURL); err != nil {
			return fmt.Errorf("open original: %w", err)
		}
	}
	if masked, err = p.open(ctx, "masked", refs.MaskedURL); err != nil {
		if original != nil {
			_ = original.Close()
		}
		return fmt.Errorf("open masked: %w", err)
	}
	return p.Mount(original, masked)
}

// Refs returns the job and references of the last Present call.
func (p *Presenter) Refs() (string, models.ResultRefs, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID, p.refs, p.jobID != ""
}

// Mount attaches the players, closing any previously mounted ones, and starts
// both. Either player may be nil when its media is unavailable.
func (p *Presenter) Mount(original, masked Player) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeLocked()
	p.original, p.masked = original, masked
	return p.applyLocked("play", Player.Play, true)
}

// Play resumes both videos.
func (p *Presenter) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applyLocked("play", Player.Play, true)
}

// Pause pauses both videos.
func (p *Presenter) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applyLocked("pause", Player.Pause, false)
}

// Toggle pauses if playing and plays otherwise.
func (p *Presenter) Toggle() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return p.applyLocked("pause", Player.Pause, false)
	}
	return p.applyLocked("play", Player.Play, true)
}

// Playing reports the last commanded state.
func (p *Presenter) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Close stops and releases the mounted players.
func (p *Presenter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Presenter) mountedLocked() []Player {
	players := make([]Player, 0, 2)
	for _, pl := range []Player{p.original, p.masked} {
		if pl != nil {
			players = append(players, pl)
		}
	}
	return players
}

// applyLocked runs action on every mounted player. Failures are logged and
// joined; a missing mount is logged and otherwise ignored.
func (p *Presenter) applyLocked(name string, action func(Player) error, playing bool) error {
	players := p.mountedLocked()
	if len(players) == 0 {
		p.logger.Warn("no players mounted", "action", name, "job_id", p.jobID)
		return nil
	}

	var errs []error
	for _, pl := range players {
		if err := action(pl); err != nil {
			p.logger.Warn("player command failed", "action", name, "job_id", p.jobID, "error", err)
			errs = append(errs, err)
		}
	}
	p.playing = playing
	return errors.Join(errs...)
}

func (p *Presenter) closeLocked() error {
	var errs []error
	for _, pl := range p.mountedLocked() {
		if err := pl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.original, p.masked = nil, nil
	p.playing = false
	return errors.Join(errs...)
}
