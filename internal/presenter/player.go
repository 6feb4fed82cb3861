package presenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// URLPlaceholder in player arguments is replaced by the media URL.
const URLPlaceholder = "{url}"

// terminateGrace is how long Close waits after SIGTERM before killing.
const terminateGrace = 2 * time.Second

// ErrPlayerExited is returned when a command targets a player that has quit.
var ErrPlayerExited = errors.New("player exited")

// ProcessPlayer is an external video player process. Pause and Play suspend
// and resume the process.
type ProcessPlayer struct {
	label  string
	cmd    *exec.Cmd
	logger *slog.Logger
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// PlayerArgs substitutes url into args, appending it if no placeholder exists.
func PlayerArgs(args []string, url string) []string {
	out := make([]string, 0, len(args)+1)
	found := false
	for _, a := range args {
		if strings.Contains(a, URLPlaceholder) {
			found = true
			a = strings.ReplaceAll(a, URLPlaceholder, url)
		}
		out = append(out, a)
	}
	if !found {
		out = append(out, url)
	}
	return out
}

// ProcessOpener returns an OpenFunc that launches command with args.
func ProcessOpener(command string, args []string, logger *slog.Logger) OpenFunc {
	return func(ctx context.Context, label, url string) (Player, error) {
		return StartProcess(label, command, PlayerArgs(args, url), logger)
	}
}

// StartProcess launches the player. The process outlives any request context;
// Close ends it.
func StartProcess(label, command string, args []string, logger *slog.Logger) (*ProcessPlayer, error) {
	if command == "" {
		return nil, errors.New("no player command configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(command, args...) //nolint:gosec
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	p := &ProcessPlayer{label: label, cmd: cmd, logger: logger, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
		logger.Debug("player exited", "label", label, "pid", cmd.Process.Pid, "error", err)
	}()

	logger.Info("player started", "label", label, "command", command, "pid", cmd.Process.Pid)
	return p, nil
}

// Done is closed when the process exits.
func (p *ProcessPlayer) Done() <-chan struct{} {
	return p.done
}

// Err returns the process exit error once Done is closed.
func (p *ProcessPlayer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *ProcessPlayer) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Play resumes the process.
func (p *ProcessPlayer) Play() error {
	if p.exited() {
		return fmt.Errorf("%s: %w", p.label, ErrPlayerExited)
	}
	return p.resume()
}

// Pause suspends the process.
func (p *ProcessPlayer) Pause() error {
	if p.exited() {
		return fmt.Errorf("%s: %w", p.label, ErrPlayerExited)
	}
	return p.suspend()
}

// Close terminates the process, killing it if it does not exit in time.
func (p *ProcessPlayer) Close() error {
	if p.exited() {
		return nil
	}
	// A suspended process would not act on the termination signal.
	_ = p.resume()
	_ = p.terminate()

	select {
	case <-p.done:
		return nil
	case <-time.After(terminateGrace):
	}
	if err := p.cmd.Process.Kill(); err != nil && !p.exited() {
		return fmt.Errorf("kill %s player: %w", p.label, err)
	}
	<-p.done
	return nil
}
