//go:build unix

package presenter

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

func (p *ProcessPlayer) suspend() error {
	return p.signal(unix.SIGSTOP)
}

func (p *ProcessPlayer) resume() error {
	return p.signal(unix.SIGCONT)
}

func (p *ProcessPlayer) terminate() error {
	return p.signal(unix.SIGTERM)
}

func (p *ProcessPlayer) signal(sig syscall.Signal) error {
	if err := unix.Kill(p.cmd.Process.Pid, sig); err != nil {
		return fmt.Errorf("signal %s player: %w", p.label, err)
	}
	return nil
}
