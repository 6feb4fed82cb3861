//go:build !unix

package presenter

import (
	"errors"
	"fmt"
)

func (p *ProcessPlayer) suspend() error {
	return fmt.Errorf("pause %s player: %w", p.label, errors.ErrUnsupported)
}

func (p *ProcessPlayer) resume() error {
	return nil
}

func (p *ProcessPlayer) terminate() error {
	return p.cmd.Process.Kill()
}
