package cli

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

const (
	minBarWidth     = 20
	maxBarWidth     = 60
	defaultBarWidth = 40
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// interactive reports whether the full-screen views can be used.
func interactive() bool {
	return !plain && isTerminal(os.Stdin) && isTerminal(os.Stdout)
}

// barWidth sizes progress bars to the terminal, leaving room for labels.
func barWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return defaultBarWidth
	}
	return min(max(w-30, minBarWidth), maxBarWidth)
}
