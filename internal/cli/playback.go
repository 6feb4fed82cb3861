package cli

import (
	"fmt"
	"strings"

	tea "charm.land/bubbletea/v2"

	"github.com/raphaelgruber/vamos-go/internal/models"
)

// playbackControl is the part of the presenter the playback view drives.
type playbackControl interface {
	Toggle() error
	Playing() bool
}

// playbackModel controls the original and masked players together.
type playbackModel struct {
	control playbackControl
	jobID   string
	refs    models.ResultRefs
	theme   Theme
	err     error
}

func newPlaybackModel(control playbackControl, jobID string, refs models.ResultRefs) playbackModel {
	return playbackModel{control: control, jobID: jobID, refs: refs, theme: defaultTheme}
}

func (m playbackModel) Init() tea.Cmd {
	return nil
}

func (m playbackModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyPressMsg); ok {
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "space", " ", "p":
			m.err = m.control.Toggle()
		}
	}
	return m, nil
}

func (m playbackModel) View() tea.View {
	var b strings.Builder
	fmt.Fprintf(&b, "%s job %s\n\n", m.theme.completedStyle().Render("✓ Result"), m.jobID)
	if m.refs.OriginalURL != "" {
		fmt.Fprintf(&b, "  Original  %s\n", m.refs.OriginalURL)
	}
	fmt.Fprintf(&b, "  Masked    %s\n\n", m.refs.MaskedURL)

	state := "⏸ Paused"
	if m.control.Playing() {
		state = "▶ Playing"
	}
	fmt.Fprintf(&b, "  %s\n", m.theme.statusStyle().Render(state))
	if m.err != nil {
		fmt.Fprintf(&b, "  %s\n", m.theme.errorStyle().Render(m.err.Error()))
	}

	fmt.Fprintf(&b, "\n%s\n", m.theme.hintStyle().Render("space: play/pause • q: quit"))
	return tea.NewView(b.String())
}

// runPlaybackUI blocks until the user quits playback.
func runPlaybackUI(control playbackControl, jobID string, refs models.ResultRefs) error {
	if _, err := tea.NewProgram(newPlaybackModel(control, jobID, refs)).Run(); err != nil {
		return fmt.Errorf("playback UI error: %w", err)
	}
	return nil
}
