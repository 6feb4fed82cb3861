package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/vamos-go/internal/models"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// jobMsg carries the latest job snapshot.
type jobMsg models.Job

// watchClosedMsg reports that the snapshot channel was released.
type watchClosedMsg struct{}

// startedMsg carries the result of the command that started the job.
type startedMsg struct{ err error }

// progressModel is the bubbletea model that follows one job.
type progressModel struct {
	updates  <-chan models.Job
	started  <-chan error
	cancel   func()
	job      models.Job
	upload   progress.Model
	analysis progress.Model
	theme    Theme

	// active is set once the job has left Idle, so a later Idle means it was cancelled.
	active   bool
	done     bool
	quitting bool
	err      error
}

func newProgressModel(updates <-chan models.Job, started <-chan error, cancel func()) progressModel {
	width := barWidth()
	return progressModel{
		updates:  updates,
		started:  started,
		cancel:   cancel,
		upload:   progress.New(progress.WithDefaultBlend(), progress.WithWidth(width)),
		analysis: progress.New(progress.WithDefaultBlend(), progress.WithWidth(width)),
		theme:    defaultTheme,
	}
}

// Init starts listening for snapshots and the start result.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		waitForJob(m.updates),
		waitForStart(m.started),
		m.upload.Init(),
		m.analysis.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			m.done = true
			m.cancel()
			return m, tea.Quit
		}

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case watchClosedMsg:
		m.done = true
		return m, tea.Quit

	case jobMsg:
		m.job = models.Job(msg)
		switch {
		case m.job.Status.Terminal():
			m.done = true
			return m, tea.Quit
		case m.job.Status.Active():
			m.active = true
		case m.active:
			// Cancelled from outside the view.
			m.done = true
			return m, tea.Quit
		}
		return m, waitForJob(m.updates)

	case progress.FrameMsg:
		var cmds [2]tea.Cmd
		m.upload, cmds[0] = m.upload.Update(msg)
		m.analysis, cmds[1] = m.analysis.Update(msg)
		return m, tea.Batch(cmds[:]...)
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	job := m.job
	if !job.Status.Active() {
		return "Starting...\n"
	}

	var b strings.Builder
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", job.Status))
	fmt.Fprintf(&b, "%s %s\n\n", status, describeFile(job))

	fmt.Fprintf(&b, "  Upload    %s %3d%%\n", m.upload.ViewAs(float64(job.UploadPercent)/100), job.UploadPercent)
	if job.Status == models.StatusProcessing {
		fmt.Fprintf(&b, "  Analysis  %s %3d%%\n", m.analysis.ViewAs(float64(job.Percent)/100), job.Percent)
	}

	line := job.StatusLine()
	if job.Reconnects > 0 && job.Status == models.StatusProcessing {
		line += fmt.Sprintf(" (reconnected %d×)", job.Reconnects)
	}
	fmt.Fprintf(&b, "\n  %s\n", line)

	hint := m.theme.hintStyle().Render("Press q to stop following this job")
	fmt.Fprintf(&b, "\n%s\n", hint)
	return b.String()
}

// finalView renders the last frame before the program exits.
func (m progressModel) finalView() string {
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("✗ %s", m.err)) + "\n"
	}
	if m.quitting {
		return m.theme.hintStyle().Render(resumeHint(m.job.ID)) + "\n"
	}

	switch m.job.Status {
	case models.StatusCompleted:
		return m.theme.completedStyle().Render("✓ "+m.job.StatusLine()) + "\n"
	case models.StatusFailed:
		return m.theme.errorStyle().Render("✗ "+m.job.StatusLine()) + "\n"
	default:
		return m.theme.hintStyle().Render("Job cancelled.") + "\n"
	}
}

// waitForJob blocks until the next snapshot. Runs as a command so Update never blocks.
func waitForJob(updates <-chan models.Job) tea.Cmd {
	return func() tea.Msg {
		job, ok := <-updates
		if !ok {
			return watchClosedMsg{}
		}
		return jobMsg(job)
	}
}

func waitForStart(started <-chan error) tea.Cmd {
	if started == nil {
		return nil
	}
	return func() tea.Msg {
		return startedMsg{err: <-started}
	}
}

// runProgressUI follows a job interactively until it settles or the user quits.
// The returned bool reports whether the user stopped following.
func runProgressUI(updates <-chan models.Job, started <-chan error, cancel func()) (models.Job, bool, error) {
	model := newProgressModel(updates, started, cancel)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		cancel()
		return models.Job{}, false, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	if !ok {
		return models.Job{}, false, nil
	}
	if m.err != nil {
		return m.job, false, m.err
	}
	return m.job, m.quitting, nil
}

func describeFile(job models.Job) string {
	switch {
	case job.FilePath != "" && job.FileSize > 0:
		return fmt.Sprintf("%s (%s)", filepath.Base(job.FilePath), formatBytes(job.FileSize))
	case job.FilePath != "":
		return filepath.Base(job.FilePath)
	default:
		return "job " + job.ID
	}
}

func resumeHint(jobID string) string {
	if jobID == "" {
		return "Upload cancelled."
	}
	return fmt.Sprintf("Stopped following job %s. The backend keeps processing it.\nUse 'vamos watch %s' to resume.", jobID, jobID)
}
