package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-video-trace/internal/orchestrator"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// DoneMsg carries the outcome of the analysis run.
type DoneMsg struct {
	Report *orchestrator.Report
	Err    error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// ProgressSource provides analysis progress. *orchestrator.Analyzer
// implements it.
type ProgressSource interface {
	Progress() orchestrator.Progress
}

// Config holds TUI configuration.
type Config struct {
	TraceName   string
	TracePath   string
	MetricsAddr string
	Source      ProgressSource
}

// Model represents the TUI state.
type Model struct {
	traceName   string
	tracePath   string
	metricsAddr string
	source      ProgressSource

	progress   orchestrator.Progress
	report     *orchestrator.Report
	err        error
	done       bool
	startTime  time.Time
	finishTime time.Time

	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		traceName:   cfg.TraceName,
		tracePath:   cfg.TracePath,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		startTime:   time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			m.progress = m.source.Progress()
		}
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case DoneMsg:
		m.done = true
		m.report = msg.Report
		m.err = msg.Err
		m.finishTime = time.Now()
		if m.source != nil {
			m.progress = m.source.Progress()
		}
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderView()
}

// tickCmd returns a command that sends a tick after 250ms.
func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the wall time of the analysis so far.
func (m Model) Elapsed() time.Duration {
	if m.done {
		return m.finishTime.Sub(m.startTime)
	}
	return time.Since(m.startTime)
}

// Done reports whether the run finished.
func (m Model) Done() bool {
	return m.done
}

// Progress returns the last polled progress.
func (m Model) Progress() orchestrator.Progress {
	return m.progress
}

// FailureRate returns failed downloads over all media downloads seen.
func (m Model) FailureRate() float64 {
	c := m.progress.Data.Counters
	n := m.progress.Data.Events + c.Failed
	if n == 0 {
		return 0
	}
	return float64(c.Failed) / float64(n)
}

// StallRatio returns stall time over play time of the finished run.
func (m Model) StallRatio() float64 {
	if m.report == nil || m.report.Rollup == nil || m.report.Rollup.PlayDuration <= 0 {
		return 0
	}
	r := m.report.Rollup
	return r.StallTime / r.PlayDuration
}

// =============================================================================
// Helpers for external use
// =============================================================================

// SendDone reports the end of the run to the TUI.
func SendDone(p *tea.Program, report *orchestrator.Report, err error) {
	if p != nil {
		p.Send(DoneMsg{Report: report, Err: err})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatPercent formats a ratio as a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}
