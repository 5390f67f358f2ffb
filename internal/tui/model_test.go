package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/orchestrator"
	"github.com/randomizedcoder/go-video-trace/internal/stats"
	"github.com/randomizedcoder/go-video-trace/internal/video"
)

// =============================================================================
// Mock ProgressSource
// =============================================================================

type mockSource struct {
	progress orchestrator.Progress
	calls    int
}

func (m *mockSource) Progress() orchestrator.Progress {
	m.calls++
	return m.progress
}

func midRun() orchestrator.Progress {
	return orchestrator.Progress{
		Done:      40,
		Total:     100,
		Manifests: 3,
		Data: video.Snapshot{
			Streams: 1,
			Events:  18,
			ByType: map[manifest.ContentType]int{
				manifest.ContentVideo: 12,
				manifest.ContentAudio: 6,
			},
			Counters: video.Counters{Failed: 2},
			LastTS:   21.5,
		},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// =============================================================================
// Tests: New / Init
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{TraceName: "live", TracePath: "/tmp/t.yaml", MetricsAddr: "localhost:9090"})

	if model.traceName != "live" {
		t.Errorf("traceName = %s, want live", model.traceName)
	}
	if model.metricsAddr != "localhost:9090" {
		t.Errorf("metricsAddr = %s, want localhost:9090", model.metricsAddr)
	}
	if model.width != 80 || model.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", model.width, model.height)
	}
	if model.Done() {
		t.Error("new model is done")
	}
}

func TestModel_Init(t *testing.T) {
	if cmd := New(Config{}).Init(); cmd == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		name     string
		msg      tea.KeyMsg
		wantQuit bool
	}{
		{"q", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}, true},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}, true},
		{"esc", tea.KeyMsg{Type: tea.KeyEsc}, true},
		{"x", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, cmd := update(t, New(Config{}), tt.msg)
			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}
			if tt.wantQuit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
		})
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	m, _ := update(t, New(Config{}), tea.WindowSizeMsg{Width: 120, Height: 40})
	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

func TestModel_Update_TickPolls(t *testing.T) {
	src := &mockSource{progress: midRun()}
	m, cmd := update(t, New(Config{Source: src}), TickMsg(time.Now()))

	if src.calls != 1 {
		t.Errorf("Progress() called %d times, want 1", src.calls)
	}
	if m.Progress().Done != 40 {
		t.Errorf("Done = %d, want 40", m.Progress().Done)
	}
	if cmd == nil {
		t.Error("expected next tick while running")
	}
}

func TestModel_Update_Done(t *testing.T) {
	src := &mockSource{progress: midRun()}
	report := &orchestrator.Report{
		Compiled: &video.StreamingVideoCompiled{},
		Rollup:   &stats.Rollup{PlayDuration: 100, StallTime: 2, Stalls: 1},
	}

	m, _ := update(t, New(Config{Source: src}), DoneMsg{Report: report})
	if !m.Done() {
		t.Fatal("model not done after DoneMsg")
	}
	if got := m.StallRatio(); got != 0.02 {
		t.Errorf("StallRatio() = %v, want 0.02", got)
	}

	_, cmd := update(t, m, TickMsg(time.Now()))
	if cmd != nil {
		t.Error("ticks should stop after the run finished")
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	m, cmd := update(t, New(Config{}), QuitMsg{})
	if !m.quitting || cmd == nil {
		t.Error("QuitMsg should quit")
	}
	if m.View() != "" {
		t.Error("View() should be empty after quitting")
	}
}

// =============================================================================
// Tests: Accessors
// =============================================================================

func TestModel_FailureRate(t *testing.T) {
	m := New(Config{})
	if m.FailureRate() != 0 {
		t.Errorf("FailureRate() = %v, want 0 before any data", m.FailureRate())
	}
	m.progress = midRun()
	if got := m.FailureRate(); got != 0.1 {
		t.Errorf("FailureRate() = %v, want 0.1", got)
	}
}

func TestModel_StallRatioWithoutReport(t *testing.T) {
	if got := New(Config{}).StallRatio(); got != 0 {
		t.Errorf("StallRatio() = %v, want 0", got)
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_Running(t *testing.T) {
	m := New(Config{TraceName: "live", MetricsAddr: "127.0.0.1:9100"})
	m.progress = midRun()
	out := m.View()

	for _, want := range []string{"go-video-trace", "live", "40/100", "video", "audio", "Manifests", "127.0.0.1:9100/metrics"} {
		if !strings.Contains(out, want) {
			t.Errorf("View() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Startup delay") {
		t.Error("results shown before the run finished")
	}
}

func TestModel_View_Finished(t *testing.T) {
	m := New(Config{TracePath: "trace.yaml"})
	m.progress = midRun()
	m, _ = update(t, m, DoneMsg{Report: &orchestrator.Report{
		Compiled: &video.StreamingVideoCompiled{},
		Rollup: &stats.Rollup{
			StartupDelay: 0.5,
			PlayDuration: 12,
			Quality: []stats.QualityTime{
				{ContentType: manifest.ContentVideo, Quality: "1280x720", Duration: 12, Percent: 100, DeclaredBitrate: 2_500_000},
			},
		},
	}})
	out := m.View()

	for _, want := range []string{"trace.yaml", "Startup delay", "500 ms", "1280x720", "2.50 Mbps", "100.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("View() missing %q:\n%s", want, out)
		}
	}
}

func TestModel_View_Insufficient(t *testing.T) {
	m, _ := update(t, New(Config{}), DoneMsg{
		Report: &orchestrator.Report{Rollup: &stats.Rollup{}},
		Err:    orchestrator.ErrInsufficientData,
	})
	out := m.View()
	if !strings.Contains(out, "no playable segments") {
		t.Errorf("View() missing insufficient notice:\n%s", out)
	}
	if strings.Contains(out, "✗") {
		t.Error("insufficient data rendered as an error")
	}
}

func TestModel_View_Error(t *testing.T) {
	m, _ := update(t, New(Config{}), DoneMsg{Err: errors.New("boom")})
	if out := m.View(); !strings.Contains(out, "boom") {
		t.Errorf("View() missing error:\n%s", out)
	}
}

// =============================================================================
// Tests: Formatting
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{65 * time.Second, "00:01:05"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "02:03:04"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 14); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("a-very-long-quality-label", 10); got != "a-very-lo…" {
		t.Errorf("truncate(long) = %q", got)
	}
}
