package tui

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/orchestrator"
	"github.com/randomizedcoder/go-video-trace/internal/stats"
)

// maxQualityRows bounds the quality table so the dashboard fits a terminal.
const maxQualityRows = 8

func (m Model) renderView() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
		m.renderLive(),
	}
	if m.done {
		sections = append(sections, m.renderResult())
	}
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	name := m.traceName
	if name == "" {
		name = m.tracePath
	}
	status := statusInfo.Render("● Analyzing")
	if m.done {
		status = GetHealthLabel(m.StallRatio())
	}
	header := fmt.Sprintf(" go-video-trace │ %s │ %s │ Elapsed: %s ",
		name, status, formatDuration(m.Elapsed()))
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	p := m.progress
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	var status string
	switch {
	case m.done && m.err != nil && !errors.Is(m.err, orchestrator.ErrInsufficientData):
		status = statusError.Render("✗ " + m.err.Error())
	case m.done:
		status = statusOK.Render(fmt.Sprintf("✓ %d exchanges analyzed", p.Done))
	default:
		status = statusInfo.Render(fmt.Sprintf("Correlating... %d/%d exchanges", p.Done, p.Total))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Trace Progress"),
		RenderProgressBar(p.Fraction(), barWidth),
		status,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Live Counters
// =============================================================================

func (m Model) renderLive() string {
	d := m.progress.Data
	c := d.Counters

	lines := []string{
		sectionHeaderStyle.Render("Segments"),
		RenderKeyValue("Manifests", fmt.Sprintf("%d", m.progress.Manifests)),
		RenderKeyValue("Streams", fmt.Sprintf("%d", d.Streams)),
		RenderKeyValue("Downloads", fmt.Sprintf("%d", d.Events)),
	}

	types := make([]manifest.ContentType, 0, len(d.ByType))
	for ct := range d.ByType {
		types = append(types, ct)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, ct := range types {
		lines = append(lines, RenderKeyValue("  "+ct.String(), fmt.Sprintf("%d", d.ByType[ct])))
	}

	failed := GetFailureRateStyle(m.FailureRate()).Render(
		fmt.Sprintf("%d (%s)", c.Failed, formatPercent(m.FailureRate())))
	lines = append(lines,
		lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("Failed:"), failed),
		RenderKeyValue("Trace time", stats.FormatSeconds(d.LastTS)),
	)
	if d.Validated {
		lines = append(lines,
			RenderKeyValue("Valid", fmt.Sprintf("%d", c.Valid)),
			RenderKeyValue("Duplicates", fmt.Sprintf("%d", c.Duplicates)),
			RenderKeyValue("Missing", fmt.Sprintf("%d", c.Missing)),
		)
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// =============================================================================
// Result Section
// =============================================================================

func (m Model) renderResult() string {
	if m.report == nil || m.report.Rollup == nil {
		return ""
	}
	r := m.report.Rollup
	if m.report.Insufficient() {
		return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left,
			sectionHeaderStyle.Render("Playback"),
			statusWarning.Render("⚠ no playable segments; playback was not reconstructed"),
		))
	}

	startup := GetStartupStyle(r.StartupDelay).Render(stats.FormatSeconds(r.StartupDelay))
	stalls := valueGoodStyle.Render("0")
	if r.Stalls > 0 {
		stalls = valueBadStyle.Render(fmt.Sprintf("%d (%s)", r.Stalls, stats.FormatSeconds(r.StallTime)))
	}

	lines := []string{
		sectionHeaderStyle.Render("Playback"),
		lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("Startup delay:"), startup),
		RenderKeyValue("Played", stats.FormatSeconds(r.PlayDuration)),
		lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("Stalls:"), stalls),
		RenderKeyValue("Buffer avg/max", fmt.Sprintf("%s / %s",
			stats.FormatSeconds(r.BufferAvg), stats.FormatSeconds(r.BufferMax))),
		RenderKeyValue("Throughput p50", stats.FormatBitrate(r.Throughput.P50)),
	}
	if q := renderQuality(r.Quality); q != "" {
		lines = append(lines, sectionHeaderStyle.Render("Quality"), q)
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderQuality(rows []stats.QualityTime) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(tableHeaderStyle.Render(fmt.Sprintf("%-8s %-14s %10s %8s %12s", "Type", "Quality", "Played", "Share", "Declared")))
	for i, q := range rows {
		if i == maxQualityRows {
			b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("… %d more", len(rows)-maxQualityRows)))
			break
		}
		b.WriteString("\n" + fmt.Sprintf("%-8s %-14s %10s %8s %12s",
			q.ContentType, truncate(q.Quality, 14), stats.FormatSeconds(q.Duration),
			fmt.Sprintf("%.1f%%", q.Percent), stats.FormatBitrate(q.DeclaredBitrate)))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	parts := []string{"q: quit"}
	if m.metricsAddr != "" {
		parts = append(parts, "metrics: http://"+m.metricsAddr+"/metrics")
	}
	return footerStyle.Render(mutedStyle.Render(strings.Join(parts, " │ ")))
}
