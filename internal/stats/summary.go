package stats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
)

// Report formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// SummaryConfig holds report context that is not part of the rollup.
type SummaryConfig struct {
	// TraceName is the capture's name from its index.
	TraceName string

	// TraceDuration is the capture span in seconds.
	TraceDuration float64

	// Exchanges is the number of HTTP exchanges analyzed.
	Exchanges int

	// Format is FormatText or FormatMarkdown.
	Format string

	// Warnings counts warn+ log records by message, for the footnotes.
	Warnings map[string]int

	// MetricsAddr is the Prometheus endpoint address, if one was served.
	MetricsAddr string
}

const (
	rule    = "═══════════════════════════════════════════════════════════════════════════════\n"
	subRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

var titleCaser = cases.Title(language.Und)

// ContentLabel returns a display label for a content type, e.g. "Video".
func ContentLabel(ct manifest.ContentType) string {
	return titleCaser.String(ct.String())
}

// FormatReport renders the rollup for the terminal or as markdown.
func FormatReport(r *Rollup, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString(center("go-video-trace Analysis Report"))
	b.WriteString(rule + "\n")

	if cfg.TraceName != "" {
		fmt.Fprintf(&b, "Trace:                  %s\n", cfg.TraceName)
	}
	fmt.Fprintf(&b, "Trace Duration:         %s\n", FormatSeconds(cfg.TraceDuration))
	fmt.Fprintf(&b, "HTTP Exchanges:         %s\n", FormatNumber(int64(cfg.Exchanges)))
	fmt.Fprintf(&b, "Video Streams:          %d (%d selected)\n\n", r.Streams, r.Counters.SelectedManifests)

	section(&b, "Segments")
	fmt.Fprintf(&b, "  Total:                %d\n", r.Counters.Total)
	fmt.Fprintf(&b, "  Valid:                %d\n", r.Counters.Valid)
	fmt.Fprintf(&b, "  Invalid:              %d\n", r.Counters.Invalid)
	fmt.Fprintf(&b, "  Duplicates:           %d\n", r.Counters.Duplicates)
	fmt.Fprintf(&b, "  Missing:              %d\n", r.Counters.Missing)
	fmt.Fprintf(&b, "  Redundant qualities:  %d\n", r.Redundant)
	fmt.Fprintf(&b, "  Gaps:                 %d\n\n", r.Gaps)

	section(&b, "Playback")
	fmt.Fprintf(&b, "  Startup Delay:        %s\n", FormatSeconds(r.StartupDelay))
	fmt.Fprintf(&b, "  Content Played:       %s\n", FormatSeconds(r.PlayDuration))
	fmt.Fprintf(&b, "  Stalls:               %d (%s)\n", r.Stalls, FormatSeconds(r.StallTime))
	fmt.Fprintf(&b, "  Buffer avg / max:     %s / %s\n\n", FormatSeconds(r.BufferAvg), FormatSeconds(r.BufferMax))

	if len(r.Quality) > 0 {
		section(&b, "Time At Quality")
		rows := make([][]string, 0, len(r.Quality))
		for _, q := range r.Quality {
			rows = append(rows, []string{
				ContentLabel(q.ContentType),
				q.Quality,
				resolution(q.Width, q.Height),
				fmt.Sprintf("%d", q.Segments),
				FormatSeconds(q.Duration),
				fmt.Sprintf("%.1f%%", q.Percent),
				FormatBitrate(q.DeclaredBitrate),
				FormatBitrate(q.ObservedBitrate),
			})
		}
		b.WriteString(renderTable(cfg.Format,
			[]string{"Type", "Quality", "Resolution", "Segments", "Played", "Share", "Declared", "Observed"},
			rows, 3))
		b.WriteString("\n\n")
	}

	if len(r.Comparison) > 0 {
		section(&b, "Declared vs Delivered")
		rows := make([][]string, 0, len(r.Comparison))
		for _, c := range r.Comparison {
			rows = append(rows, []string{
				ContentLabel(c.ContentType),
				c.Quality,
				FormatBitrate(c.DeclaredBitrate),
				FormatBitrate(c.ObservedBitrate),
				FormatBitrate(c.Throughput),
				FormatBitrate(c.MinThroughput),
				fmt.Sprintf("%.2fx", c.Headroom()),
			})
		}
		b.WriteString(renderTable(cfg.Format,
			[]string{"Type", "Quality", "Declared", "Observed", "Throughput", "Slowest", "Headroom"},
			rows, 2))
		b.WriteString("\n\n")
	}

	if len(r.Ladder) > 0 {
		section(&b, "Bitrate Ladder Usage")
		rows := make([][]string, 0, len(r.Ladder))
		for _, st := range r.Ladder {
			declared := "yes"
			if !st.Declared {
				declared = "no"
			}
			rows = append(rows, []string{
				FormatBitrate(st.Bitrate),
				declared,
				fmt.Sprintf("%d", st.Segments),
				FormatSeconds(st.Duration),
			})
		}
		b.WriteString(renderTable(cfg.Format, []string{"Bitrate", "Declared", "Segments", "Played"}, rows, 2))
		b.WriteString("\n\n")
	}

	section(&b, "Chunk Pacing")
	p := r.Pacing
	fmt.Fprintf(&b, "  Segment Requests:     %d\n", p.Requests)
	fmt.Fprintf(&b, "  Request Gap:          p50 %s  p95 %s  p99 %s  max %s\n",
		FormatSeconds(p.RequestGap.P50), FormatSeconds(p.RequestGap.P95),
		FormatSeconds(p.RequestGap.P99), FormatSeconds(p.RequestGap.Max))
	fmt.Fprintf(&b, "  Download Time:        p50 %s  p95 %s  p99 %s  max %s\n",
		FormatSeconds(p.DownloadTime.P50), FormatSeconds(p.DownloadTime.P95),
		FormatSeconds(p.DownloadTime.P99), FormatSeconds(p.DownloadTime.Max))
	fmt.Fprintf(&b, "  Throughput:           p50 %s  p95 %s  max %s\n",
		FormatBitrate(r.Throughput.P50), FormatBitrate(r.Throughput.P95), FormatBitrate(r.Throughput.Max))
	fmt.Fprintf(&b, "  Network Idle:         %.1f%%\n\n", p.IdleRatio*100)

	if len(r.Failures) > 0 {
		section(&b, "Unmatched Downloads")
		for _, reason := range r.FailureReasons() {
			fmt.Fprintf(&b, "  %-22s%d\n", reason+":", r.Failures[reason])
		}
		b.WriteString("\n")
	}

	b.WriteString(renderFootnotes(cfg.Warnings))

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString(rule)
	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString(subRule)
	b.WriteString(center(title))
	b.WriteString(subRule + "\n")
}

func center(s string) string {
	const width = 79
	pad := (width - len(s)) / 2
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat(" ", pad) + s + "\n"
}

// renderTable renders rows with the first leftCols columns left aligned
// and the rest right aligned.
func renderTable(format string, headers []string, rows [][]string, leftCols int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignRight
		if i < leftCols {
			align = text.AlignLeft
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	if format == FormatMarkdown {
		return tw.RenderMarkdown()
	}
	return tw.Render()
}

// renderFootnotes lists analysis warnings, most frequent first.
func renderFootnotes(warnings map[string]int) string {
	if len(warnings) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(warnings))
	for m := range warnings {
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if warnings[msgs[i]] != warnings[msgs[j]] {
			return warnings[msgs[i]] > warnings[msgs[j]]
		}
		return msgs[i] < msgs[j]
	})

	var b strings.Builder
	section(&b, "Analysis Warnings")
	for i, m := range msgs {
		fmt.Fprintf(&b, "  [%d] %s: %d\n", i+1, m, warnings[m])
	}
	b.WriteString("\n")
	return b.String()
}

func resolution(w, h int) string {
	if w == 0 && h == 0 {
		return "-"
	}
	return fmt.Sprintf("%dx%d", w, h)
}

// FormatSeconds formats trace seconds: "850 ms", "4.20 s" or "1:02:05".
func FormatSeconds(s float64) string {
	switch {
	case s <= 0:
		return "0 s"
	case s < 1:
		return fmt.Sprintf("%.0f ms", s*1000)
	case s < 60:
		return fmt.Sprintf("%.2f s", s)
	}
	total := int(s)
	h, m, sec := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatBitrate formats bits per second with kbps/Mbps suffixes.
func FormatBitrate(bps float64) string {
	switch {
	case bps <= 0:
		return "-"
	case bps >= 1_000_000:
		return fmt.Sprintf("%.2f Mbps", bps/1_000_000)
	case bps >= 1_000:
		return fmt.Sprintf("%.0f kbps", bps/1_000)
	default:
		return fmt.Sprintf("%.0f bps", bps)
	}
}
