package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/parser"
	"github.com/randomizedcoder/go-video-trace/internal/stats"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

type inspectOptions struct {
	url      string
	segments bool
	limit    int
}

func newInspectCommand() *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "inspect <manifest>",
		Short: "Parse a single manifest file and print its tracks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "URL the manifest was fetched from (resolves relative references)")
	cmd.Flags().BoolVar(&opts.segments, "segments", false, "List the segments of every track")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "Segments listed per track (0 = all)")
	return cmd
}

func inspect(w io.Writer, path string, opts inspectOptions) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	url := opts.url
	if url == "" {
		url = "http://localhost/" + filepath.Base(path)
	}
	ex := &trace.Exchange{ObjectName: url, StatusCode: 200, Payload: raw}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	m, p := parser.NewRegistry(logger).Parse(raw, ex, nil)
	if p == nil {
		return fmt.Errorf("%s: not a recognized manifest", path)
	}

	fmt.Fprintf(w, "%s: %s %s", path, m.Type, m.Role)
	if m.Live {
		fmt.Fprint(w, " (live)")
	}
	if m.PresentationDuration > 0 {
		fmt.Fprintf(w, ", %s", stats.FormatSeconds(m.PresentationDuration))
	}
	if m.Encryption != "" {
		fmt.Fprintf(w, ", encrypted: %s", m.Encryption)
	}
	if !m.Valid {
		fmt.Fprint(w, " [invalid]")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, tracksTable(m))
	if opts.segments {
		for _, c := range m.Children {
			if c.Len() == 0 {
				continue
			}
			fmt.Fprintf(w, "\n%s %s\n", stats.ContentLabel(c.ContentType), c.Label())
			fmt.Fprintln(w, segmentsTable(c, opts.limit))
		}
	}
	return nil
}

func tracksTable(m *manifest.Manifest) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Type", "Quality", "Bandwidth", "Resolution", "Codecs", "Segments", "URI"})
	for i, c := range m.Children {
		res := "-"
		if c.Width > 0 || c.Height > 0 {
			res = fmt.Sprintf("%dx%d", c.Width, c.Height)
		}
		tw.AppendRow(table.Row{
			i, c.ContentType, c.Label(), stats.FormatBitrate(c.Bandwidth), res, c.Codecs, c.Len(), c.URI,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	return tw.Render()
}

func segmentsTable(c *manifest.ChildManifest, limit int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"ID", "Start", "Duration", "Range", "URI"})

	segs := c.Segments()
	for i, s := range segs {
		if limit > 0 && i == limit {
			tw.AppendFooter(table.Row{fmt.Sprintf("… %d more", len(segs)-limit)})
			break
		}
		r := ""
		if !s.Range.IsZero() {
			r = s.Range.String()
		}
		id := fmt.Sprint(s.ID)
		if s.Init {
			id = "init"
		}
		tw.AppendRow(table.Row{id, fmt.Sprintf("%.3f", s.StartTime), fmt.Sprintf("%.3f", s.Duration), r, s.URI})
	}
	return tw.Render()
}
