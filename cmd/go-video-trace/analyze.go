package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-video-trace/internal/config"
	"github.com/randomizedcoder/go-video-trace/internal/export"
	"github.com/randomizedcoder/go-video-trace/internal/logging"
	"github.com/randomizedcoder/go-video-trace/internal/metrics"
	"github.com/randomizedcoder/go-video-trace/internal/orchestrator"
	"github.com/randomizedcoder/go-video-trace/internal/preflight"
	"github.com/randomizedcoder/go-video-trace/internal/stats"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
	"github.com/randomizedcoder/go-video-trace/internal/tui"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

func newAnalyzeCommand(configPath *string) *cobra.Command {
	cfg := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "analyze [trace.yaml]",
		Short: "Analyze a captured trace and print the playback report",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Resolve(cmd.Flags(), cfg, *configPath); err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.TracePath = args[0]
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("configuration error:\n%w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyze(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	config.BindFlags(cmd.Flags(), cfg)
	cmd.SetUsageTemplate("Usage:\n  {{.UseLine}}\n\n" + config.CategorizedUsage(cmd.Flags()))
	return cmd
}

func analyze(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logs would corrupt the dashboard, so the TUI run only keeps them
	// for the report footnotes.
	logOut := stderr
	if cfg.TUI {
		logOut = io.Discard
	}
	records := logging.NewRecordBuffer(
		logging.NewHandler(logOut, cfg.LogFormat, cfg.LogLevel, cfg.Verbose),
		slog.LevelWarn, 0)
	logger := slog.New(records)
	logging.SetDefault(logger)

	tr, err := trace.Load(cfg.TracePath)
	if err != nil {
		return err
	}
	logger.Info("trace_loaded",
		"path", cfg.TracePath,
		"trace_id", tr.ID,
		"exchanges", len(tr.Exchanges),
		"sessions", len(tr.Sessions),
		"duration", tr.Duration(),
	)

	if !cfg.SkipPreflight {
		result := preflight.RunAll(tr)
		preflight.PrintResults(stderr, result)
		if !result.Passed {
			return errors.New("preflight checks failed (use --skip-preflight to analyze anyway)")
		}
	}

	var (
		collector *metrics.Collector
		registry  *prometheus.Registry
		server    *metrics.Server
	)
	if cfg.MetricsAddr != "" || cfg.MetricsDump != "" {
		collector, registry = metrics.NewCollector(metrics.CollectorConfig{
			TraceID:   tr.ID,
			TraceName: tr.Name,
			Version:   version,
		})
	}
	if cfg.MetricsAddr != "" {
		server = metrics.NewServer(cfg.MetricsAddr, registry, logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Shutdown(sctx)
		}()
	}

	analyzer, err := orchestrator.New(cfg, logger, collector)
	if err != nil {
		return err
	}

	var report *orchestrator.Report
	if cfg.TUI {
		report, err = runWithTUI(ctx, cfg, tr, analyzer, server)
	} else {
		report, err = analyzer.Run(ctx, tr.Exchanges)
	}
	insufficient := errors.Is(err, orchestrator.ErrInsufficientData)
	if err != nil && !insufficient {
		return err
	}
	if server != nil {
		server.SetReady(true)
	}

	addr := ""
	if server != nil {
		addr = server.Addr()
	}
	fmt.Fprint(stdout, stats.FormatReport(report.Rollup, stats.SummaryConfig{
		TraceName:     tr.Name,
		TraceDuration: tr.Duration(),
		Exchanges:     report.Exchanges,
		Format:        cfg.ReportFormat,
		Warnings:      records.Counts(),
		MetricsAddr:   addr,
	}))

	if cfg.MetricsDump != "" {
		if err := metrics.DumpFile(cfg.MetricsDump, registry); err != nil {
			return err
		}
		logger.Info("metrics_dumped", "path", cfg.MetricsDump)
	}

	if cfg.ExportDB != "" {
		if err := exportRun(ctx, cfg.ExportDB, tr, report); err != nil {
			return err
		}
		logger.Info("export_written", "path", cfg.ExportDB)
	}

	if insufficient {
		logger.Warn("playback_not_reconstructed", "reason", err.Error())
	}
	return nil
}

// runWithTUI runs the analysis in the background while the dashboard
// polls it. Quitting the dashboard early cancels the analysis.
func runWithTUI(ctx context.Context, cfg *config.Config, tr *trace.Trace, a *orchestrator.Analyzer, server *metrics.Server) (*orchestrator.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := ""
	if server != nil {
		addr = server.Addr()
	}
	p := tea.NewProgram(tui.New(tui.Config{
		TraceName:   tr.Name,
		TracePath:   cfg.TracePath,
		MetricsAddr: addr,
		Source:      a,
	}), tea.WithAltScreen(), tea.WithContext(ctx))

	type outcome struct {
		report *orchestrator.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := a.Run(ctx, tr.Exchanges)
		tui.SendDone(p, report, err)
		done <- outcome{report, err}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-done
		return nil, fmt.Errorf("tui: %w", err)
	}
	cancel()
	out := <-done
	return out.report, out.err
}

func exportRun(ctx context.Context, path string, tr *trace.Trace, report *orchestrator.Report) error {
	store, err := export.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer store.Close()

	_, err = store.Save(ctx, export.Run{
		TraceID:   tr.ID,
		TraceName: tr.Name,
		Data:      report.Data,
		Compiled:  report.Compiled,
		Rollup:    report.Rollup,
	})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
