package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// FlagCategory groups flags for the usage text.
type FlagCategory struct {
	Title string
	Names []string
}

// FlagCategories lists the analysis flags in the order usage prints them.
var FlagCategories = []FlagCategory{
	{"Input", []string{"trace", "config"}},
	{"Playback Reconstruction", []string{"startup-delay", "stall-recovery", "stall-threshold", "gap-threshold", "duplicates"}},
	{"Output", []string{"report-format", "export-db"}},
	{"Observability", []string{"metrics", "metrics-dump", "tui", "log-format", "log-level", "verbose"}},
	{"Diagnostics", []string{"skip-preflight"}},
}

// BindFlags registers the analysis flags on fs, writing into cfg. The
// current values of cfg become the flag defaults.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	// Input
	fs.StringVarP(&cfg.TracePath, "trace", "t", cfg.TracePath, "Path to the trace index (YAML)")

	// Playback reconstruction
	fs.Float64Var(&cfg.StartupDelay, "startup-delay", cfg.StartupDelay,
		"Seconds from the first segment request until playback starts (0 = when the first segment completes)")
	fs.Float64Var(&cfg.StallRecovery, "stall-recovery", cfg.StallRecovery,
		"Seconds added to every stall before playback resumes")
	fs.Float64Var(&cfg.StallThreshold, "stall-threshold", cfg.StallThreshold,
		"Seconds a segment may arrive late before a stall is inserted")
	fs.Float64Var(&cfg.GapThreshold, "gap-threshold", cfg.GapThreshold,
		"Seconds of missing content between adjacent segments counted as a gap")
	fs.StringVar(&cfg.DuplicatePolicy, "duplicates", cfg.DuplicatePolicy,
		`Which copy of a re-downloaded segment is kept: "first", "last" or "highest"`)

	// Output
	fs.StringVar(&cfg.ReportFormat, "report-format", cfg.ReportFormat, `Report format: "text" or "markdown"`)
	fs.StringVar(&cfg.ExportDB, "export-db", cfg.ExportDB, "Write compiled segments to this SQLite file")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve Prometheus metrics on this address during the run")
	fs.StringVar(&cfg.MetricsDump, "metrics-dump", cfg.MetricsDump, "Write metrics in exposition format to this file after the run")
	fs.BoolVar(&cfg.TUI, "tui", cfg.TUI, "Show a live progress dashboard")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn" or "error"`)
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging")

	// Diagnostics
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip trace preflight checks")
}

// Resolve merges a config file under the flags: values from path replace
// the defaults, and flags set on the command line win over both. An empty
// path leaves cfg as parsed.
func Resolve(fs *pflag.FlagSet, cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	changed := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	fileCfg := DefaultConfig()
	if err := LoadFile(path, fileCfg); err != nil {
		return err
	}
	// The flags point into cfg, so overwrite in place and re-apply.
	*cfg = *fileCfg
	for name, value := range changed {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("reapplying --%s: %w", name, err)
		}
	}
	return nil
}

// CategorizedUsage renders the flags of fs grouped by FlagCategories.
// Flags not named in any category are listed under "Other".
func CategorizedUsage(fs *pflag.FlagSet) string {
	var b strings.Builder
	seen := make(map[string]bool)

	for _, cat := range FlagCategories {
		group := pflag.NewFlagSet(cat.Title, pflag.ContinueOnError)
		for _, name := range cat.Names {
			if f := fs.Lookup(name); f != nil {
				group.AddFlag(f)
				seen[name] = true
			}
		}
		if !group.HasFlags() {
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n", cat.Title, group.FlagUsages())
	}

	other := pflag.NewFlagSet("other", pflag.ContinueOnError)
	fs.VisitAll(func(f *pflag.Flag) {
		if !seen[f.Name] {
			other.AddFlag(f)
		}
	})
	if other.HasFlags() {
		fmt.Fprintf(&b, "Other:\n%s\n", other.FlagUsages())
	}
	return b.String()
}
