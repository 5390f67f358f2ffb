// Package config provides configuration management for go-video-trace.
package config

// Config holds all configuration options for an analysis run.
//
// Durations are in seconds of trace time, matching the timestamps in the
// capture rather than wall-clock time.
type Config struct {
	// Input
	TracePath string `json:"trace" toml:"trace"`

	// Playback reconstruction
	StartupDelay    float64 `json:"startup_delay" toml:"startup_delay"` // 0 = first segment completion
	StallRecovery   float64 `json:"stall_recovery" toml:"stall_recovery"`
	StallThreshold  float64 `json:"stall_threshold" toml:"stall_threshold"`
	GapThreshold    float64 `json:"gap_threshold" toml:"gap_threshold"`
	DuplicatePolicy string  `json:"duplicate_policy" toml:"duplicate_policy"` // first, last, highest

	// Observability
	LogFormat   string `json:"log_format" toml:"log_format"` // json, text
	LogLevel    string `json:"log_level" toml:"log_level"`
	Verbose     bool   `json:"verbose" toml:"verbose"`
	MetricsAddr string `json:"metrics_addr" toml:"metrics_addr"` // empty = no endpoint
	MetricsDump string `json:"metrics_dump" toml:"metrics_dump"` // write exposition text here after the run
	TUI         bool   `json:"tui" toml:"tui"`

	// Output
	ReportFormat string `json:"report_format" toml:"report_format"` // text, markdown
	ExportDB     string `json:"export_db" toml:"export_db"`         // SQLite path, empty = no export

	// Diagnostic modes
	SkipPreflight bool `json:"skip_preflight" toml:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Playback reconstruction
		StartupDelay:    0,
		StallRecovery:   0,
		StallThreshold:  0,
		GapThreshold:    0.01, // 10ms
		DuplicatePolicy: "first",

		// Observability
		LogFormat: "text",
		LogLevel:  "info",

		// Output
		ReportFormat: "text",
	}
}
