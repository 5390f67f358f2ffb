package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/randomizedcoder/go-video-trace/internal/logging"
	"github.com/randomizedcoder/go-video-trace/internal/video"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// maxTraceSeconds bounds the time-valued options; anything larger is
// almost certainly a unit mistake (milliseconds given as seconds).
const maxTraceSeconds = 3600

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.TracePath == "" {
		errs = append(errs, ValidationError{
			Field:   "trace",
			Message: "trace index path is required",
		})
	}

	seconds := []struct {
		field string
		value float64
	}{
		{"startup_delay", cfg.StartupDelay},
		{"stall_recovery", cfg.StallRecovery},
		{"stall_threshold", cfg.StallThreshold},
		{"gap_threshold", cfg.GapThreshold},
	}
	for _, s := range seconds {
		if err := validateSeconds(s.value); err != nil {
			errs = append(errs, ValidationError{Field: s.field, Message: err.Error()})
		}
	}

	if _, err := video.ParseDuplicatePolicy(cfg.DuplicatePolicy); err != nil {
		errs = append(errs, ValidationError{
			Field:   "duplicate_policy",
			Message: fmt.Sprintf("must be 'first', 'last' or 'highest' (got %q)", cfg.DuplicatePolicy),
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if !logging.ValidLevel(cfg.LogLevel) {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be debug, info, warn or error (got %q)", cfg.LogLevel),
		})
	}

	validReports := map[string]bool{"text": true, "markdown": true}
	if !validReports[cfg.ReportFormat] {
		errs = append(errs, ValidationError{
			Field:   "report_format",
			Message: fmt.Sprintf("must be 'text' or 'markdown' (got %q)", cfg.ReportFormat),
		})
	}

	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}

	// The dashboard owns the terminal; JSON logs would tear it.
	if cfg.TUI && cfg.LogFormat == "json" && cfg.Verbose {
		errs = append(errs, ValidationError{
			Field:   "tui",
			Message: "cannot be combined with verbose JSON logging",
		})
	}

	if cfg.ExportDB != "" && cfg.ExportDB == cfg.MetricsDump {
		errs = append(errs, ValidationError{
			Field:   "export_db",
			Message: "must differ from metrics_dump",
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateSeconds checks a trace-time option.
func validateSeconds(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.New("must be a finite number of seconds")
	}
	if v < 0 {
		return fmt.Errorf("must not be negative (got %g)", v)
	}
	if v > maxTraceSeconds {
		return fmt.Errorf("must be at most %d seconds (got %g)", maxTraceSeconds, v)
	}
	return nil
}

// validateAddr checks a listen address of the form host:port.
func validateAddr(addr string) error {
	if strings.Contains(addr, "://") {
		return errors.New("must be host:port, not a URL")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	return nil
}
