// Package preflight provides trace sanity checks run before analysis.
package preflight

import (
	"fmt"
	"io"

	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// failedRatioWarn is the share of failed exchanges above which the
// failed_requests check warns.
const failedRatioWarn = 0.2

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d found (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// tally is one pass over the exchanges.
type tally struct {
	exchanges     int
	manifests     int
	withPayload   int
	segments      int
	failed        int
	zeroDownload  int
	noSession     int
	negativeTimes int
}

func count(t *trace.Trace) tally {
	var n tally
	for _, ex := range t.Exchanges {
		n.exchanges++
		if ex.Failed() {
			n.failed++
		}
		if ex.Session == nil {
			n.noSession++
		}
		if ex.RequestTime < 0 || ex.ResponseTime < 0 {
			n.negativeTimes++
		}
		switch trace.Classify(ex) {
		case trace.URLTypeManifest:
			if ex.Failed() {
				continue
			}
			n.manifests++
			if len(ex.Payload) > 0 {
				n.withPayload++
			}
		case trace.URLTypeSegment, trace.URLTypeInit:
			n.segments++
			if !ex.Failed() && ex.ResponseTime <= ex.RequestTime {
				n.zeroDownload++
			}
		}
	}
	return n
}

// RunAll executes all preflight checks against a loaded trace.
func RunAll(t *trace.Trace) *Result {
	n := count(t)
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(Check{
		Name:     "exchanges",
		Required: 1,
		Actual:   n.exchanges,
		Passed:   n.exchanges > 0,
	})
	add(checkManifests(n))
	add(Check{
		Name:     "segments",
		Required: 1,
		Actual:   n.segments,
		Passed:   n.segments > 0,
	})
	add(checkFailed(n))
	add(checkTimestamps(n))

	// Session check is a warning only
	sessions := Check{Name: "sessions", Passed: true, Message: "every exchange has a session"}
	if n.noSession > 0 {
		sessions.Warning = true
		sessions.Message = fmt.Sprintf("%d exchanges without a session (URLs default to http)", n.noSession)
	}
	add(sessions)

	return result
}

// checkManifests requires at least one manifest response with a body.
func checkManifests(n tally) Check {
	c := Check{
		Name:     "manifest_payloads",
		Required: 1,
		Actual:   n.withPayload,
		Passed:   n.withPayload > 0,
	}
	if missing := n.manifests - n.withPayload; c.Passed && missing > 0 {
		c.Required = 0
		c.Warning = true
		c.Message = fmt.Sprintf("%d of %d manifest responses have no payload", missing, n.manifests)
	}
	return c
}

func checkFailed(n tally) Check {
	c := Check{
		Name:    "failed_requests",
		Passed:  true,
		Message: fmt.Sprintf("%d of %d exchanges failed", n.failed, n.exchanges),
	}
	if n.exchanges > 0 && float64(n.failed)/float64(n.exchanges) > failedRatioWarn {
		c.Warning = true
	}
	return c
}

func checkTimestamps(n tally) Check {
	c := Check{Name: "timestamps", Passed: true, Message: "request and response times look consistent"}
	switch {
	case n.negativeTimes > 0:
		c.Passed = false
		c.Message = fmt.Sprintf("%d exchanges have negative timestamps", n.negativeTimes)
	case n.zeroDownload > 0:
		c.Warning = true
		c.Message = fmt.Sprintf("%d segment responses have no download time (throughput unavailable)", n.zeroDownload)
	}
	return c
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "exchanges":
		return "check that the capture layer wrote exchanges to the index"
	case "manifest_payloads":
		return "re-export the capture with manifest bodies (payload or payload_text)"
	case "segments":
		return "the capture holds no media downloads; was playback started?"
	case "timestamps":
		return "timestamps must be seconds relative to the capture start"
	default:
		return "see documentation"
	}
}
