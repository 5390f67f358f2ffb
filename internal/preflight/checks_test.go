package preflight

import (
	"bytes"
	"strings"
	"testing"

	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

func TestCheck_String(t *testing.T) {
	t.Run("passed_with_required", func(t *testing.T) {
		c := Check{
			Name:     "test_check",
			Required: 1,
			Actual:   42,
			Passed:   true,
		}
		s := c.String()
		if !strings.Contains(s, "✓") {
			t.Error("Passed check should have ✓")
		}
		if !strings.Contains(s, "42") {
			t.Error("Should contain actual value")
		}
	})

	t.Run("failed_check", func(t *testing.T) {
		c := Check{Name: "test_check", Required: 1, Actual: 0, Passed: false}
		if s := c.String(); !strings.Contains(s, "✗") {
			t.Error("Failed check should have ✗")
		}
	})

	t.Run("warning_check", func(t *testing.T) {
		c := Check{Name: "test_check", Passed: true, Warning: true, Message: "warning message"}
		s := c.String()
		if !strings.Contains(s, "⚠") {
			t.Error("Warning check should have ⚠")
		}
		if !strings.Contains(s, "warning message") {
			t.Error("Should contain message")
		}
	})
}

var session = &trace.Session{ID: 1, Host: "cdn.example.com", TLS: true}

func manifestEx(req float64, body string) *trace.Exchange {
	return &trace.Exchange{
		Session: session, RequestTime: req, ResponseTime: req + 0.05,
		ObjectName: "/live/index.m3u8", StatusCode: 200, Payload: []byte(body),
	}
}

func segmentEx(req, resp float64, status int) *trace.Exchange {
	return &trace.Exchange{
		Session: session, RequestTime: req, ResponseTime: resp,
		ObjectName: "/live/seg1.ts", StatusCode: status, ContentLength: 400_000,
	}
}

func findCheck(t *testing.T, r *Result, name string) Check {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found", name)
	return Check{}
}

func TestRunAll_HealthyTrace(t *testing.T) {
	tr := &trace.Trace{Exchanges: []*trace.Exchange{
		manifestEx(0, "#EXTM3U"),
		segmentEx(0.1, 0.6, 200),
		segmentEx(0.7, 1.1, 200),
	}}

	result := RunAll(tr)
	if !result.Passed {
		t.Errorf("healthy trace failed preflight: %+v", result.Checks)
	}
	for _, c := range result.Checks {
		if c.Warning {
			t.Errorf("unexpected warning: %s", c)
		}
	}
}

func TestRunAll_NoManifestPayload(t *testing.T) {
	tr := &trace.Trace{Exchanges: []*trace.Exchange{
		manifestEx(0, ""),
		segmentEx(0.1, 0.6, 200),
	}}

	result := RunAll(tr)
	if result.Passed {
		t.Error("trace without manifest bodies should fail")
	}
	if c := findCheck(t, result, "manifest_payloads"); c.Passed {
		t.Errorf("manifest_payloads = %+v, want failed", c)
	}
}

func TestRunAll_SomeManifestsMissingPayload(t *testing.T) {
	tr := &trace.Trace{Exchanges: []*trace.Exchange{
		manifestEx(0, "#EXTM3U"),
		manifestEx(4, ""),
		segmentEx(0.1, 0.6, 200),
	}}

	c := findCheck(t, RunAll(tr), "manifest_payloads")
	if !c.Passed || !c.Warning {
		t.Errorf("manifest_payloads = %+v, want passed with warning", c)
	}
	if !strings.Contains(c.Message, "1 of 2") {
		t.Errorf("Message = %q", c.Message)
	}
}

func TestRunAll_Warnings(t *testing.T) {
	noSession := segmentEx(2, 2, 200)
	noSession.Session = nil
	tr := &trace.Trace{Exchanges: []*trace.Exchange{
		manifestEx(0, "#EXTM3U"),
		segmentEx(0.1, 0.6, 503),
		segmentEx(1, 1.5, 404),
		noSession,
	}}

	result := RunAll(tr)
	if !result.Passed {
		t.Errorf("warnings should not fail preflight: %+v", result.Checks)
	}
	for _, name := range []string{"failed_requests", "timestamps", "sessions"} {
		if c := findCheck(t, result, name); !c.Warning {
			t.Errorf("%s = %+v, want warning", name, c)
		}
	}
}

func TestRunAll_NegativeTimestamps(t *testing.T) {
	tr := &trace.Trace{Exchanges: []*trace.Exchange{
		manifestEx(-1, "#EXTM3U"),
		segmentEx(0.1, 0.6, 200),
	}}
	if c := findCheck(t, RunAll(tr), "timestamps"); c.Passed {
		t.Errorf("timestamps = %+v, want failed", c)
	}
}

func TestRunAll_EmptyTrace(t *testing.T) {
	result := RunAll(&trace.Trace{})
	if result.Passed {
		t.Error("empty trace should fail")
	}
	if c := findCheck(t, result, "exchanges"); c.Passed || c.Actual != 0 {
		t.Errorf("exchanges = %+v", c)
	}
}

func TestSuggestFix(t *testing.T) {
	for _, name := range []string{"exchanges", "manifest_payloads", "segments", "timestamps"} {
		if got := suggestFix(name); got == "see documentation" {
			t.Errorf("suggestFix(%q) has no specific fix", name)
		}
	}
	if got := suggestFix("unknown"); got != "see documentation" {
		t.Errorf("suggestFix(unknown) = %q", got)
	}
}

func TestPrintResults(t *testing.T) {
	result := &Result{
		Checks: []Check{
			{Name: "exchanges", Required: 1, Actual: 10, Passed: true},
			{Name: "segments", Required: 1, Actual: 0, Passed: false},
		},
	}

	var buf bytes.Buffer
	PrintResults(&buf, result)
	out := buf.String()

	if !strings.HasPrefix(out, "Preflight checks:") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "Fix: the capture holds no media downloads") {
		t.Errorf("missing fix for failed check:\n%s", out)
	}
	if strings.Count(out, "Fix:") != 1 {
		t.Errorf("fix printed for a passing check:\n%s", out)
	}
}
