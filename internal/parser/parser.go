// Package parser turns raw manifest documents into the manifest model.
//
// One Parser exists per dialect. Parsers are stateless apart from the
// logger they are constructed with, so a single Registry can be shared by
// every analysis. Parsing never fails: malformed numbers fall back to
// model defaults and unreadable documents come back with Valid=false.
package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// Parser is the contract each manifest dialect implements.
type Parser interface {
	// Type returns the dialect this parser produces.
	Type() manifest.VideoType

	// Detect reports whether raw is a document of this dialect.
	Detect(raw []byte, ex *trace.Exchange) bool

	// Parse builds the manifest tree, including the bitrate ladder and the
	// initial segment index. master is the lineage's master manifest, or
	// nil when raw is itself a master or a standalone document.
	Parse(raw []byte, ex *trace.Exchange, master *manifest.Manifest) *manifest.Manifest

	// Timing returns the nominal segment duration (ticks) and time scale
	// (ticks per second). Either may be 0 when the document has none.
	Timing(m *manifest.Manifest) (duration, timeScale float64)

	// SegmentID maps the object fetched by ex to a segment id of child:
	// 0 for the track's initialization object, -1 when the object does not
	// belong to the track.
	SegmentID(m *manifest.Manifest, child *manifest.ChildManifest, ex *trace.Exchange) int
}

// Registry selects a parser for a raw document.
type Registry struct {
	parsers []Parser
	logger  *slog.Logger
}

// NewRegistry returns a registry holding all dialect parsers. Detection is
// tried in order, most specific first.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		parsers: []Parser{
			NewPlayReady(logger),
			NewDASHList(logger),
			NewDASHTemplate(logger),
			NewHLS(logger),
			NewSmooth(logger),
		},
		logger: logger,
	}
}

// Parsers returns the registered parsers in detection order.
func (r *Registry) Parsers() []Parser {
	return append([]Parser(nil), r.parsers...)
}

// Detect returns the first parser claiming raw, or nil.
func (r *Registry) Detect(raw []byte, ex *trace.Exchange) Parser {
	for _, p := range r.parsers {
		if p.Detect(raw, ex) {
			return p
		}
	}
	return nil
}

// ForType returns the parser for a dialect, or nil.
func (r *Registry) ForType(t manifest.VideoType) Parser {
	for _, p := range r.parsers {
		if p.Type() == t {
			return p
		}
	}
	return nil
}

// Parse detects the dialect of raw and parses it. The returned manifest
// always has positive Duration and TimeScale. When no parser claims the
// document, or the parser panics, the manifest is returned with
// Valid=false and a nil Parser.
func (r *Registry) Parse(raw []byte, ex *trace.Exchange, master *manifest.Manifest) (m *manifest.Manifest, p Parser) {
	start := time.Now()
	uri := ""
	if ex != nil {
		uri = ex.URL()
	}

	p = r.Detect(raw, ex)
	if p == nil {
		r.logger.Warn("manifest_unrecognized", "uri", uri, "bytes", len(raw))
		m = manifest.New(manifest.VideoTypeUnknown, raw, ex)
		m.Valid = false
		m.ResolveDefaults()
		return m, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("manifest_parse_panic", "uri", uri, "type", p.Type().String(), "panic", fmt.Sprint(rec))
			m = manifest.New(p.Type(), raw, ex)
			m.Valid = false
			m.Master = master
			m.ResolveDefaults()
			p = nil
		}
	}()

	m = p.Parse(raw, ex, master)
	if m.Duration <= 0 || m.TimeScale <= 0 {
		d, ts := p.Timing(m)
		if m.Duration <= 0 {
			m.Duration = d
		}
		if m.TimeScale <= 0 {
			m.TimeScale = ts
		}
	}
	m.ResolveDefaults()

	r.logger.Debug("manifest_parsed",
		"uri", uri,
		"type", m.Type.String(),
		"role", m.Role.String(),
		"valid", m.Valid,
		"tracks", len(m.Children),
		"segments", m.SegmentCount(),
		"duration", m.Duration,
		"time_scale", m.TimeScale,
		"elapsed", time.Since(start),
	)
	return m, p
}

// trimBOM strips a UTF-8 byte-order mark and leading whitespace.
func trimBOM(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	return bytes.TrimLeft(raw, " \t\r\n")
}

// resolveChain resolves each BaseURL element in turn, outermost first.
func resolveChain(base string, refs ...string) string {
	for _, ref := range refs {
		if ref != "" {
			base = trace.ResolveReference(base, ref)
		}
	}
	return base
}

// exchangeURL returns the URL of ex, or "" for a nil exchange.
func exchangeURL(ex *trace.Exchange) string {
	if ex == nil {
		return ""
	}
	return ex.URL()
}
