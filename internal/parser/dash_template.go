package parser

import (
	"bytes"
	"log/slog"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// DASHTemplate parses SegmentTemplate-addressed MPDs.
type DASHTemplate struct {
	logger *slog.Logger
}

// NewDASHTemplate returns the segment-template DASH parser.
func NewDASHTemplate(logger *slog.Logger) *DASHTemplate {
	return &DASHTemplate{logger: logger}
}

// Type implements Parser.
func (p *DASHTemplate) Type() manifest.VideoType { return manifest.VideoTypeDASH }

// Detect claims every unprotected MPD not addressed by segment list or
// segment base.
func (p *DASHTemplate) Detect(raw []byte, _ *trace.Exchange) bool {
	return isMPD(raw) && !hasPlayReady(raw) && !isSegmentListMPD(raw)
}

// Parse implements Parser.
func (p *DASHTemplate) Parse(raw []byte, ex *trace.Exchange, master *manifest.Manifest) *manifest.Manifest {
	doc, err := decodeMPD(raw)
	if err != nil {
		p.logger.Warn("mpd_decode_failed", "uri", exchangeURL(ex), "error", err)
		m := manifest.New(manifest.VideoTypeDASH, raw, ex)
		m.Role = manifest.RoleMaster
		m.Master = master
		m.Valid = false
		return m
	}

	m := newMPDManifest(manifest.VideoTypeDASH, doc, raw, ex, master)
	d := &manifest.DASHTemplate{
		Profiles: doc.Profiles,
		Dynamic:  m.Live,
		Tracks:   make(map[string]*manifest.TemplateTrack),
	}
	m.Dialect = d

	buildTemplateTracks(p.logger, m, doc, d.Tracks, manifest.DefaultTimeScale, true)
	m.ContentType = contentTypeOf(m)
	if len(m.Children) == 0 {
		p.logger.Warn("mpd_no_representations", "uri", m.URI)
		m.Valid = false
	}
	return m
}

// Timing implements Parser.
func (p *DASHTemplate) Timing(m *manifest.Manifest) (float64, float64) {
	d, ok := m.Dialect.(*manifest.DASHTemplate)
	if !ok {
		return 0, 0
	}
	return templateTiming(m, d.Tracks)
}

// SegmentID implements Parser. The id is startNumber plus the segment's
// start time divided by the segment duration, both in ticks.
func (p *DASHTemplate) SegmentID(m *manifest.Manifest, child *manifest.ChildManifest, ex *trace.Exchange) int {
	d, ok := m.Dialect.(*manifest.DASHTemplate)
	if !ok || child == nil || ex == nil {
		return manifest.UnmatchedID
	}
	return templateSegmentID(d.Tracks[child.Name], trace.StripQuery(ex.URL()))
}

// buildTemplateTracks adds one child per representation that has a
// segment template and indexes its segments.
func buildTemplateTracks(logger *slog.Logger, m *manifest.Manifest, doc *mpdDoc, tracks map[string]*manifest.TemplateTrack, defaultTimeScale float64, withInit bool) {
	for _, fr := range doc.representations(m.URI) {
		c := childFromRep(fr)
		tmpl := effectiveTemplate(fr)
		if tmpl == nil {
			logger.Debug("mpd_representation_without_template", "uri", m.URI, "representation", fr.name)
			m.AddChild(c)
			continue
		}
		tt := buildTemplateTrack(fr, tmpl, m.PresentationDuration, defaultTimeScale)
		tracks[c.Name] = tt
		m.AddChild(c)
		indexTemplateTrack(c, tt, fr.start, m.PresentationDuration, withInit)
	}
}

func isSegmentListMPD(raw []byte) bool {
	if bytes.Contains(raw, []byte("<SegmentTemplate")) {
		return false
	}
	return bytes.Contains(raw, []byte("<SegmentList")) || bytes.Contains(raw, []byte("<SegmentBase"))
}
