package parser

import (
	"log/slog"
	"strings"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// PlayReady parses DASH MPDs protected with a PlayReady ContentProtection.
//
// Segments are addressed by a SegmentTemplate with a <S t d r> timeline.
// Initialization objects are not indexed at parse time; the correlator
// synthesizes them when they are downloaded.
type PlayReady struct {
	logger *slog.Logger
}

// NewPlayReady returns the PlayReady DASH parser.
func NewPlayReady(logger *slog.Logger) *PlayReady {
	return &PlayReady{logger: logger}
}

// Type implements Parser.
func (p *PlayReady) Type() manifest.VideoType { return manifest.VideoTypeDASHPlayReady }

// Detect implements Parser.
func (p *PlayReady) Detect(raw []byte, _ *trace.Exchange) bool {
	return isMPD(raw) && hasPlayReady(raw)
}

// Parse implements Parser.
func (p *PlayReady) Parse(raw []byte, ex *trace.Exchange, master *manifest.Manifest) *manifest.Manifest {
	doc, err := decodeMPD(raw)
	if err != nil {
		p.logger.Warn("mpd_decode_failed", "uri", exchangeURL(ex), "error", err)
		m := manifest.New(manifest.VideoTypeDASHPlayReady, raw, ex)
		m.Role = manifest.RoleMaster
		m.Master = master
		m.Valid = false
		return m
	}

	m := newMPDManifest(manifest.VideoTypeDASHPlayReady, doc, raw, ex, master)
	d := &manifest.PlayReady{
		SystemID: PlayReadySystemID,
		Tracks:   make(map[string]*manifest.TemplateTrack),
	}
	m.Dialect = d
	m.Encryption = "playready"

	for _, fr := range doc.representations(m.URI) {
		protections := append(append([]mpdContentProtection(nil), fr.set.ContentProtection...), fr.rep.ContentProtection...)
		for _, cp := range protections {
			scheme := strings.ToLower(cp.SchemeIDURI)
			if cp.DefaultKID != "" && d.DefaultKID == "" {
				d.DefaultKID = cp.DefaultKID
			}
			if strings.Contains(scheme, PlayReadySystemID) && cp.Pro != "" && d.PRO == "" {
				d.PRO = strings.TrimSpace(cp.Pro)
			}
		}
	}

	buildTemplateTracks(p.logger, m, doc, d.Tracks, manifest.DefaultTimeScale, false)
	m.ContentType = contentTypeOf(m)
	if len(m.Children) == 0 {
		p.logger.Warn("mpd_no_representations", "uri", m.URI)
		m.Valid = false
	}
	return m
}

// Timing implements Parser. The time scale is 1 when absent or zero.
func (p *PlayReady) Timing(m *manifest.Manifest) (float64, float64) {
	d, ok := m.Dialect.(*manifest.PlayReady)
	if !ok {
		return 0, manifest.DefaultTimeScale
	}
	dur, ts := templateTiming(m, d.Tracks)
	if ts <= 0 {
		ts = manifest.DefaultTimeScale
	}
	return dur, ts
}

// SegmentID implements Parser.
func (p *PlayReady) SegmentID(m *manifest.Manifest, child *manifest.ChildManifest, ex *trace.Exchange) int {
	d, ok := m.Dialect.(*manifest.PlayReady)
	if !ok || child == nil || ex == nil {
		return manifest.UnmatchedID
	}
	return templateSegmentID(d.Tracks[child.Name], trace.StripQuery(ex.URL()))
}
