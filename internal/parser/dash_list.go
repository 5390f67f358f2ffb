package parser

import (
	"log/slog"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// DASHList parses byte-range addressed MPDs (SegmentList with mediaRange,
// or SegmentBase with indexRange).
type DASHList struct {
	logger *slog.Logger
}

// NewDASHList returns the segment-list DASH parser.
func NewDASHList(logger *slog.Logger) *DASHList {
	return &DASHList{logger: logger}
}

// Type implements Parser.
func (p *DASHList) Type() manifest.VideoType { return manifest.VideoTypeDASHSegmentList }

// Detect implements Parser.
func (p *DASHList) Detect(raw []byte, _ *trace.Exchange) bool {
	return isMPD(raw) && !hasPlayReady(raw) && isSegmentListMPD(raw)
}

// Parse implements Parser.
func (p *DASHList) Parse(raw []byte, ex *trace.Exchange, master *manifest.Manifest) *manifest.Manifest {
	doc, err := decodeMPD(raw)
	if err != nil {
		p.logger.Warn("mpd_decode_failed", "uri", exchangeURL(ex), "error", err)
		m := manifest.New(manifest.VideoTypeDASHSegmentList, raw, ex)
		m.Role = manifest.RoleMaster
		m.Master = master
		m.Valid = false
		return m
	}

	m := newMPDManifest(manifest.VideoTypeDASHSegmentList, doc, raw, ex, master)
	d := &manifest.DASHList{
		Profiles: doc.Profiles,
		Tracks:   make(map[string]*manifest.ListTrack),
	}
	m.Dialect = d

	for _, fr := range doc.representations(m.URI) {
		c := childFromRep(fr)
		m.AddChild(c)
		lt := p.buildTrack(fr)
		d.Tracks[c.Name] = lt
		p.indexTrack(c, lt, fr.start)
	}

	m.ContentType = contentTypeOf(m)
	if len(m.Children) == 0 {
		p.logger.Warn("mpd_no_representations", "uri", m.URI)
		m.Valid = false
	}
	return m
}

func (p *DASHList) buildTrack(fr flatRep) *manifest.ListTrack {
	lt := &manifest.ListTrack{
		BaseURL:     fr.baseURL,
		TimeScale:   manifest.DefaultTimeScale,
		StartNumber: 1,
	}

	list := fr.rep.SegmentList
	if list == nil {
		list = fr.set.SegmentList
	}
	if list != nil {
		if ts := manifest.ParseFloat(list.Timescale); ts > 0 {
			lt.TimeScale = ts
		}
		lt.Duration = manifest.ParseFloat(list.Duration)
		if list.StartNumber != "" {
			lt.StartNumber = manifest.ParseInt(list.StartNumber)
		}
		if list.Initialization != nil {
			if r, ok := trace.ParseByteRange(list.Initialization.Range); ok {
				lt.Init = r
			}
		}
		for _, su := range list.SegmentURLs {
			r, ok := trace.ParseByteRange(su.MediaRange)
			if !ok && su.Media == "" {
				p.logger.Debug("mpd_segment_url_without_range", "base", fr.baseURL, "media_range", su.MediaRange)
				continue
			}
			lt.Ranges = append(lt.Ranges, r)
			lt.MediaURLs = append(lt.MediaURLs, su.Media)
		}
		return lt
	}

	base := fr.rep.SegmentBase
	if base == nil {
		base = fr.set.SegmentBase
	}
	if base != nil {
		if ts := manifest.ParseFloat(base.Timescale); ts > 0 {
			lt.TimeScale = ts
		}
		if r, ok := trace.ParseByteRange(base.IndexRange); ok {
			lt.Index = r
		}
		if base.Initialization != nil {
			if r, ok := trace.ParseByteRange(base.Initialization.Range); ok {
				lt.Init = r
			}
		}
	}
	return lt
}

func (p *DASHList) indexTrack(c *manifest.ChildManifest, lt *manifest.ListTrack, periodStart float64) {
	if !lt.Init.IsZero() {
		c.AddSegment(manifest.SegmentKey(lt.BaseURL, lt.Init), &manifest.SegmentInfo{
			URI:   lt.BaseURL,
			Range: lt.Init,
			Init:  true,
		})
	}
	segSeconds := 0.0
	if lt.Duration > 0 {
		segSeconds = lt.Duration / lt.TimeScale
	}
	c.SegmentDuration = segSeconds

	for i, r := range lt.Ranges {
		uri := lt.BaseURL
		if lt.MediaURLs[i] != "" {
			uri = trace.ResolveReference(lt.BaseURL, lt.MediaURLs[i])
		}
		info := &manifest.SegmentInfo{
			ID:       int(lt.StartNumber) + i,
			URI:      uri,
			Range:    r,
			Duration: segSeconds,
		}
		if segSeconds > 0 {
			info.StartTime = periodStart + float64(i)*segSeconds
			info.Explicit = true
		}
		c.AddSegment(manifest.SegmentKey(uri, r), info)
	}
}

// Timing implements Parser.
func (p *DASHList) Timing(m *manifest.Manifest) (float64, float64) {
	d, ok := m.Dialect.(*manifest.DASHList)
	if !ok {
		return 0, 0
	}
	for _, c := range m.Children {
		if lt := d.Tracks[c.Name]; lt != nil && lt.Duration > 0 && c.ContentType.CarriesVideo() {
			return lt.Duration, lt.TimeScale
		}
	}
	for _, c := range m.Children {
		if lt := d.Tracks[c.Name]; lt != nil && lt.Duration > 0 {
			return lt.Duration, lt.TimeScale
		}
	}
	return 0, 0
}

// SegmentID implements Parser. Identity is an exact match of the request
// byte range against the track's ordered ranges; there is no nearest or
// overlapping match.
func (p *DASHList) SegmentID(m *manifest.Manifest, child *manifest.ChildManifest, ex *trace.Exchange) int {
	d, ok := m.Dialect.(*manifest.DASHList)
	if !ok || child == nil || ex == nil {
		return manifest.UnmatchedID
	}
	lt := d.Tracks[child.Name]
	if lt == nil {
		return manifest.UnmatchedID
	}
	r, ok := ex.ByteRange()
	if !ok {
		return manifest.UnmatchedID
	}
	path := trace.StripQuery(ex.URL())
	if path != trace.StripQuery(lt.BaseURL) && !hasMediaURL(lt, path) {
		return manifest.UnmatchedID
	}
	if !lt.Init.IsZero() && r == lt.Init {
		return 0
	}
	for i, lr := range lt.Ranges {
		if lr == r {
			return int(lt.StartNumber) + i
		}
	}
	return manifest.UnmatchedID
}

func hasMediaURL(lt *manifest.ListTrack, path string) bool {
	for _, u := range lt.MediaURLs {
		if u != "" && trace.StripQuery(trace.ResolveReference(lt.BaseURL, u)) == path {
			return true
		}
	}
	return false
}
