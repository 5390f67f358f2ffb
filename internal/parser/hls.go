package parser

import (
	"bufio"
	"bytes"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// HLS parses master and media playlists.
type HLS struct {
	logger *slog.Logger
}

// NewHLS returns the HLS playlist parser.
func NewHLS(logger *slog.Logger) *HLS {
	return &HLS{logger: logger}
}

// Type implements Parser.
func (p *HLS) Type() manifest.VideoType { return manifest.VideoTypeHLS }

// Detect implements Parser.
func (p *HLS) Detect(raw []byte, _ *trace.Exchange) bool {
	return bytes.HasPrefix(trimBOM(raw), []byte("#EXTM3U"))
}

// Parse implements Parser. A playlist with #EXT-X-STREAM-INF entries is a
// master; anything else is a media playlist producing a single track.
func (p *HLS) Parse(raw []byte, ex *trace.Exchange, master *manifest.Manifest) *manifest.Manifest {
	m := manifest.New(manifest.VideoTypeHLS, raw, ex)
	m.Master = master
	d := &manifest.HLS{}
	m.Dialect = d

	body := trimBOM(raw)
	if !bytes.HasPrefix(body, []byte("#EXTM3U")) {
		p.logger.Warn("hls_missing_header", "uri", m.URI)
		m.Valid = false
		return m
	}

	if bytes.Contains(body, []byte("#EXT-X-STREAM-INF")) {
		m.Role = manifest.RoleMaster
		p.parseMaster(m, d, body)
	} else {
		m.Role = manifest.RoleChild
		p.parseMedia(m, d, body, master)
	}
	m.ContentType = contentTypeOf(m)
	return m
}

// hlsLines yields trimmed, non-empty playlist lines.
func hlsLines(body []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func (p *HLS) parseMaster(m *manifest.Manifest, d *manifest.HLS, body []byte) {
	var pending map[string]string
	audioGroups := make(map[string]bool)

	for _, line := range hlsLines(body) {
		switch {
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			d.Version = int(manifest.ParseInt(strings.TrimPrefix(line, "#EXT-X-VERSION:")))

		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-MEDIA:"))
			r := manifest.Rendition{
				Type:       manifest.ParseContentType(attrs["TYPE"]),
				GroupID:    attrs["GROUP-ID"],
				Name:       attrs["NAME"],
				Language:   attrs["LANGUAGE"],
				Default:    attrs["DEFAULT"] == "YES",
				Autoselect: attrs["AUTOSELECT"] == "YES",
			}
			if ch, _, _ := strings.Cut(attrs["CHANNELS"], "/"); ch != "" {
				r.Channels = int(manifest.ParseInt(ch))
			}
			if attrs["URI"] != "" {
				r.URI = trace.ResolveReference(m.URI, attrs["URI"])
			}
			d.Renditions = append(d.Renditions, r)
			if r.Type == manifest.ContentAudio && r.URI != "" {
				audioGroups[r.GroupID] = true
			}
			if r.URI != "" && (r.Type == manifest.ContentAudio || r.Type == manifest.ContentSubtitle) {
				c := manifest.NewChild(r.URI, r.Type)
				c.URI = r.URI
				c.Channels = r.Channels
				c.Quality = firstNonEmpty(r.Name, r.Language)
				m.AddChild(c)
			}

		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			pending = parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))

		case strings.HasPrefix(line, "#"):
			// I-frame playlists and unknown tags are not tracks.

		default:
			if pending == nil {
				p.logger.Debug("hls_uri_without_stream_inf", "uri", m.URI, "line", line)
				continue
			}
			uri := trace.ResolveReference(m.URI, line)
			c := manifest.NewChild(uri, manifest.ContentUnknown)
			c.URI = uri
			c.Bandwidth = manifest.ParseFloat(pending["BANDWIDTH"])
			if c.Bandwidth == 0 {
				c.Bandwidth = manifest.ParseFloat(pending["AVERAGE-BANDWIDTH"])
			}
			c.Codecs = pending["CODECS"]
			c.Width, c.Height = parseResolution(pending["RESOLUTION"])
			c.ContentType = manifest.ContentTypeFromCodecs(c.Codecs)
			if c.ContentType == manifest.ContentUnknown {
				c.ContentType = manifest.ContentMuxed
				if c.Height == 0 && c.Codecs == "" && pending["RESOLUTION"] == "" && pending["AUDIO"] == "" &&
					isAudioOnlyName(line) {
					c.ContentType = manifest.ContentAudio
				}
			}
			if c.ContentType == manifest.ContentMuxed && audioGroups[pending["AUDIO"]] {
				// Audio comes from a separate rendition.
				c.ContentType = manifest.ContentVideo
			}
			m.AddChild(c)
			pending = nil
		}
	}

	if len(m.Children) == 0 {
		p.logger.Warn("hls_master_without_variants", "uri", m.URI)
		m.Valid = false
	}
}

func (p *HLS) parseMedia(m *manifest.Manifest, d *manifest.HLS, body []byte, master *manifest.Manifest) {
	c := manifest.NewChild(m.URI, manifest.ContentUnknown)
	c.URI = m.URI
	if master != nil {
		if mc := master.Child(m.URI); mc != nil {
			c.Bandwidth = mc.Bandwidth
			c.Codecs = mc.Codecs
			c.Width, c.Height = mc.Width, mc.Height
			c.Channels = mc.Channels
			c.ContentType = mc.ContentType
			c.Quality = mc.Quality
		}
	}
	m.AddChild(c)

	var (
		extinf      float64
		haveExtinf  bool
		rangeLen    int64
		rangeOff    int64
		hasOffset   bool
		lastRangeOf = make(map[string]trace.ByteRange)
		pos         int
		total       float64
		firstExt    string
	)

	lines := hlsLines(body)
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			d.Version = int(manifest.ParseInt(strings.TrimPrefix(line, "#EXT-X-VERSION:")))
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			d.TargetDuration = manifest.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			d.MediaSequence = manifest.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"))
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:"):
			d.PlaylistType = strings.TrimPrefix(line, "#EXT-X-PLAYLIST-TYPE:")
		case line == "#EXT-X-ENDLIST":
			d.Ended = true
		case line == "#EXT-X-DISCONTINUITY":
			d.Discontinuities++
		case line == "#EXT-X-INDEPENDENT-SEGMENTS":
			d.IndependentSegs = true
		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"):
			if m.ProgramDateTime.IsZero() {
				m.ProgramDateTime = parseProgramDateTime(strings.TrimPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"))
			}
		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-KEY:"))
			d.KeyMethod = attrs["METHOD"]
			if attrs["URI"] != "" {
				d.KeyURI = trace.ResolveReference(m.URI, attrs["URI"])
			}
			if d.KeyMethod != "" && d.KeyMethod != "NONE" {
				m.Encryption = d.KeyMethod
			}
		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-MAP:"))
			if attrs["URI"] == "" {
				continue
			}
			d.MapURI = trace.ResolveReference(m.URI, attrs["URI"])
			if n, o, _, ok := parseHLSByteRange(attrs["BYTERANGE"]); ok {
				d.MapRange = trace.FromLengthOffset(n, o)
			}
			c.AddSegment(manifest.SegmentKey(d.MapURI, d.MapRange), &manifest.SegmentInfo{
				URI:   d.MapURI,
				Range: d.MapRange,
				Init:  true,
			})
		case strings.HasPrefix(line, "#EXTINF:"):
			val := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(val, ","); idx >= 0 {
				val = val[:idx]
			}
			extinf = manifest.ParseFloat(val)
			haveExtinf = true
			if extinf <= 0 {
				p.logger.Warn("hls_invalid_extinf", "uri", m.URI, "line", line)
			}
		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			var ok bool
			rangeLen, rangeOff, hasOffset, ok = parseHLSByteRange(strings.TrimPrefix(line, "#EXT-X-BYTERANGE:"))
			if !ok {
				p.logger.Warn("hls_invalid_byterange", "uri", m.URI, "line", line)
				rangeLen = 0
			}
		case strings.HasPrefix(line, "#"):
			// Unknown tag.
		default:
			if !haveExtinf {
				p.logger.Debug("hls_uri_without_extinf", "uri", m.URI, "line", line)
			}
			uri := trace.ResolveReference(m.URI, line)
			if firstExt == "" {
				firstExt = strings.ToLower(path.Ext(trace.StripQuery(uri)))
			}
			info := &manifest.SegmentInfo{
				ID:       int(d.MediaSequence) + pos,
				URI:      uri,
				Duration: extinf,
			}
			if rangeLen > 0 {
				offset := rangeOff
				if !hasOffset {
					// Without an offset the sub-range follows the previous one.
					if prev, ok := lastRangeOf[uri]; ok {
						offset = prev.End + 1
					}
				}
				info.Range = trace.FromLengthOffset(rangeLen, offset)
				lastRangeOf[uri] = info.Range
			}
			c.AddSegment(manifest.SegmentKey(uri, info.Range), info)
			total += extinf
			pos++
			extinf, haveExtinf = 0, false
			rangeLen, rangeOff, hasOffset = 0, 0, false
		}
	}

	if c.ContentType == manifest.ContentUnknown {
		c.ContentType = contentTypeForExtension(firstExt, d.MapURI != "")
		for _, s := range c.Segments() {
			s.ContentType = c.ContentType
		}
	}
	c.SegmentDuration = d.TargetDuration
	m.Duration = d.TargetDuration
	m.TimeScale = 1
	m.PresentationDuration = total
	m.Live = !d.Ended && !strings.EqualFold(d.PlaylistType, "VOD")
	if pos == 0 && d.MapURI == "" {
		p.logger.Debug("hls_media_playlist_empty", "uri", m.URI)
	}
}

// parseHLSByteRange parses "<n>[@<o>]".
func parseHLSByteRange(s string) (length, offset int64, hasOffset, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false, false
	}
	ls, offs, hasOffset := strings.Cut(s, "@")
	length, err := strconv.ParseInt(strings.TrimSpace(ls), 10, 64)
	if err != nil || length <= 0 {
		return 0, 0, false, false
	}
	if hasOffset {
		offset, err = strconv.ParseInt(strings.TrimSpace(offs), 10, 64)
		if err != nil || offset < 0 {
			return 0, 0, false, false
		}
	}
	return length, offset, hasOffset, true
}

func parseProgramDateTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z0700", "2006-01-02T15:04:05Z0700"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func contentTypeForExtension(ext string, fmp4 bool) manifest.ContentType {
	switch ext {
	case ".aac", ".mp3", ".m4a", ".ac3", ".ec3", ".cmfa":
		return manifest.ContentAudio
	case ".vtt", ".webvtt":
		return manifest.ContentSubtitle
	case ".ts":
		return manifest.ContentMuxed
	}
	if fmp4 {
		return manifest.ContentVideo
	}
	return manifest.ContentMuxed
}

func isAudioOnlyName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "audio") || strings.Contains(lower, "aac")
}

// Timing implements Parser: the target duration in seconds.
func (p *HLS) Timing(m *manifest.Manifest) (float64, float64) {
	d, ok := m.Dialect.(*manifest.HLS)
	if !ok || d.TargetDuration <= 0 {
		return 0, 1
	}
	return d.TargetDuration, 1
}

// SegmentID implements Parser. Indexed objects keep their playlist-order
// id. Objects next to the track's playlist that were never listed fall back
// to the numeric suffix of their file name.
func (p *HLS) SegmentID(m *manifest.Manifest, child *manifest.ChildManifest, ex *trace.Exchange) int {
	if child == nil || ex == nil {
		return manifest.UnmatchedID
	}
	url := ex.URL()
	r, _ := ex.ByteRange()
	if s, ok := child.Segment(manifest.SegmentKey(url, r)); ok {
		return s.ID
	}
	if s, ok := child.Segment(url); ok {
		return s.ID
	}
	if d, ok := m.Dialect.(*manifest.HLS); ok && d.MapURI != "" &&
		trace.StripQuery(d.MapURI) == trace.StripQuery(url) {
		return 0
	}
	if child.URI == "" || path.Dir(trace.StripQuery(child.URI)) != path.Dir(trace.StripQuery(url)) {
		return manifest.UnmatchedID
	}
	if n, ok := manifest.TrailingNumber(ex.FileName()); ok {
		return int(n)
	}
	return manifest.UnmatchedID
}
