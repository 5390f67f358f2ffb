package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// SmoothTimeScale is used when a manifest omits TimeScale or declares 0.
// Encoders normally declare 10000000 (100ns ticks).
const SmoothTimeScale = 1

type smoothDoc struct {
	XMLName      xml.Name            `xml:"SmoothStreamingMedia"`
	MajorVersion string              `xml:"MajorVersion,attr"`
	TimeScale    string              `xml:"TimeScale,attr"`
	Duration     string              `xml:"Duration,attr"`
	IsLive       string              `xml:"IsLive,attr"`
	Protection   *smoothProtection   `xml:"Protection"`
	Streams      []smoothStreamIndex `xml:"StreamIndex"`
}

type smoothProtection struct {
	Headers []struct {
		SystemID string `xml:"SystemID,attr"`
		Value    string `xml:",chardata"`
	} `xml:"ProtectionHeader"`
}

type smoothStreamIndex struct {
	Type      string               `xml:"Type,attr"`
	Name      string               `xml:"Name,attr"`
	URL       string               `xml:"Url,attr"`
	Language  string               `xml:"Language,attr"`
	TimeScale string               `xml:"TimeScale,attr"`
	MaxWidth  string               `xml:"MaxWidth,attr"`
	MaxHeight string               `xml:"MaxHeight,attr"`
	Levels    []smoothQualityLevel `xml:"QualityLevel"`
	Chunks    []smoothChunk        `xml:"c"`
}

type smoothQualityLevel struct {
	Index     string `xml:"Index,attr"`
	Bitrate   string `xml:"Bitrate,attr"`
	FourCC    string `xml:"FourCC,attr"`
	MaxWidth  string `xml:"MaxWidth,attr"`
	MaxHeight string `xml:"MaxHeight,attr"`
	Channels  string `xml:"Channels,attr"`
}

type smoothChunk struct {
	N string `xml:"n,attr"`
	T string `xml:"t,attr"`
	D string `xml:"d,attr"`
	R string `xml:"r,attr"`
}

// fragmentRe matches smooth-streaming fragment requests.
// Example: /movie.ism/QualityLevels(1500000)/Fragments(video=20000000)
var fragmentRe = regexp.MustCompile(`(?i)QualityLevels\((\d+)(?:,[^)]*)?\)/Fragments\(([^=)]+)=(\d+|i)\)`)

// fragmentKeyRe extracts the stream key from a StreamIndex Url template.
// Example: QualityLevels({bitrate})/Fragments(video={start time}) -> video
var fragmentKeyRe = regexp.MustCompile(`Fragments\(([^=]+)=`)

// Smooth parses SmoothStreamingMedia manifests.
type Smooth struct {
	logger *slog.Logger
}

// NewSmooth returns the smooth-streaming parser.
func NewSmooth(logger *slog.Logger) *Smooth {
	return &Smooth{logger: logger}
}

// Type implements Parser.
func (p *Smooth) Type() manifest.VideoType { return manifest.VideoTypeSmooth }

// Detect implements Parser.
func (p *Smooth) Detect(raw []byte, _ *trace.Exchange) bool {
	head := trimBOM(raw)
	if len(head) > 4096 {
		head = head[:4096]
	}
	return bytes.Contains(head, []byte("<SmoothStreamingMedia"))
}

// Parse implements Parser.
func (p *Smooth) Parse(raw []byte, ex *trace.Exchange, master *manifest.Manifest) *manifest.Manifest {
	m := manifest.New(manifest.VideoTypeSmooth, raw, ex)
	m.Role = manifest.RoleMaster
	m.Master = master

	var doc smoothDoc
	if err := xml.Unmarshal(trimBOM(raw), &doc); err != nil {
		p.logger.Warn("smooth_decode_failed", "uri", m.URI, "error", fmt.Errorf("decode smooth manifest: %w", err))
		m.Valid = false
		m.Dialect = &manifest.Smooth{TimeScale: SmoothTimeScale}
		return m
	}

	d := &manifest.Smooth{
		MajorVersion: int(manifest.ParseInt(doc.MajorVersion)),
		TimeScale:    manifest.ParseFloat(doc.TimeScale),
		Duration:     manifest.ParseFloat(doc.Duration),
		IsLive:       strings.EqualFold(doc.IsLive, "true"),
	}
	if d.TimeScale <= 0 {
		d.TimeScale = SmoothTimeScale
	}
	m.Dialect = d
	m.Live = d.IsLive
	m.PresentationDuration = d.Duration / d.TimeScale
	m.TimeScale = d.TimeScale

	if doc.Protection != nil {
		d.Protected = true
		m.Encryption = "playready"
		for _, h := range doc.Protection.Headers {
			if !strings.Contains(strings.ToLower(h.SystemID), PlayReadySystemID) {
				m.Encryption = "cenc"
			}
		}
	}

	for si, st := range doc.Streams {
		ct := manifest.ParseContentType(st.Type)
		ts := manifest.ParseFloat(st.TimeScale)
		if ts <= 0 {
			ts = d.TimeScale
		}
		stream := &manifest.SmoothStream{
			Type:     ct,
			Name:     firstNonEmpty(st.Name, st.Type),
			URL:      st.URL,
			Language: st.Language,
			Chunks:   expandSmoothChunks(st.Chunks),
		}
		d.Streams = append(d.Streams, stream)

		for li, ql := range st.Levels {
			bitrate := manifest.ParseFloat(ql.Bitrate)
			name := fmt.Sprintf("%s-%s", stream.Name, firstNonEmpty(ql.Bitrate, strconv.Itoa(li)))
			c := manifest.NewChild(name, ct)
			c.Bandwidth = bitrate
			c.Codecs = strings.ToLower(ql.FourCC)
			c.Width = int(manifest.ParseInt(firstNonEmpty(ql.MaxWidth, st.MaxWidth)))
			c.Height = int(manifest.ParseInt(firstNonEmpty(ql.MaxHeight, st.MaxHeight)))
			c.Channels = int(manifest.ParseInt(ql.Channels))
			if len(stream.Chunks) > 0 {
				c.SegmentDuration = stream.Chunks[0].Duration / ts
			}
			m.AddChild(c)
			stream.Tracks = append(stream.Tracks, name)

			for i, ch := range stream.Chunks {
				uri := trace.ResolveReference(m.URI, expandSmoothURL(st.URL, ql.Bitrate, int64(ch.Start)))
				c.AddSegment(uri, &manifest.SegmentInfo{
					ID:        i + 1,
					URI:       uri,
					StartTime: ch.Start / ts,
					Explicit:  true,
					Duration:  ch.Duration / ts,
				})
			}
		}
		if len(st.Levels) == 0 {
			p.logger.Debug("smooth_stream_without_levels", "uri", m.URI, "stream", si)
		}
	}

	m.ContentType = contentTypeOf(m)
	if len(m.Children) == 0 {
		p.logger.Warn("smooth_no_quality_levels", "uri", m.URI)
		m.Valid = false
	}
	return m
}

// expandSmoothChunks expands <c t d r> entries. A missing t continues from
// the previous chunk's end; r is the total number of chunks sharing d.
func expandSmoothChunks(chunks []smoothChunk) []manifest.TimelineEntry {
	var out []manifest.TimelineEntry
	var next float64
	for _, c := range chunks {
		d := manifest.ParseFloat(c.D)
		if c.T != "" {
			next = manifest.ParseFloat(c.T)
		}
		if d <= 0 {
			continue
		}
		count := manifest.ParseInt(c.R)
		if count < 1 {
			count = 1
		}
		for i := int64(0); i < count && len(out) < maxGeneratedSegments; i++ {
			out = append(out, manifest.TimelineEntry{Start: next, Duration: d})
			next += d
		}
	}
	return out
}

// expandSmoothURL fills the {bitrate} and {start time} placeholders.
func expandSmoothURL(tmpl, bitrate string, start int64) string {
	r := strings.NewReplacer(
		"{bitrate}", bitrate,
		"{Bitrate}", bitrate,
		"{start time}", strconv.FormatInt(start, 10),
		"{start_time}", strconv.FormatInt(start, 10),
		"{Start time}", strconv.FormatInt(start, 10),
	)
	return r.Replace(tmpl)
}

// Timing implements Parser. The time scale is 10,000,000 when absent.
func (p *Smooth) Timing(m *manifest.Manifest) (float64, float64) {
	d, ok := m.Dialect.(*manifest.Smooth)
	if !ok {
		return 0, SmoothTimeScale
	}
	ts := d.TimeScale
	if ts <= 0 {
		ts = SmoothTimeScale
	}
	for _, st := range d.Streams {
		if st.Type == manifest.ContentVideo && len(st.Chunks) > 0 {
			return st.Chunks[0].Duration, ts
		}
	}
	for _, st := range d.Streams {
		if len(st.Chunks) > 0 {
			return st.Chunks[0].Duration, ts
		}
	}
	return 0, ts
}

// SegmentID implements Parser: the 1-based timeline index of the requested
// fragment start time within the child's stream.
func (p *Smooth) SegmentID(m *manifest.Manifest, child *manifest.ChildManifest, ex *trace.Exchange) int {
	d, ok := m.Dialect.(*manifest.Smooth)
	if !ok || child == nil || ex == nil {
		return manifest.UnmatchedID
	}
	match := fragmentRe.FindStringSubmatch(ex.ObjectName)
	if match == nil {
		return manifest.UnmatchedID
	}
	bitrate := manifest.ParseFloat(match[1])
	if bitrate != child.Bandwidth {
		return manifest.UnmatchedID
	}
	stream := d.StreamFor(child.Name)
	if stream == nil || !strings.EqualFold(match[2], streamKey(stream)) {
		return manifest.UnmatchedID
	}
	if strings.EqualFold(match[3], "i") {
		return 0
	}
	start, err := strconv.ParseInt(match[3], 10, 64)
	if err != nil {
		return manifest.UnmatchedID
	}
	for i, ch := range stream.Chunks {
		if int64(ch.Start) == start {
			return i + 1
		}
	}
	return manifest.UnmatchedID
}

// streamKey returns the name used inside Fragments(<key>=...) for a stream.
func streamKey(st *manifest.SmoothStream) string {
	if m := fragmentKeyRe.FindStringSubmatch(st.URL); m != nil {
		return m[1]
	}
	return st.Name
}
