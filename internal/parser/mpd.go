package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// PlayReadySystemID is the DASH-IF system id of Microsoft PlayReady.
const PlayReadySystemID = "9a04f079-9840-4286-ab92-e65be0885f95"

// maxGeneratedSegments bounds timeline and fixed-duration expansion.
const maxGeneratedSegments = 100000

type mpdDoc struct {
	XMLName                   xml.Name    `xml:"MPD"`
	Type                      string      `xml:"type,attr"`
	Profiles                  string      `xml:"profiles,attr"`
	MediaPresentationDuration string      `xml:"mediaPresentationDuration,attr"`
	AvailabilityStartTime     string      `xml:"availabilityStartTime,attr"`
	MinBufferTime             string      `xml:"minBufferTime,attr"`
	BaseURL                   string      `xml:"BaseURL"`
	Periods                   []mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	ID             string             `xml:"id,attr"`
	Start          string             `xml:"start,attr"`
	Duration       string             `xml:"duration,attr"`
	BaseURL        string             `xml:"BaseURL"`
	AdaptationSets []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	ID                string                 `xml:"id,attr"`
	ContentType       string                 `xml:"contentType,attr"`
	MimeType          string                 `xml:"mimeType,attr"`
	Codecs            string                 `xml:"codecs,attr"`
	Lang              string                 `xml:"lang,attr"`
	Width             string                 `xml:"width,attr"`
	Height            string                 `xml:"height,attr"`
	BaseURL           string                 `xml:"BaseURL"`
	ContentProtection []mpdContentProtection `xml:"ContentProtection"`
	AudioChannels     []mpdDescriptor        `xml:"AudioChannelConfiguration"`
	SegmentTemplate   *mpdSegmentTemplate    `xml:"SegmentTemplate"`
	SegmentList       *mpdSegmentList        `xml:"SegmentList"`
	SegmentBase       *mpdSegmentBase        `xml:"SegmentBase"`
	Representations   []mpdRepresentation    `xml:"Representation"`
}

type mpdRepresentation struct {
	ID                string                 `xml:"id,attr"`
	Bandwidth         string                 `xml:"bandwidth,attr"`
	Width             string                 `xml:"width,attr"`
	Height            string                 `xml:"height,attr"`
	Codecs            string                 `xml:"codecs,attr"`
	MimeType          string                 `xml:"mimeType,attr"`
	BaseURL           string                 `xml:"BaseURL"`
	ContentProtection []mpdContentProtection `xml:"ContentProtection"`
	AudioChannels     []mpdDescriptor        `xml:"AudioChannelConfiguration"`
	SegmentTemplate   *mpdSegmentTemplate    `xml:"SegmentTemplate"`
	SegmentList       *mpdSegmentList        `xml:"SegmentList"`
	SegmentBase       *mpdSegmentBase        `xml:"SegmentBase"`
}

type mpdSegmentTemplate struct {
	Media                  string       `xml:"media,attr"`
	Initialization         string       `xml:"initialization,attr"`
	StartNumber            string       `xml:"startNumber,attr"`
	Timescale              string       `xml:"timescale,attr"`
	Duration               string       `xml:"duration,attr"`
	PresentationTimeOffset string       `xml:"presentationTimeOffset,attr"`
	Timeline               *mpdTimeline `xml:"SegmentTimeline"`
}

type mpdTimeline struct {
	S []mpdS `xml:"S"`
}

type mpdS struct {
	T string `xml:"t,attr"`
	D string `xml:"d,attr"`
	R string `xml:"r,attr"`
}

type mpdSegmentList struct {
	Timescale      string          `xml:"timescale,attr"`
	Duration       string          `xml:"duration,attr"`
	StartNumber    string          `xml:"startNumber,attr"`
	Initialization *mpdURL         `xml:"Initialization"`
	SegmentURLs    []mpdSegmentURL `xml:"SegmentURL"`
}

type mpdSegmentURL struct {
	Media      string `xml:"media,attr"`
	MediaRange string `xml:"mediaRange,attr"`
	IndexRange string `xml:"indexRange,attr"`
}

type mpdURL struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

type mpdSegmentBase struct {
	Timescale      string  `xml:"timescale,attr"`
	IndexRange     string  `xml:"indexRange,attr"`
	Initialization *mpdURL `xml:"Initialization"`
}

type mpdContentProtection struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
	DefaultKID  string `xml:"default_KID,attr"`
	Pro         string `xml:"pro"`
}

type mpdDescriptor struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
}

// flatRep is one Representation with its inherited context.
type flatRep struct {
	period  *mpdPeriod
	set     *mpdAdaptationSet
	rep     *mpdRepresentation
	name    string
	baseURL string
	start   float64 // period start, seconds
}

func isMPD(raw []byte) bool {
	head := trimBOM(raw)
	if len(head) > 4096 {
		head = head[:4096]
	}
	return bytes.Contains(head, []byte("<MPD"))
}

func hasPlayReady(raw []byte) bool {
	return bytes.Contains(bytes.ToLower(raw), []byte(PlayReadySystemID))
}

func decodeMPD(raw []byte) (*mpdDoc, error) {
	var doc mpdDoc
	if err := xml.Unmarshal(trimBOM(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode mpd: %w", err)
	}
	return &doc, nil
}

// representations flattens the period/adaptation-set/representation tree.
func (d *mpdDoc) representations(manifestURL string) []flatRep {
	var out []flatRep
	multiPeriod := len(d.Periods) > 1
	for pi := range d.Periods {
		p := &d.Periods[pi]
		for ai := range p.AdaptationSets {
			as := &p.AdaptationSets[ai]
			for ri := range as.Representations {
				r := &as.Representations[ri]
				name := r.ID
				if name == "" {
					name = fmt.Sprintf("as%d-rep%d", ai, ri)
				}
				if multiPeriod {
					pid := p.ID
					if pid == "" {
						pid = fmt.Sprintf("p%d", pi)
					}
					name = pid + "/" + name
				}
				out = append(out, flatRep{
					period:  p,
					set:     as,
					rep:     r,
					name:    name,
					baseURL: resolveChain(manifestURL, d.BaseURL, p.BaseURL, as.BaseURL, r.BaseURL),
					start:   manifest.ParseISODuration(p.Start),
				})
			}
		}
	}
	return out
}

// newMPDManifest fills the dialect-independent fields shared by all MPD
// variants.
func newMPDManifest(t manifest.VideoType, doc *mpdDoc, raw []byte, ex *trace.Exchange, master *manifest.Manifest) *manifest.Manifest {
	m := manifest.New(t, raw, ex)
	m.Role = manifest.RoleMaster
	m.Master = master
	m.Live = strings.EqualFold(doc.Type, "dynamic")
	m.PresentationDuration = manifest.ParseISODuration(doc.MediaPresentationDuration)
	if m.PresentationDuration == 0 {
		for _, p := range doc.Periods {
			m.PresentationDuration += manifest.ParseISODuration(p.Duration)
		}
	}
	if doc.AvailabilityStartTime != "" {
		if ts, err := time.Parse(time.RFC3339Nano, doc.AvailabilityStartTime); err == nil {
			m.ProgramDateTime = ts
		}
	}
	return m
}

// childFromRep builds the track for one representation.
func childFromRep(fr flatRep) *manifest.ChildManifest {
	codecs := firstNonEmpty(fr.rep.Codecs, fr.set.Codecs)
	ct := manifest.ParseContentType(fr.set.ContentType)
	if ct == manifest.ContentUnknown {
		ct = manifest.ParseContentType(firstNonEmpty(fr.rep.MimeType, fr.set.MimeType))
	}
	if ct == manifest.ContentUnknown {
		ct = manifest.ContentTypeFromCodecs(codecs)
	}

	c := manifest.NewChild(fr.name, ct)
	c.Bandwidth = manifest.ParseFloat(fr.rep.Bandwidth)
	c.Codecs = codecs
	c.Width = int(manifest.ParseInt(firstNonEmpty(fr.rep.Width, fr.set.Width)))
	c.Height = int(manifest.ParseInt(firstNonEmpty(fr.rep.Height, fr.set.Height)))

	channels := fr.rep.AudioChannels
	if len(channels) == 0 {
		channels = fr.set.AudioChannels
	}
	if len(channels) > 0 {
		c.Channels = int(manifest.ParseInt(channels[0].Value))
	}
	return c
}

// effectiveTemplate merges the adaptation-set template with the
// representation's, the latter taking precedence per attribute.
func effectiveTemplate(fr flatRep) *mpdSegmentTemplate {
	outer, inner := fr.set.SegmentTemplate, fr.rep.SegmentTemplate
	switch {
	case outer == nil && inner == nil:
		return nil
	case outer == nil:
		return inner
	case inner == nil:
		return outer
	}
	merged := *outer
	merged.Media = firstNonEmpty(inner.Media, outer.Media)
	merged.Initialization = firstNonEmpty(inner.Initialization, outer.Initialization)
	merged.StartNumber = firstNonEmpty(inner.StartNumber, outer.StartNumber)
	merged.Timescale = firstNonEmpty(inner.Timescale, outer.Timescale)
	merged.Duration = firstNonEmpty(inner.Duration, outer.Duration)
	merged.PresentationTimeOffset = firstNonEmpty(inner.PresentationTimeOffset, outer.PresentationTimeOffset)
	if inner.Timeline != nil {
		merged.Timeline = inner.Timeline
	}
	return &merged
}

// expandTimeline expands <S t d r> entries. A missing t continues from the
// previous entry's end. A negative r repeats until limit ticks (when known).
func expandTimeline(tl *mpdTimeline, limit float64) []manifest.TimelineEntry {
	if tl == nil {
		return nil
	}
	var out []manifest.TimelineEntry
	var next float64
	for _, s := range tl.S {
		d := manifest.ParseFloat(s.D)
		if d <= 0 {
			continue
		}
		if s.T != "" {
			next = manifest.ParseFloat(s.T)
		}
		r := manifest.ParseInt(s.R)
		count := r + 1
		if r < 0 {
			count = 1
			if limit > next {
				count = int64(math.Ceil((limit - next) / d))
			}
		}
		for i := int64(0); i < count && len(out) < maxGeneratedSegments; i++ {
			out = append(out, manifest.TimelineEntry{Start: next, Duration: d})
			next += d
		}
	}
	return out
}

// buildTemplateTrack resolves the numeric template attributes of one
// representation. Unparseable numbers come back as 0, except the time
// scale which falls back to defaultTimeScale.
func buildTemplateTrack(fr flatRep, tmpl *mpdSegmentTemplate, presentation, defaultTimeScale float64) *manifest.TemplateTrack {
	tt := &manifest.TemplateTrack{
		Media:                  tmpl.Media,
		Initialization:         tmpl.Initialization,
		StartNumber:            1,
		TimeScale:              manifest.ParseFloat(tmpl.Timescale),
		Duration:               manifest.ParseFloat(tmpl.Duration),
		PresentationTimeOffset: manifest.ParseFloat(tmpl.PresentationTimeOffset),
		BaseURL:                fr.baseURL,
		RepresentationID:       fr.rep.ID,
		Bandwidth:              manifest.ParseFloat(fr.rep.Bandwidth),
	}
	if tmpl.StartNumber != "" {
		tt.StartNumber = manifest.ParseInt(tmpl.StartNumber)
	}
	if tt.TimeScale <= 0 {
		tt.TimeScale = defaultTimeScale
	}
	limit := 0.0
	if presentation > 0 {
		limit = tt.PresentationTimeOffset + presentation*tt.TimeScale
	}
	tt.Timeline = expandTimeline(tmpl.Timeline, limit)
	return tt
}

// indexTemplateTrack generates the segment index of one template track.
func indexTemplateTrack(c *manifest.ChildManifest, tt *manifest.TemplateTrack, periodStart, presentation float64, withInit bool) {
	vars := templateVars{RepresentationID: tt.RepresentationID, Bandwidth: tt.Bandwidth}

	if withInit && tt.Initialization != "" {
		uri := trace.ResolveReference(tt.BaseURL, expandTemplate(tt.Initialization, vars))
		c.AddSegment(uri, &manifest.SegmentInfo{URI: uri, Init: true})
	}
	if tt.Media == "" {
		return
	}

	if len(tt.Timeline) > 0 {
		c.SegmentDuration = tt.Timeline[0].Duration / tt.TimeScale
		for i, e := range tt.Timeline {
			vars.Number = tt.StartNumber + int64(i)
			vars.Time = int64(e.Start)
			uri := trace.ResolveReference(tt.BaseURL, expandTemplate(tt.Media, vars))
			c.AddSegment(uri, &manifest.SegmentInfo{
				ID:        int(vars.Number),
				URI:       uri,
				StartTime: periodStart + (e.Start-tt.PresentationTimeOffset)/tt.TimeScale,
				Explicit:  true,
				Duration:  e.Duration / tt.TimeScale,
			})
		}
		return
	}

	if tt.Duration <= 0 {
		return
	}
	segSeconds := tt.Duration / tt.TimeScale
	c.SegmentDuration = segSeconds
	if presentation <= 0 {
		// Live without a timeline: segments are synthesized on download.
		return
	}
	count := int(math.Ceil(presentation / segSeconds))
	if count > maxGeneratedSegments {
		count = maxGeneratedSegments
	}
	for i := 0; i < count; i++ {
		vars.Number = tt.StartNumber + int64(i)
		vars.Time = int64(float64(i)*tt.Duration + tt.PresentationTimeOffset)
		uri := trace.ResolveReference(tt.BaseURL, expandTemplate(tt.Media, vars))
		dur := segSeconds
		if rest := presentation - float64(i)*segSeconds; rest < dur {
			dur = rest
		}
		c.AddSegment(uri, &manifest.SegmentInfo{
			ID:        int(vars.Number),
			URI:       uri,
			StartTime: periodStart + float64(i)*segSeconds,
			Explicit:  true,
			Duration:  dur,
		})
	}
}

// templateSegmentID maps an object path to a segment id of a template
// track: 0 for the initialization object, startNumber + index for media,
// -1 when the path was not generated by this track.
func templateSegmentID(tt *manifest.TemplateTrack, path string) int {
	if tt == nil {
		return manifest.UnmatchedID
	}
	if im := newTemplateMatcher(tt.Initialization, tt.RepresentationID, tt.Bandwidth); im != nil {
		if _, _, ok := im.match(path); ok {
			return 0
		}
	}
	media := newTemplateMatcher(tt.Media, tt.RepresentationID, tt.Bandwidth)
	number, t, ok := media.match(path)
	if !ok {
		return manifest.UnmatchedID
	}
	if number >= 0 {
		return int(number)
	}
	if t < 0 {
		return manifest.UnmatchedID
	}
	for i, e := range tt.Timeline {
		if int64(e.Start) == t {
			return int(tt.StartNumber) + i
		}
	}
	d := tt.Duration
	origin := tt.PresentationTimeOffset
	if d <= 0 && len(tt.Timeline) > 0 {
		d = tt.Timeline[0].Duration
		origin = tt.Timeline[0].Start
	}
	if d <= 0 {
		return manifest.UnmatchedID
	}
	return int(tt.StartNumber) + int(math.Round((float64(t)-origin)/d))
}

// templateTiming returns the duration and time scale of the first video
// track, or of the first track when there is no video.
func templateTiming(m *manifest.Manifest, tracks map[string]*manifest.TemplateTrack) (float64, float64) {
	var pick *manifest.TemplateTrack
	for _, c := range m.Children {
		tt := tracks[c.Name]
		if tt == nil {
			continue
		}
		if pick == nil {
			pick = tt
		}
		if c.ContentType.CarriesVideo() {
			pick = tt
			break
		}
	}
	if pick == nil {
		return 0, 0
	}
	if pick.Duration > 0 {
		return pick.Duration, pick.TimeScale
	}
	if len(pick.Timeline) > 0 {
		return pick.Timeline[0].Duration, pick.TimeScale
	}
	return 0, pick.TimeScale
}

// contentTypeOf returns the manifest-level content type: the single type of
// all tracks, or muxed when both audio and video tracks exist.
func contentTypeOf(m *manifest.Manifest) manifest.ContentType {
	var video, audio bool
	for _, c := range m.Children {
		switch c.ContentType {
		case manifest.ContentVideo:
			video = true
		case manifest.ContentAudio:
			audio = true
		case manifest.ContentMuxed:
			video, audio = true, true
		}
	}
	switch {
	case video && audio:
		return manifest.ContentMuxed
	case video:
		return manifest.ContentVideo
	case audio:
		return manifest.ContentAudio
	}
	return manifest.ContentUnknown
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
