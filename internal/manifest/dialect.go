package manifest

import "github.com/randomizedcoder/go-video-trace/internal/trace"

// Dialect carries the data only one manifest format has. The set of
// implementations is closed: DASHTemplate, DASHList, PlayReady, HLS and
// Smooth.
type Dialect interface {
	VideoType() VideoType
	dialect()
}

// TimelineEntry is one expanded timeline element, in ticks.
type TimelineEntry struct {
	Start    float64
	Duration float64
}

// TemplateTrack is the segment template of one DASH representation.
type TemplateTrack struct {
	Media                  string
	Initialization         string
	StartNumber            int64
	TimeScale              float64
	Duration               float64 // fixed segment duration in ticks, 0 with a timeline
	PresentationTimeOffset float64
	Timeline               []TimelineEntry
	BaseURL                string
	RepresentationID       string
	Bandwidth              float64
}

// DASHTemplate is a SegmentTemplate-addressed MPD.
type DASHTemplate struct {
	Profiles string
	Dynamic  bool
	// Tracks is keyed by ChildManifest.Name.
	Tracks map[string]*TemplateTrack
}

func (*DASHTemplate) VideoType() VideoType { return VideoTypeDASH }
func (*DASHTemplate) dialect()             {}

// ListTrack is the segment list of one byte-range-addressed representation.
type ListTrack struct {
	BaseURL     string
	Init        trace.ByteRange
	Index       trace.ByteRange
	Ranges      []trace.ByteRange
	MediaURLs   []string // per-entry media attribute, empty when ranges address BaseURL
	TimeScale   float64
	Duration    float64 // ticks
	StartNumber int64
}

// DASHList is a SegmentList or SegmentBase addressed MPD.
type DASHList struct {
	Profiles string
	Tracks   map[string]*ListTrack
}

func (*DASHList) VideoType() VideoType { return VideoTypeDASHSegmentList }
func (*DASHList) dialect()             {}

// PlayReady is a DASH MPD protected with a PlayReady ContentProtection.
type PlayReady struct {
	SystemID   string
	DefaultKID string
	PRO        string // base64 PlayReady object, when present
	Tracks     map[string]*TemplateTrack
}

func (*PlayReady) VideoType() VideoType { return VideoTypeDASHPlayReady }
func (*PlayReady) dialect()             {}

// Rendition is an HLS EXT-X-MEDIA entry.
type Rendition struct {
	Type       ContentType
	GroupID    string
	Name       string
	Language   string
	URI        string
	Default    bool
	Autoselect bool
	Channels   int
}

// HLS is an HLS master or media playlist.
type HLS struct {
	Version         int
	TargetDuration  float64
	MediaSequence   int64
	PlaylistType    string
	Ended           bool
	Discontinuities int
	Renditions      []Rendition
	KeyMethod       string
	KeyURI          string
	MapURI          string
	MapRange        trace.ByteRange
	IndependentSegs bool
}

func (*HLS) VideoType() VideoType { return VideoTypeHLS }
func (*HLS) dialect()             {}

// SmoothStream is one StreamIndex of a smooth-streaming manifest.
type SmoothStream struct {
	Type     ContentType
	Name     string
	URL      string // e.g. QualityLevels({bitrate})/Fragments(video={start time})
	Language string
	Chunks   []TimelineEntry
	// Tracks lists ChildManifest.Name values for this stream's quality levels.
	Tracks []string
}

// Smooth is a SmoothStreamingMedia manifest.
type Smooth struct {
	MajorVersion int
	TimeScale    float64
	Duration     float64 // ticks
	IsLive       bool
	Protected    bool
	Streams      []*SmoothStream
}

func (*Smooth) VideoType() VideoType { return VideoTypeSmooth }
func (*Smooth) dialect()             {}

// StreamFor returns the stream owning the named track.
func (s *Smooth) StreamFor(track string) *SmoothStream {
	for _, st := range s.Streams {
		for _, t := range st.Tracks {
			if t == track {
				return st
			}
		}
	}
	return nil
}
