package manifest

import (
	"fmt"

	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// ChildManifest is one quality track of a manifest.
type ChildManifest struct {
	Manifest *Manifest // owner

	Name        string // representation id, rendition name or variant URI
	URI         string // variant playlist URI (HLS), empty for DASH/smooth
	Bandwidth   float64
	Codecs      string
	Width       int
	Height      int
	Channels    int
	ContentType ContentType
	Quality     string // display label, e.g. "720p" or "128k"
	Index       int    // position in the owner's track list

	// SegmentDuration is the nominal duration of this track's segments
	// in seconds, used for segments synthesized after parsing.
	SegmentDuration float64

	InitSegment *SegmentInfo

	segments         map[string]*SegmentInfo
	order            []string
	segmentStartTime float64
	nextSeq          int
}

// NewChild returns an empty track.
func NewChild(name string, ct ContentType) *ChildManifest {
	return &ChildManifest{
		Name:        name,
		ContentType: ct,
		segments:    make(map[string]*SegmentInfo),
	}
}

// Label returns the quality label, falling back to resolution or bandwidth.
func (c *ChildManifest) Label() string {
	switch {
	case c.Quality != "":
		return c.Quality
	case c.Height > 0:
		return fmt.Sprintf("%dp", c.Height)
	case c.Bandwidth > 0:
		return fmt.Sprintf("%.0fk", c.Bandwidth/1000)
	default:
		return c.Name
	}
}

// AddSegment inserts info under key and returns the indexed entry.
//
// Insertion is idempotent: when key is already indexed the existing entry
// is returned, added is false and the start-time accumulator is untouched.
// Otherwise the entry gets the next sequence number and, unless it carries
// an explicit start time, the accumulator's current value as its start.
// The accumulator then advances past the segment.
//
// Callers must insert segments of one track in playback order.
func (c *ChildManifest) AddSegment(key string, info *SegmentInfo) (seg *SegmentInfo, added bool) {
	if c.segments == nil {
		c.segments = make(map[string]*SegmentInfo)
	}
	if existing, ok := c.segments[key]; ok {
		return existing, false
	}

	if info.ContentType == ContentUnknown {
		info.ContentType = c.ContentType
	}
	if info.Quality == "" {
		info.Quality = c.Label()
	}
	if info.Bitrate == 0 {
		info.Bitrate = c.Bandwidth
	}

	if info.Init {
		info.ID = 0
		if c.InitSegment == nil {
			c.InitSegment = info
		}
	} else {
		if info.Duration <= 0 {
			info.Duration = c.SegmentDuration
		}
		if info.Explicit {
			if end := info.StartTime + info.Duration; end > c.segmentStartTime {
				c.segmentStartTime = end
			}
		} else {
			info.StartTime = c.segmentStartTime
			c.segmentStartTime += info.Duration
		}
	}

	c.nextSeq++
	info.Seq = c.nextSeq
	c.segments[key] = info
	c.order = append(c.order, key)
	return info, true
}

// Segment returns the entry indexed under key.
func (c *ChildManifest) Segment(key string) (*SegmentInfo, bool) {
	s, ok := c.segments[key]
	return s, ok
}

// Segments returns the indexed entries in insertion order.
func (c *ChildManifest) Segments() []*SegmentInfo {
	out := make([]*SegmentInfo, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.segments[k])
	}
	return out
}

// Keys returns the index keys in insertion order.
func (c *ChildManifest) Keys() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of indexed entries, init segment included.
func (c *ChildManifest) Len() int {
	return len(c.order)
}

// SegmentStartTime returns the start-time accumulator in seconds.
func (c *ChildManifest) SegmentStartTime() float64 {
	return c.segmentStartTime
}

// SegmentByID returns the first media segment with the given id.
func (c *ChildManifest) SegmentByID(id int) (*SegmentInfo, bool) {
	for _, k := range c.order {
		if s := c.segments[k]; !s.Init && s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// SegmentByRange returns the entry whose declared byte range exactly
// equals r. There is no partial or overlapping match.
func (c *ChildManifest) SegmentByRange(r trace.ByteRange) (*SegmentInfo, bool) {
	for _, k := range c.order {
		s := c.segments[k]
		if !s.Range.IsZero() && s.Range == r {
			return s, true
		}
	}
	return nil, false
}

// LastID returns the id of the most recently inserted media segment, or
// -1 when the track has none.
func (c *ChildManifest) LastID() int {
	for i := len(c.order) - 1; i >= 0; i-- {
		if s := c.segments[c.order[i]]; !s.Init {
			return s.ID
		}
	}
	return -1
}
