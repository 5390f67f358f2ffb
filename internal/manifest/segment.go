package manifest

import "github.com/randomizedcoder/go-video-trace/internal/trace"

// UnmatchedID marks a segment that could not be identified.
const UnmatchedID = -1

// SegmentInfo is one addressable chunk of a track.
//
// Entries are created once per unique URI or byte range. After the first
// full parse only Size and Bitrate change, through Backfill.
type SegmentInfo struct {
	ID          int // 0 for the init segment, UnmatchedID when unknown
	Seq         int // insertion sequence within the track, strictly increasing
	StartTime   float64
	Explicit    bool // StartTime was declared by the manifest
	Duration    float64
	Bitrate     float64 // declared, bits per second
	Size        int64
	ContentType ContentType
	Quality     string
	URI         string
	Range       trace.ByteRange
	Init        bool
}

// EndTime returns StartTime + Duration.
func (s *SegmentInfo) EndTime() float64 {
	return s.StartTime + s.Duration
}

// Backfill records the downloaded size once the object completes. Size is
// only set once, and Bitrate is derived only when the manifest did not
// declare one.
func (s *SegmentInfo) Backfill(size int64) {
	if size <= 0 {
		return
	}
	if s.Size == 0 {
		s.Size = size
	}
	if s.Bitrate == 0 && s.Duration > 0 {
		s.Bitrate = float64(s.Size) * 8 / s.Duration
	}
}

// SegmentKey returns the index key for a segment: its URI, suffixed with
// the byte range when the segment is range addressed.
func SegmentKey(uri string, r trace.ByteRange) string {
	if r.IsZero() {
		return uri
	}
	return uri + "#" + r.String()
}
