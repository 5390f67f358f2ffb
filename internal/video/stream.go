package video

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
)

// State is the lifecycle stage of a VideoStream.
type State int

const (
	StateCollecting State = iota // events still arriving in download order
	StateValidated               // scanned; read-only from here on
)

func (s State) String() string {
	if s == StateValidated {
		return "validated"
	}
	return "collecting"
}

// DuplicatePolicy selects which copy of a segment survives when the same
// segment is downloaded more than once.
type DuplicatePolicy int

const (
	KeepFirst   DuplicatePolicy = iota // first-arrived copy
	KeepLast                           // last-arrived copy
	KeepHighest                        // highest declared bitrate, first on ties
)

func (p DuplicatePolicy) String() string {
	switch p {
	case KeepLast:
		return "last"
	case KeepHighest:
		return "highest"
	default:
		return "first"
	}
}

// ParseDuplicatePolicy parses "first", "last" or "highest".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return KeepFirst, nil
	case "last":
		return KeepLast, nil
	case "highest":
		return KeepHighest, nil
	}
	return KeepFirst, fmt.Errorf("unknown duplicate policy %q", s)
}

// prefer reports whether cand should replace cur under the policy.
func (p DuplicatePolicy) prefer(cand, cur *VideoEvent) bool {
	switch p {
	case KeepLast:
		return cand.StartTS >= cur.StartTS
	case KeepHighest:
		return cand.Bitrate > cur.Bitrate
	default:
		return false
	}
}

type segmentKey struct {
	quality string
	id      int
}

// typeIndex holds the events of one content type.
type typeIndex struct {
	downloads []*VideoEvent
	bySegment map[segmentKey]*VideoEvent
	held      map[EventKey]struct{}
}

func newTypeIndex() *typeIndex {
	return &typeIndex{
		bySegment: make(map[segmentKey]*VideoEvent),
		held:      make(map[EventKey]struct{}),
	}
}

// VideoStream is the set of downloads for one manifest lineage,
// partitioned by content type.
//
// Within one content type and quality a segment id appears at most once
// in the segment index. Copies that lose under the duplicate policy are
// kept in Duplicates.
//
// A VideoStream is not safe for concurrent use. StreamingVideoData
// serializes access to the streams it owns.
type VideoStream struct {
	ID          string
	Manifest    *manifest.Manifest
	RequestTime float64
	Valid       bool
	Selected    bool // at least one normal segment was downloaded
	State       State

	policy     DuplicatePolicy
	types      map[manifest.ContentType]*typeIndex
	duplicates []*VideoEvent
	gaps       map[manifest.ContentType]int
	missing    map[manifest.ContentType]int
}

// NewVideoStream returns an empty stream for the lineage whose first
// manifest is m.
func NewVideoStream(m *manifest.Manifest, requestTime float64, policy DuplicatePolicy) *VideoStream {
	return &VideoStream{
		ID:          uuid.NewString(),
		Manifest:    m,
		RequestTime: requestTime,
		Valid:       m == nil || m.Valid,
		policy:      policy,
		types:       make(map[manifest.ContentType]*typeIndex),
		gaps:        make(map[manifest.ContentType]int),
		missing:     make(map[manifest.ContentType]int),
	}
}

func (s *VideoStream) index(ct manifest.ContentType) *typeIndex {
	idx, ok := s.types[ct]
	if !ok {
		idx = newTypeIndex()
		s.types[ct] = idx
	}
	return idx
}

// Contains reports whether s already holds a download equal to ev within
// ev's content type.
func (s *VideoStream) Contains(ev *VideoEvent) bool {
	idx, ok := s.types[ev.ContentType]
	if !ok {
		return false
	}
	_, ok = idx.held[ev.Key()]
	return ok
}

// Add appends ev to the download-order index and, for normal events, the
// segment index. kept is false when ev lost to an earlier copy of the same
// segment, or when ev equals a download already held, in which case it is
// dropped without being recorded anywhere.
func (s *VideoStream) Add(ev *VideoEvent) (kept bool) {
	idx := s.index(ev.ContentType)
	k := ev.Key()
	if _, ok := idx.held[k]; ok {
		return false
	}
	idx.held[k] = struct{}{}
	idx.downloads = append(idx.downloads, ev)
	if !ev.Normal {
		return true
	}
	return s.indexSegment(idx, ev)
}

func (s *VideoStream) indexSegment(idx *typeIndex, ev *VideoEvent) bool {
	k := segmentKey{quality: ev.Label(), id: ev.SegmentID}
	cur, ok := idx.bySegment[k]
	if !ok {
		idx.bySegment[k] = ev
		return true
	}
	if s.policy.prefer(ev, cur) {
		idx.bySegment[k] = ev
		s.duplicates = append(s.duplicates, cur)
		return true
	}
	s.duplicates = append(s.duplicates, ev)
	return false
}

// ContentTypes returns the content types with at least one event.
func (s *VideoStream) ContentTypes() []manifest.ContentType {
	out := make([]manifest.ContentType, 0, len(s.types))
	for ct, idx := range s.types {
		if len(idx.downloads) > 0 {
			out = append(out, ct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether the stream holds events of content type ct.
func (s *VideoStream) Has(ct manifest.ContentType) bool {
	idx, ok := s.types[ct]
	return ok && len(idx.downloads) > 0
}

// Events returns every event of content type ct in download order.
func (s *VideoStream) Events(ct manifest.ContentType) []*VideoEvent {
	idx, ok := s.types[ct]
	if !ok {
		return nil
	}
	return append([]*VideoEvent(nil), idx.downloads...)
}

// Len returns the number of events over all content types.
func (s *VideoStream) Len() int {
	n := 0
	for _, idx := range s.types {
		n += len(idx.downloads)
	}
	return n
}

// SegmentOrder returns the indexed normal events of content type ct
// sorted by segment id, then play time, then download start.
func (s *VideoStream) SegmentOrder(ct manifest.ContentType) []*VideoEvent {
	idx, ok := s.types[ct]
	if !ok {
		return nil
	}
	out := make([]*VideoEvent, 0, len(idx.bySegment))
	for _, ev := range idx.bySegment {
		out = append(out, ev)
	}
	sortSegmentOrder(out)
	return out
}

func sortSegmentOrder(evs []*VideoEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if a.SegmentID != b.SegmentID {
			return a.SegmentID < b.SegmentID
		}
		if a.PlayTime != b.PlayTime {
			return a.PlayTime < b.PlayTime
		}
		if a.StartTS != b.StartTS {
			return a.StartTS < b.StartTS
		}
		return a.Label() < b.Label()
	})
}

// Playable returns one event per segment id of content type ct, in
// segment-id order. When a segment was fetched at several qualities the
// duplicate policy picks the copy that plays.
func (s *VideoStream) Playable(ct manifest.ContentType) []*VideoEvent {
	ordered := s.SegmentOrder(ct)
	out := make([]*VideoEvent, 0, len(ordered))
	for _, ev := range ordered {
		if n := len(out); n > 0 && out[n-1].SegmentID == ev.SegmentID {
			if s.policy.prefer(ev, out[n-1]) || (s.policy == KeepFirst && ev.StartTS < out[n-1].StartTS) {
				out[n-1] = ev
			}
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Duplicates returns the copies that lost under the duplicate policy, in
// the order they were displaced.
func (s *VideoStream) Duplicates() []*VideoEvent {
	return append([]*VideoEvent(nil), s.duplicates...)
}

// Redundant returns how many segment ids of content type ct were
// downloaded at more than one quality.
func (s *VideoStream) Redundant(ct manifest.ContentType) int {
	idx, ok := s.types[ct]
	if !ok {
		return 0
	}
	qualities := make(map[int]map[string]bool)
	for k := range idx.bySegment {
		if qualities[k.id] == nil {
			qualities[k.id] = make(map[string]bool)
		}
		qualities[k.id][k.quality] = true
	}
	n := 0
	for _, q := range qualities {
		if len(q) > 1 {
			n++
		}
	}
	return n
}

// Gaps returns the gap count of content type ct computed by the last scan.
func (s *VideoStream) Gaps(ct manifest.ContentType) int {
	return s.gaps[ct]
}

// Missing returns the number of segment ids skipped between consecutive
// playable segments of content type ct, computed by the last scan.
func (s *VideoStream) Missing(ct manifest.ContentType) int {
	return s.missing[ct]
}

// PrimaryType returns the content type driving playback: video, else
// muxed, else audio.
func (s *VideoStream) PrimaryType() manifest.ContentType {
	for _, ct := range []manifest.ContentType{manifest.ContentVideo, manifest.ContentMuxed, manifest.ContentAudio} {
		if idx, ok := s.types[ct]; ok && len(idx.bySegment) > 0 {
			return ct
		}
	}
	return manifest.ContentUnknown
}

// CountGaps walks consecutive events of segment order and counts the
// pairs whose play times are more than threshold seconds apart. One gap
// may hide several missing segments.
func CountGaps(ordered []*VideoEvent, threshold float64) int {
	gaps := 0
	for i := 1; i < len(ordered); i++ {
		if ordered[i].PlayTime-ordered[i-1].PlayTimeEnd > threshold {
			gaps++
		}
	}
	return gaps
}

// reclassifyMuxed moves muxed events to video. Called when the lineage
// also has a separate audio track, so the "muxed" tracks carry no audio.
func (s *VideoStream) reclassifyMuxed() int {
	muxed, ok := s.types[manifest.ContentMuxed]
	if !ok || len(muxed.downloads) == 0 {
		return 0
	}
	delete(s.types, manifest.ContentMuxed)
	video := s.index(manifest.ContentVideo)
	for _, ev := range muxed.downloads {
		ev.ContentType = manifest.ContentVideo
		video.downloads = append(video.downloads, ev)
	}
	sort.SliceStable(video.downloads, func(i, j int) bool {
		return video.downloads[i].StartTS < video.downloads[j].StartTS
	})
	for _, ev := range muxed.downloads {
		if ev.Normal && muxed.bySegment[segmentKey{quality: ev.Label(), id: ev.SegmentID}] == ev {
			s.indexSegment(video, ev)
		}
	}
	return len(muxed.downloads)
}

// scan validates the stream: content-type correction, selection flags,
// gap and missing-segment counts.
func (s *VideoStream) scan(gapThreshold float64) {
	if s.Has(manifest.ContentAudio) {
		s.reclassifyMuxed()
	}
	s.Selected = false
	for ct, idx := range s.types {
		if len(idx.bySegment) > 0 {
			s.Selected = true
		}
		ordered := s.SegmentOrder(ct)
		s.gaps[ct] = CountGaps(ordered, gapThreshold)

		playable := s.Playable(ct)
		missing := 0
		for i, ev := range playable {
			ev.Selected = true
			if i > 0 {
				if skipped := ev.SegmentID - playable[i-1].SegmentID - 1; skipped > 0 {
					missing += skipped
				}
			}
		}
		s.missing[ct] = missing
	}
	s.State = StateValidated
}
