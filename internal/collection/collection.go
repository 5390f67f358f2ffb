// Package collection indexes the segments of one manifest lineage.
//
// A lineage is a master manifest together with every playlist or refresh
// fetched for it during a trace. HLS media playlists are re-fetched and
// overlap; DASH live manifests are refreshed. The collection merges every
// fetch into one canonical track per variant so that a segment URI is
// indexed exactly once, keeping the start time it was first given.
//
// Exchanges must be fed in request-timestamp order. The start-time
// accumulators of the canonical tracks depend on it.
package collection

import (
	"net/url"
	"sort"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// Entry is one indexed segment and the canonical track owning it.
type Entry struct {
	Child   *manifest.ChildManifest
	Segment *manifest.SegmentInfo
}

type childTime struct {
	ts    float64
	child *manifest.ChildManifest
}

// ManifestCollection is the segment index of one manifest lineage.
type ManifestCollection struct {
	ID     string
	Master *manifest.Manifest

	manifests []*manifest.Manifest
	children  []*manifest.ChildManifest
	byKey     map[string]*manifest.ChildManifest
	latest    map[*manifest.ChildManifest]*manifest.Manifest
	uris      map[string]bool

	byURL     map[string]Entry
	byPath    map[string]Entry
	byFile    map[string]Entry
	ambiguous map[string]bool
	ranges    map[string][]Entry

	childTimes []childTime
	segments   int
}

// New returns an empty collection.
func New() *ManifestCollection {
	return &ManifestCollection{
		ID:        uuid.NewString(),
		byKey:     make(map[string]*manifest.ChildManifest),
		latest:    make(map[*manifest.ChildManifest]*manifest.Manifest),
		uris:      make(map[string]bool),
		byURL:     make(map[string]Entry),
		byPath:    make(map[string]Entry),
		byFile:    make(map[string]Entry),
		ambiguous: make(map[string]bool),
		ranges:    make(map[string][]Entry),
	}
}

// childKey identifies a track across fetches: its playlist URI when it has
// one, otherwise its representation name.
func childKey(c *manifest.ChildManifest) string {
	if c.URI != "" {
		return c.URI
	}
	return c.Name
}

// AddManifest registers a fetched manifest. Tracks seen for the first time
// become canonical; tracks already known have their segments merged into
// the canonical track through AddSegment.
func (mc *ManifestCollection) AddManifest(m *manifest.Manifest) {
	mc.manifests = append(mc.manifests, m)
	if m.URI != "" {
		mc.uris[m.URI] = true
	}
	if m.Role != manifest.RoleChild && (mc.Master == nil || (!mc.Master.Valid && m.Valid)) {
		mc.Master = m
	}

	for _, ch := range m.Children {
		key := childKey(ch)
		canon, ok := mc.byKey[key]
		if !ok {
			mc.byKey[key] = ch
			mc.children = append(mc.children, ch)
			mc.latest[ch] = m
			if ch.URI != "" {
				mc.uris[ch.URI] = true
			}
			for _, k := range ch.Keys() {
				seg, _ := ch.Segment(k)
				mc.index(ch, k, seg)
			}
			canon = ch
		} else {
			mergeMetadata(canon, ch)
			mc.latest[canon] = m
			for _, k := range ch.Keys() {
				seg, _ := ch.Segment(k)
				mc.AddSegment(canon, k, cloneForMerge(seg))
			}
		}
		if m.Role == manifest.RoleChild {
			mc.childTimes = append(mc.childTimes, childTime{ts: m.RequestTime, child: canon})
		}
	}
}

func mergeMetadata(canon, ch *manifest.ChildManifest) {
	if canon.ContentType == manifest.ContentUnknown {
		canon.ContentType = ch.ContentType
	}
	if canon.Bandwidth == 0 {
		canon.Bandwidth = ch.Bandwidth
	}
	if canon.Codecs == "" {
		canon.Codecs = ch.Codecs
	}
	if canon.Width == 0 && canon.Height == 0 {
		canon.Width, canon.Height = ch.Width, ch.Height
	}
	if canon.Channels == 0 {
		canon.Channels = ch.Channels
	}
	if ch.SegmentDuration > 0 {
		canon.SegmentDuration = ch.SegmentDuration
	}
}

// cloneForMerge copies the manifest-declared fields of a segment. Start
// times assigned by a fetch's own accumulator are dropped so the canonical
// track assigns its own.
func cloneForMerge(s *manifest.SegmentInfo) *manifest.SegmentInfo {
	out := &manifest.SegmentInfo{
		ID:          s.ID,
		Explicit:    s.Explicit,
		Duration:    s.Duration,
		ContentType: s.ContentType,
		URI:         s.URI,
		Range:       s.Range,
		Init:        s.Init,
	}
	if s.Explicit {
		out.StartTime = s.StartTime
	}
	return out
}

// AddSegment inserts info into child under key, idempotently. An already
// indexed key returns the existing entry and leaves the track's start-time
// accumulator untouched.
func (mc *ManifestCollection) AddSegment(child *manifest.ChildManifest, key string, info *manifest.SegmentInfo) *manifest.SegmentInfo {
	seg, added := child.AddSegment(key, info)
	if added {
		mc.index(child, key, seg)
	}
	return seg
}

func (mc *ManifestCollection) index(child *manifest.ChildManifest, key string, seg *manifest.SegmentInfo) {
	e := Entry{Child: child, Segment: seg}
	mc.segments++
	if _, ok := mc.byURL[key]; !ok {
		mc.byURL[key] = e
	}
	p := objectPath(seg.URI)
	if !seg.Range.IsZero() {
		mc.ranges[p] = append(mc.ranges[p], e)
		return
	}
	if _, ok := mc.byPath[p]; !ok {
		mc.byPath[p] = e
	}
	f := trace.FileName(seg.URI)
	if f == "" || mc.ambiguous[f] {
		return
	}
	if prev, ok := mc.byFile[f]; ok {
		if prev.Segment != seg && objectPath(prev.Segment.URI) != p {
			// Same file name under different directories.
			mc.ambiguous[f] = true
			delete(mc.byFile, f)
		}
		return
	}
	mc.byFile[f] = e
}

// objectPath returns the path component of a URL, without host or query.
func objectPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return trace.StripQuery(raw)
	}
	return u.Path
}

// Lookup finds a non-ranged segment by URI: the full URL first, then the
// path without host and query, then the object file name when it is
// unique within the lineage.
func (mc *ManifestCollection) Lookup(uri string) (Entry, bool) {
	if e, ok := mc.byURL[uri]; ok {
		return e, true
	}
	if e, ok := mc.byPath[objectPath(uri)]; ok {
		return e, true
	}
	if e, ok := mc.byFile[trace.FileName(uri)]; ok {
		return e, true
	}
	return Entry{}, false
}

// LookupRange finds the range-addressed segment of the object at uri whose
// declared range equals r exactly.
//
// ok reports whether the object is range addressed in this lineage at all.
// When it is but no range matches, the entry carries the track of the
// object and a nil Segment: the unmatched sentinel.
func (mc *ManifestCollection) LookupRange(uri string, r trace.ByteRange) (e Entry, ok bool) {
	entries := mc.ranges[objectPath(uri)]
	if len(entries) == 0 {
		return Entry{}, false
	}
	for _, cand := range entries {
		if cand.Segment.Range == r {
			return cand, true
		}
	}
	return Entry{Child: entries[0].Child}, true
}

// IsRangeAddressed reports whether the object at uri is indexed by byte
// range.
func (mc *ManifestCollection) IsRangeAddressed(uri string) bool {
	return len(mc.ranges[objectPath(uri)]) > 0
}

// Owns reports whether uri is a manifest or track playlist of this lineage.
func (mc *ManifestCollection) Owns(uri string) bool {
	return mc.uris[uri]
}

// MasterChild returns the master's track for a playlist URI, if any.
func (mc *ManifestCollection) MasterChild(uri string) *manifest.ChildManifest {
	if mc.Master == nil {
		return nil
	}
	return mc.Master.Child(uri)
}

// ManifestFor returns the most recent manifest that declared child. Its
// dialect data describes the track's current segment layout.
func (mc *ManifestCollection) ManifestFor(child *manifest.ChildManifest) *manifest.Manifest {
	if m := mc.latest[child]; m != nil {
		return m
	}
	return child.Manifest
}

// Children returns the canonical tracks in first-seen order.
func (mc *ManifestCollection) Children() []*manifest.ChildManifest {
	return append([]*manifest.ChildManifest(nil), mc.children...)
}

// Manifests returns every registered fetch in registration order.
func (mc *ManifestCollection) Manifests() []*manifest.Manifest {
	return append([]*manifest.Manifest(nil), mc.manifests...)
}

// First returns the first registered manifest, or nil.
func (mc *ManifestCollection) First() *manifest.Manifest {
	if len(mc.manifests) == 0 {
		return nil
	}
	return mc.manifests[0]
}

// RequestTime returns the request timestamp of the lineage's first fetch.
func (mc *ManifestCollection) RequestTime() float64 {
	if m := mc.First(); m != nil {
		return m.RequestTime
	}
	return 0
}

// Segments returns the segments of a canonical track in insertion order.
func (mc *ManifestCollection) Segments(child *manifest.ChildManifest) []*manifest.SegmentInfo {
	return child.Segments()
}

// SegmentCount returns the number of indexed segments over all tracks.
func (mc *ManifestCollection) SegmentCount() int {
	return mc.segments
}

// Bandwidths returns the distinct declared bandwidths of the lineage's
// tracks in ascending order.
func (mc *ManifestCollection) Bandwidths() []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, c := range mc.children {
		if c.Bandwidth > 0 && !seen[c.Bandwidth] {
			seen[c.Bandwidth] = true
			out = append(out, c.Bandwidth)
		}
	}
	sort.Float64s(out)
	return out
}

// ChildByBandwidth returns the track declaring bandwidth bw, preferring
// tracks that carry video.
func (mc *ManifestCollection) ChildByBandwidth(bw float64) *manifest.ChildManifest {
	var fallback *manifest.ChildManifest
	for _, c := range mc.children {
		if c.Bandwidth != bw {
			continue
		}
		if c.ContentType.CarriesVideo() {
			return c
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback
}

// ChildAt returns the track whose playlist was most recently fetched at or
// before ts, or nil when no single-track playlist was fetched by then.
func (mc *ManifestCollection) ChildAt(ts float64) *manifest.ChildManifest {
	i := sort.Search(len(mc.childTimes), func(i int) bool {
		return mc.childTimes[i].ts > ts
	})
	if i == 0 {
		return nil
	}
	return mc.childTimes[i-1].child
}

// ManifestAt returns the most recent fetch at or before ts, or nil.
func (mc *ManifestCollection) ManifestAt(ts float64) *manifest.Manifest {
	var out *manifest.Manifest
	for _, m := range mc.manifests {
		if m.RequestTime > ts {
			break
		}
		out = m
	}
	return out
}
