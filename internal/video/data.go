package video

import (
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
)

// DefaultGapThreshold is the play-time distance, in seconds, above which
// two consecutive segments are considered discontiguous.
const DefaultGapThreshold = 0.01

// Counters summarize the segments of a trace.
type Counters struct {
	Total             int // every correlated download
	Valid             int // normal, indexed, in a valid stream
	Invalid           int // failed, init/pre-roll, or in an invalid stream
	Duplicates        int // lost under the duplicate policy
	Missing           int // segment ids skipped in playable order
	Failed            int // downloads that produced no event
	SelectedManifests int // streams with at least one normal segment
}

// Snapshot is a consistent copy of the aggregate for concurrent readers.
type Snapshot struct {
	Streams   int
	Events    int
	ByType    map[manifest.ContentType]int
	Counters  Counters
	LastTS    float64
	Validated bool
}

// StreamingVideoData is the trace-scoped aggregate of all VideoStreams.
//
// All mutation happens behind one lock, so a progress reader may call
// Snapshot while the analysis goroutine is still adding events. Streams
// returned by Streams must only be read after ScanVideoStreams.
type StreamingVideoData struct {
	ID string

	mu        sync.RWMutex
	policy    DuplicatePolicy
	streams   map[float64]*VideoStream
	keys      []float64
	failed    []FailedRequest
	counters  Counters
	lastTS    float64
	validated bool
}

// NewStreamingVideoData returns an empty aggregate.
func NewStreamingVideoData(policy DuplicatePolicy) *StreamingVideoData {
	return &StreamingVideoData{
		ID:      uuid.NewString(),
		policy:  policy,
		streams: make(map[float64]*VideoStream),
	}
}

// Stream returns the stream keyed by the request timestamp of the
// lineage's first manifest, creating it on first use. Two lineages
// starting at the same instant get distinct keys.
func (d *StreamingVideoData) Stream(m *manifest.Manifest, requestTime float64) *VideoStream {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := requestTime
	for {
		s, ok := d.streams[key]
		if !ok {
			break
		}
		if s.Manifest == m {
			return s
		}
		key = math.Nextafter(key, math.Inf(1))
	}
	s := NewVideoStream(m, key, d.policy)
	d.streams[key] = s
	i := sort.SearchFloat64s(d.keys, key)
	d.keys = append(d.keys, 0)
	copy(d.keys[i+1:], d.keys[i:])
	d.keys[i] = key
	d.validated = false
	return s
}

// AddEvent appends ev to s. It reports false, and counts nothing, when s
// already holds an equal download.
func (d *StreamingVideoData) AddEvent(s *VideoStream, ev *VideoEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.Contains(ev) {
		return false
	}
	s.Add(ev)
	d.counters.Total++
	if ev.EndTS > d.lastTS {
		d.lastTS = ev.EndTS
	}
	d.validated = false
	return true
}

// AddFailed records a download that produced no event.
func (d *StreamingVideoData) AddFailed(fr FailedRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, fr)
	d.counters.Failed++
	if fr.Exchange != nil && fr.Exchange.ResponseTime > d.lastTS {
		d.lastTS = fr.Exchange.ResponseTime
	}
}

// NoteManifest records a parsed fetch m of s's lineage. A stream is valid
// once any fetch of its lineage decoded, so a refetch revalidates a
// lineage whose first fetch was truncated. It reports whether s became
// valid.
func (d *StreamingVideoData) NoteManifest(s *VideoStream, m *manifest.Manifest) bool {
	if s == nil || m == nil || !m.Valid {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.Valid {
		return false
	}
	s.Valid = true
	d.validated = false
	return true
}

// ScanVideoStreams finalizes the aggregate: every stream is scanned for
// gaps wider than gapThreshold seconds, muxed tracks are reclassified as
// video where a separate audio track exists, and the counters are
// recomputed. It is idempotent.
func (d *StreamingVideoData) ScanVideoStreams(gapThreshold float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if gapThreshold <= 0 {
		gapThreshold = DefaultGapThreshold
	}
	c := Counters{Failed: len(d.failed)}
	for _, key := range d.keys {
		s := d.streams[key]
		s.scan(gapThreshold)
		c.Total += s.Len()
		if !s.Valid {
			c.Invalid += s.Len()
			continue
		}
		if s.Selected {
			c.SelectedManifests++
		}
		c.Duplicates += len(s.duplicates)
		for ct, idx := range s.types {
			for _, ev := range idx.downloads {
				if !ev.Normal {
					c.Invalid++
				}
			}
			c.Valid += len(idx.bySegment)
			c.Missing += s.missing[ct]
		}
	}
	d.counters = c
	d.validated = true
}

// Validated reports whether ScanVideoStreams ran after the last mutation.
func (d *StreamingVideoData) Validated() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.validated
}

// Streams returns the streams ordered by key.
func (d *StreamingVideoData) Streams() []*VideoStream {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*VideoStream, 0, len(d.keys))
	for _, k := range d.keys {
		out = append(out, d.streams[k])
	}
	return out
}

// FailedRequests returns the failed downloads in arrival order.
func (d *StreamingVideoData) FailedRequests() []FailedRequest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]FailedRequest(nil), d.failed...)
}

// Counters returns the current counters. Valid, Invalid and Missing are
// only meaningful after ScanVideoStreams.
func (d *StreamingVideoData) Counters() Counters {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.counters
}

// Snapshot returns a consistent copy of the aggregate's progress.
func (d *StreamingVideoData) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := Snapshot{
		Streams:   len(d.streams),
		ByType:    make(map[manifest.ContentType]int),
		Counters:  d.counters,
		LastTS:    d.lastTS,
		Validated: d.validated,
	}
	for _, s := range d.streams {
		for ct, idx := range s.types {
			snap.ByType[ct] += len(idx.downloads)
			snap.Events += len(idx.downloads)
		}
	}
	return snap
}
