// Package correlate matches downloaded objects to indexed segments.
//
// Matching policy, in order:
//
//  1. exact URI match against the segment index (full URL, then path,
//     then unique file name);
//  2. for range-addressed objects, an exact match of the request byte
//     range against the declared ranges, or the unmatched sentinel;
//  3. fallback: the dialect parser maps the object name to a segment id
//     of one of the lineage's tracks and the segment is synthesized on
//     demand (PlayReady init segments, live fragments not yet listed).
//
// Every lineage is tried for steps 1 and 2 before any fallback runs, so
// a synthesized entry never shadows an exact match in another lineage.
package correlate

import (
	"fmt"
	"log/slog"

	"github.com/randomizedcoder/go-video-trace/internal/collection"
	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/parser"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
	"github.com/randomizedcoder/go-video-trace/internal/video"
)

// FailedRequest is a download that produced no event.
type FailedRequest = video.FailedRequest

// Method is the policy step that produced a match.
type Method int

const (
	MethodURI Method = iota
	MethodRange
	MethodSynthesized
)

func (m Method) String() string {
	switch m {
	case MethodURI:
		return "uri"
	case MethodRange:
		return "range"
	case MethodSynthesized:
		return "synthesized"
	default:
		return "unknown"
	}
}

// Observer receives correlation outcomes, e.g. for metrics.
type Observer interface {
	ObserveMatch(method Method, ct manifest.ContentType)
	ObserveMiss(reason video.Reason)
}

// Result is a successful correlation.
type Result struct {
	Event      *video.VideoEvent
	Collection *collection.ManifestCollection
	Method     Method
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithObserver reports every outcome to o.
func WithObserver(o Observer) Option {
	return func(c *Correlator) { c.observer = o }
}

// Correlator turns exchanges into VideoEvents. It holds no per-trace
// state; the segment index lives in the collections passed to it.
type Correlator struct {
	registry *parser.Registry
	logger   *slog.Logger
	observer Observer
}

// New returns a correlator using reg for the fallback step.
func New(reg *parser.Registry, logger *slog.Logger, opts ...Option) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Correlator{registry: reg, logger: logger}
	for _, o := range opts {
		o(c)
	}
	return c
}

type matchState int

const (
	notFound matchState = iota
	found
	rangeUnmatched
)

// Correlate matches ex against a single lineage.
func (c *Correlator) Correlate(ex *trace.Exchange, coll *collection.ManifestCollection) (*video.VideoEvent, *FailedRequest) {
	res, fr := c.correlate(ex, []*collection.ManifestCollection{coll})
	return res.Event, fr
}

// CorrelateSet matches ex against every lineage of set, most recent
// first.
func (c *Correlator) CorrelateSet(ex *trace.Exchange, set *collection.Set) (Result, *FailedRequest) {
	colls := set.Collections()
	for i, j := 0, len(colls)-1; i < j; i, j = i+1, j-1 {
		colls[i], colls[j] = colls[j], colls[i]
	}
	return c.correlate(ex, colls)
}

func (c *Correlator) correlate(ex *trace.Exchange, colls []*collection.ManifestCollection) (res Result, fr *FailedRequest) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("correlation_panic", "uri", ex.URL(), "panic", fmt.Sprint(r))
			res = Result{}
			fr = c.miss(ex, video.ReasonInternal, manifest.UnmatchedID, fmt.Sprint(r))
		}
	}()

	if len(colls) == 0 {
		return Result{}, c.miss(ex, video.ReasonNoManifest, manifest.UnmatchedID, "")
	}

	sawRange := false
	for _, coll := range colls {
		e, method, state := c.match(ex, coll)
		switch state {
		case found:
			return c.result(ex, coll, e, method), nil
		case rangeUnmatched:
			sawRange = true
		}
	}

	for _, coll := range colls {
		if e, ok := c.synthesize(ex, coll); ok {
			return c.result(ex, coll, e, MethodSynthesized), nil
		}
	}

	switch {
	case sawRange:
		r, _ := ex.ByteRange()
		return Result{}, c.miss(ex, video.ReasonRangeUnmatched, manifest.UnmatchedID, r.String())
	case ex.Failed():
		return Result{}, c.miss(ex, video.ReasonHTTPError, manifest.UnmatchedID, fmt.Sprintf("status %d", ex.StatusCode))
	default:
		return Result{}, c.miss(ex, video.ReasonUnmatched, manifest.UnmatchedID, "")
	}
}

// match runs the index lookups of policy steps 1 and 2.
func (c *Correlator) match(ex *trace.Exchange, coll *collection.ManifestCollection) (collection.Entry, Method, matchState) {
	url := ex.URL()
	r, ranged := ex.ByteRange()
	if ranged {
		if e, ok := coll.Lookup(manifest.SegmentKey(url, r)); ok {
			return e, MethodRange, found
		}
		if e, ok := coll.LookupRange(url, r); ok {
			if e.Segment != nil {
				return e, MethodRange, found
			}
			return e, MethodRange, rangeUnmatched
		}
	}
	if e, ok := coll.Lookup(url); ok {
		return e, MethodURI, found
	}
	return collection.Entry{}, MethodURI, notFound
}

// synthesize runs policy step 3: the first track whose dialect parser
// claims the object gets a new segment entry.
func (c *Correlator) synthesize(ex *trace.Exchange, coll *collection.ManifestCollection) (collection.Entry, bool) {
	url := ex.URL()
	r, _ := ex.ByteRange()
	for _, child := range coll.Children() {
		m := coll.ManifestFor(child)
		if m == nil {
			continue
		}
		p := c.registry.ForType(m.Type)
		if p == nil {
			continue
		}
		id := p.SegmentID(m, child, ex)
		if id < 0 {
			continue
		}
		info := &manifest.SegmentInfo{
			ID:    id,
			URI:   url,
			Range: r,
			Init:  id == 0 && m.FragmentedMP4(),
		}
		seg := coll.AddSegment(child, manifest.SegmentKey(url, r), info)
		c.logger.Debug("segment_synthesized",
			"uri", url,
			"track", child.Name,
			"segment_id", seg.ID,
			"init", seg.Init,
		)
		return collection.Entry{Child: child, Segment: seg}, true
	}
	return collection.Entry{}, false
}

func (c *Correlator) result(ex *trace.Exchange, coll *collection.ManifestCollection, e collection.Entry, method Method) Result {
	ev := NewEvent(ex, e, coll.ManifestFor(e.Child))
	if c.observer != nil {
		c.observer.ObserveMatch(method, ev.ContentType)
	}
	return Result{Event: ev, Collection: coll, Method: method}
}

func (c *Correlator) miss(ex *trace.Exchange, reason video.Reason, id int, detail string) *FailedRequest {
	c.logger.Debug("correlation_miss",
		"uri", ex.URL(),
		"reason", reason.String(),
		"status", ex.StatusCode,
		"range", ex.RangeHeader,
	)
	if c.observer != nil {
		c.observer.ObserveMiss(reason)
	}
	return &FailedRequest{Exchange: ex, Reason: reason, SegmentID: id, Detail: detail}
}

// NewEvent builds the event for a download of an indexed segment. The
// segment's size is backfilled from the response when it succeeded.
func NewEvent(ex *trace.Exchange, e collection.Entry, m *manifest.Manifest) *video.VideoEvent {
	seg, child := e.Segment, e.Child
	if !ex.Failed() {
		seg.Backfill(ex.ContentLength)
	}

	ev := &video.VideoEvent{
		Exchange:         ex,
		Segment:          seg,
		Child:            child,
		Manifest:         m,
		ContentType:      seg.ContentType,
		Quality:          seg.Quality,
		SegmentID:        seg.ID,
		Bitrate:          seg.Bitrate,
		Size:             ex.ContentLength,
		Range:            seg.Range,
		StartTS:          ex.RequestTime,
		EndTS:            ex.ResponseTime,
		SegmentStartTime: seg.StartTime,
		Duration:         seg.Duration,
		PlayTime:         seg.StartTime,
		PlayTimeEnd:      seg.EndTime(),
	}
	if ev.EndTS < ev.StartTS {
		ev.EndTS = ev.StartTS
	}
	if ev.Range.IsZero() {
		ev.Range, _ = ex.ByteRange()
	}
	if child != nil {
		if ev.ContentType == manifest.ContentUnknown {
			ev.ContentType = child.ContentType
		}
		if ev.Bitrate == 0 {
			ev.Bitrate = child.Bandwidth
		}
		if ev.Quality == "" {
			ev.Quality = child.Label()
		}
		ev.Width, ev.Height, ev.Channels = child.Width, child.Height, child.Channels
	}
	ev.Normal = IsNormalSegment(ex, seg, m)
	return ev
}

// IsNormalSegment reports whether a download counts toward playtime and
// stall math: the request succeeded and the object is a media segment.
// For fragmented-MP4 content, ids below 1 are initialization or pre-roll
// objects. Transport-stream playlists may legitimately start at id 0.
func IsNormalSegment(ex *trace.Exchange, seg *manifest.SegmentInfo, m *manifest.Manifest) bool {
	switch {
	case ex.Failed():
		return false
	case seg.Init:
		return false
	case seg.ID < 0:
		return false
	case seg.ID < 1 && m != nil && m.FragmentedMP4():
		return false
	}
	return true
}
