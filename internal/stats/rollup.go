package stats

import (
	"sort"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/video"
)

// Rollup is the full set of quality metrics of one analyzed trace. It is
// a snapshot: nothing in it refers back to the aggregate.
type Rollup struct {
	TraceID  string
	Counters video.Counters

	Streams      int
	StartupDelay float64
	PlayDuration float64
	Stalls       int
	StallTime    float64
	Gaps         int
	Redundant    int

	BufferAvg float64
	BufferMax float64

	Quality    []QualityTime
	Comparison []SegmentComparison
	Ladder     []LadderStep
	Pacing     Pacing

	// Throughput is the download-rate distribution of all played segments,
	// bits per second.
	Throughput Percentiles

	// Failures counts downloads that produced no event, by reason.
	Failures map[string]int
}

// Build computes the rollup of a compiled timeline. data must be the
// aggregate c was compiled from; it supplies per-stream gap, redundancy
// and ladder information and the failed requests.
func Build(data *video.StreamingVideoData, c *video.StreamingVideoCompiled) *Rollup {
	r := &Rollup{
		TraceID:  data.ID,
		Counters: data.Counters(),
		Failures: make(map[string]int),
	}
	for _, fr := range data.FailedRequests() {
		r.Failures[fr.Reason.String()]++
	}

	var ladders [][]float64
	for _, s := range data.Streams() {
		if !s.Valid {
			continue
		}
		for _, ct := range s.ContentTypes() {
			r.Gaps += s.Gaps(ct)
			r.Redundant += s.Redundant(ct)
		}
		if s.Manifest != nil {
			ladders = append(ladders, s.Manifest.BitrateLadder())
		}
	}
	if c == nil {
		return r
	}

	played := make([]*video.VideoEvent, 0, len(c.Segments)+len(c.Audio))
	played = append(played, c.Segments...)
	played = append(played, c.Audio...)

	r.Streams = c.Streams
	r.StartupDelay = c.StartupDelay
	r.PlayDuration = c.PlayDuration()
	r.Stalls = len(c.Stalls)
	r.StallTime = c.TotalStall()
	r.BufferAvg, r.BufferMax = bufferStats(c.Buffer)

	r.Quality = QualityTimes(played)
	r.Comparison = Compare(played)
	r.Ladder = LadderUsage(ladders, carryingVideo(c.Segments))
	r.Pacing = Pace(played)
	r.Throughput = throughputPercentiles(played)
	return r
}

// FailureReasons returns the failure reasons in name order.
func (r *Rollup) FailureReasons() []string {
	out := make([]string, 0, len(r.Failures))
	for k := range r.Failures {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func carryingVideo(events []*video.VideoEvent) []*video.VideoEvent {
	out := make([]*video.VideoEvent, 0, len(events))
	for _, ev := range events {
		if ev.ContentType.CarriesVideo() || ev.ContentType == manifest.ContentUnknown {
			out = append(out, ev)
		}
	}
	if len(out) == 0 {
		return events
	}
	return out
}

func bufferStats(samples []video.BufferSample) (avg, max float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s.Seconds
		if s.Seconds > max {
			max = s.Seconds
		}
	}
	return sum / float64(len(samples)), max
}

func throughputPercentiles(events []*video.VideoEvent) Percentiles {
	h := NewThroughputHistogram()
	var peak float64
	for _, ev := range events {
		thr := ev.Throughput()
		h.Record(thr)
		if thr > peak {
			peak = thr
		}
	}
	if h.Count() == 0 {
		return Percentiles{}
	}
	return Percentiles{
		P50: h.Percentile(0.50),
		P95: h.Percentile(0.95),
		P99: h.Percentile(0.99),
		Max: peak,
	}
}
