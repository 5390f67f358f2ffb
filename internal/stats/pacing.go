package stats

import (
	"sort"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/video"
)

// digestCompression matches the accuracy/memory trade used for wall-time
// digests elsewhere: ~100 centroids.
const digestCompression = 100

// Percentiles of a distribution in seconds.
type Percentiles struct {
	P50 float64
	P95 float64
	P99 float64
	Max float64
}

// Pacing describes how the player spaced its segment requests.
type Pacing struct {
	Requests int

	// RequestGap is the time between consecutive segment requests of the
	// same content type.
	RequestGap Percentiles

	// DownloadTime is the request-to-last-byte time of each segment.
	DownloadTime Percentiles

	// IdleRatio is the share of the request span with no segment download
	// in flight, 0..1.
	IdleRatio float64
}

// Pace computes request pacing over downloads. Events may be in any
// order and of mixed content types.
func Pace(events []*video.VideoEvent) Pacing {
	p := Pacing{Requests: len(events)}
	if len(events) == 0 {
		return p
	}

	sorted := append([]*video.VideoEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTS < sorted[j].StartTS })

	gaps := tdigest.NewWithCompression(digestCompression)
	downloads := tdigest.NewWithCompression(digestCompression)
	var maxGap, maxDL float64
	var nGaps int

	last := make(map[manifest.ContentType]float64)
	for _, ev := range sorted {
		if prev, ok := last[ev.ContentType]; ok {
			g := ev.StartTS - prev
			gaps.Add(g, 1)
			nGaps++
			if g > maxGap {
				maxGap = g
			}
		}
		last[ev.ContentType] = ev.StartTS

		dt := ev.DownloadTime()
		downloads.Add(dt, 1)
		if dt > maxDL {
			maxDL = dt
		}
	}

	if nGaps > 0 {
		p.RequestGap = Percentiles{
			P50: gaps.Quantile(0.50),
			P95: gaps.Quantile(0.95),
			P99: gaps.Quantile(0.99),
			Max: maxGap,
		}
	}
	p.DownloadTime = Percentiles{
		P50: downloads.Quantile(0.50),
		P95: downloads.Quantile(0.95),
		P99: downloads.Quantile(0.99),
		Max: maxDL,
	}
	p.IdleRatio = idleRatio(sorted)
	return p
}

// idleRatio merges the download intervals of events sorted by start and
// returns the uncovered share of [first start, last end].
func idleRatio(sorted []*video.VideoEvent) float64 {
	begin := sorted[0].StartTS
	end := begin
	busy := 0.0
	curStart, curEnd := sorted[0].StartTS, sorted[0].EndTS
	for _, ev := range sorted[1:] {
		if ev.StartTS > curEnd {
			busy += curEnd - curStart
			curStart, curEnd = ev.StartTS, ev.EndTS
			continue
		}
		if ev.EndTS > curEnd {
			curEnd = ev.EndTS
		}
	}
	busy += curEnd - curStart
	for _, ev := range sorted {
		if ev.EndTS > end {
			end = ev.EndTS
		}
	}
	span := end - begin
	if span <= 0 {
		return 0
	}
	return 1 - busy/span
}
