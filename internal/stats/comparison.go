package stats

import (
	"math"
	"sort"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/video"
)

// SegmentComparison sets a track's declared bitrate against what the
// trace shows: the encoded rate implied by the segment sizes and the rate
// the network delivered them at.
type SegmentComparison struct {
	ContentType     manifest.ContentType
	Quality         string
	Segments        int
	DeclaredBitrate float64
	ObservedBitrate float64 // total bits / total content seconds
	Throughput      float64 // total bits / total download seconds
	MinThroughput   float64 // slowest single download
	DownloadTime    float64 // seconds spent downloading
}

// Headroom returns Throughput over DeclaredBitrate, or 0 when either is
// unknown. Values below 1 mean the network could not sustain the track.
func (c SegmentComparison) Headroom() float64 {
	if c.DeclaredBitrate <= 0 || c.Throughput <= 0 {
		return 0
	}
	return c.Throughput / c.DeclaredBitrate
}

// Compare builds one comparison row per content type and quality.
// Events without a size are counted but contribute no rate.
func Compare(events []*video.VideoEvent) []SegmentComparison {
	type acc struct {
		row      SegmentComparison
		bits     float64
		content  float64
		minThr   float64
		sizedDLs int
	}
	groups := make(map[qualityKey]*acc)

	for _, ev := range events {
		k := qualityKey{ct: ev.ContentType, quality: ev.Label()}
		a, ok := groups[k]
		if !ok {
			a = &acc{
				row:    SegmentComparison{ContentType: k.ct, Quality: k.quality},
				minThr: math.Inf(1),
			}
			groups[k] = a
		}
		a.row.Segments++
		if ev.Bitrate > a.row.DeclaredBitrate {
			a.row.DeclaredBitrate = ev.Bitrate
		}
		if ev.Size <= 0 {
			continue
		}
		a.bits += float64(ev.Size) * 8
		a.content += ev.Duration
		if dt := ev.DownloadTime(); dt > 0 {
			a.row.DownloadTime += dt
			a.sizedDLs++
			a.minThr = math.Min(a.minThr, ev.Throughput())
		}
	}

	out := make([]SegmentComparison, 0, len(groups))
	for _, a := range groups {
		r := a.row
		if a.content > 0 {
			r.ObservedBitrate = a.bits / a.content
		}
		if r.DownloadTime > 0 {
			r.Throughput = a.bits / r.DownloadTime
		}
		if a.sizedDLs > 0 {
			r.MinThroughput = a.minThr
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContentType != out[j].ContentType {
			return out[i].ContentType < out[j].ContentType
		}
		if out[i].DeclaredBitrate != out[j].DeclaredBitrate {
			return out[i].DeclaredBitrate < out[j].DeclaredBitrate
		}
		return out[i].Quality < out[j].Quality
	})
	return out
}
