// Package stats computes quality rollups over a reconstructed playback
// timeline: time spent at each quality, declared versus observed bitrate,
// chunk pacing and download throughput.
//
// Everything here is a pure function of the compiled timeline; nothing
// holds on to the events passed in.
package stats

import (
	"sort"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/video"
)

// QualityTime is the playtime spent at one quality of one content type.
type QualityTime struct {
	ContentType     manifest.ContentType
	Quality         string
	Segments        int
	Duration        float64 // seconds of content played
	Percent         float64 // share of the content type's playtime
	DeclaredBitrate float64 // bits per second, from the manifest
	ObservedBitrate float64 // bits per second, mean of size*8/duration
	Width           int
	Height          int
	Bytes           int64
}

type qualityKey struct {
	ct      manifest.ContentType
	quality string
}

// QualityTimes groups the played segments by content type and quality.
//
// Percentages are relative to the content type's total playtime, so within
// one content type they sum to 100. The result is ordered by content type,
// then declared bitrate ascending.
func QualityTimes(events []*video.VideoEvent) []QualityTime {
	rows := make(map[qualityKey]*QualityTime)
	observed := make(map[qualityKey]int)
	totals := make(map[manifest.ContentType]float64)

	for _, ev := range events {
		k := qualityKey{ct: ev.ContentType, quality: ev.Label()}
		q, ok := rows[k]
		if !ok {
			q = &QualityTime{ContentType: k.ct, Quality: k.quality}
			rows[k] = q
		}
		q.Segments++
		q.Duration += ev.Duration
		q.Bytes += ev.Size
		if ev.Bitrate > q.DeclaredBitrate {
			q.DeclaredBitrate = ev.Bitrate
		}
		if q.Width == 0 && q.Height == 0 {
			q.Width, q.Height = ev.Width, ev.Height
		}
		if br := ev.ObservedBitrate(); br > 0 {
			q.ObservedBitrate += br
			observed[k]++
		}
		totals[k.ct] += ev.Duration
	}

	out := make([]QualityTime, 0, len(rows))
	for k, q := range rows {
		if n := observed[k]; n > 0 {
			q.ObservedBitrate /= float64(n)
		}
		if total := totals[k.ct]; total > 0 {
			q.Percent = q.Duration / total * 100
		}
		out = append(out, *q)
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

// LadderStep is one rung of a declared bitrate ladder and how much of the
// playback used it.
type LadderStep struct {
	Bitrate  float64
	Segments int
	Duration float64
	Declared bool // rung appears in a manifest ladder
}

// LadderUsage maps the played segments of carrying-video content onto the
// union of the declared ladders. Bitrates played but never declared are
// reported with Declared=false.
func LadderUsage(ladders [][]float64, events []*video.VideoEvent) []LadderStep {
	steps := make(map[float64]*LadderStep)
	for _, ladder := range ladders {
		for _, bw := range ladder {
			if bw > 0 && steps[bw] == nil {
				steps[bw] = &LadderStep{Bitrate: bw, Declared: true}
			}
		}
	}
	for _, ev := range events {
		if ev.Bitrate <= 0 {
			continue
		}
		st := steps[ev.Bitrate]
		if st == nil {
			st = &LadderStep{Bitrate: ev.Bitrate}
			steps[ev.Bitrate] = st
		}
		st.Segments++
		st.Duration += ev.Duration
	}

	out := make([]LadderStep, 0, len(steps))
	for _, st := range steps {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bitrate < out[j].Bitrate })
	return out
}
