package video

import (
	"errors"
	"math"
	"sort"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
)

var (
	// ErrNotValidated is returned by Compile before ScanVideoStreams ran.
	ErrNotValidated = errors.New("video: streams not validated")

	// ErrNoSegments is returned by Compile when no valid stream has a
	// playable segment.
	ErrNoSegments = errors.New("video: no playable segments")
)

// CompileOptions control play-time reconstruction.
type CompileOptions struct {
	// StartupDelay is the delay, in seconds from the first segment
	// request, before playback starts. Zero or negative means playback
	// starts when the first segment finishes downloading.
	StartupDelay float64

	// StallRecovery is added to every stall: the seconds a player waits
	// after data arrives before resuming.
	StallRecovery float64

	// StallThreshold is how late, in seconds, a segment may finish
	// downloading relative to its play time before a stall is inserted.
	StallThreshold float64
}

// Stall is one inferred playback pause.
type Stall struct {
	Time        float64 // play time at which playback paused
	Duration    float64
	SegmentID   int
	Quality     string
	ContentType manifest.ContentType
}

// BufferSample is the buffered-but-unplayed content, in seconds, at a
// download completion.
type BufferSample struct {
	Time    float64
	Seconds float64
}

// StreamingVideoCompiled is the reconstructed playback timeline.
type StreamingVideoCompiled struct {
	// Segments holds one event per played segment of the primary track
	// (video, or muxed, or audio for audio-only streams) in play order.
	// Events are copies; the aggregate is not modified.
	Segments []*VideoEvent

	// Audio holds the played segments of separate audio tracks.
	Audio []*VideoEvent

	Stalls        []Stall
	StartupDelay  float64 // seconds from first request to playback start
	StartupOffset float64 // added to manifest time to get play time
	Buffer        []BufferSample

	Streams    int
	Valid      int
	Invalid    int
	Missing    int
	Duplicates int
}

// TotalStall returns the summed stall duration.
func (c *StreamingVideoCompiled) TotalStall() float64 {
	total := 0.0
	for _, s := range c.Stalls {
		total += s.Duration
	}
	return total
}

// PlayDuration returns the summed duration of the played segments.
func (c *StreamingVideoCompiled) PlayDuration() float64 {
	total := 0.0
	for _, s := range c.Segments {
		total += s.Duration
	}
	return total
}

// offsetMark records the play-time offset in effect from a manifest time.
type offsetMark struct {
	from   float64
	offset float64
}

func offsetAt(marks []offsetMark, t, base float64) float64 {
	i := sort.Search(len(marks), func(i int) bool { return marks[i].from > t })
	if i == 0 {
		return base
	}
	return marks[i-1].offset
}

// Compile reconstructs the playback timeline of the validated streams.
//
// Play time is manifest time plus an offset. The offset is fixed once at
// startup and grows by each stall, so play time never decreases in
// segment order. A stall is inserted when a segment finishes downloading
// after its play time; its width is the lateness plus StallRecovery.
// Streams after the first start when the previous one ends, or when
// their first segment is downloaded if that is later.
func (d *StreamingVideoData) Compile(opts CompileOptions) (*StreamingVideoCompiled, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.validated {
		return nil, ErrNotValidated
	}

	out := &StreamingVideoCompiled{
		Valid:      d.counters.Valid,
		Invalid:    d.counters.Invalid,
		Missing:    d.counters.Missing,
		Duplicates: d.counters.Duplicates,
	}

	started := false
	prevEnd := 0.0
	for _, key := range d.keys {
		s := d.streams[key]
		if !s.Valid || !s.Selected {
			continue
		}
		primary := s.PrimaryType()
		events := s.Playable(primary)
		if len(events) == 0 {
			continue
		}
		out.Streams++

		head := events[0]
		var start float64
		if !started {
			start = head.EndTS
			if opts.StartupDelay > 0 {
				start = head.StartTS + opts.StartupDelay
			}
			out.StartupDelay = start - head.StartTS
		} else {
			start = math.Max(head.EndTS, prevEnd)
		}
		offset := start - head.SegmentStartTime
		if !started {
			out.StartupOffset = offset
			started = true
		}
		base := offset

		var marks []offsetMark
		var played []*VideoEvent
		lastPlay := math.Inf(-1)
		for _, ev := range events {
			c := ev.clone()
			play := c.SegmentStartTime + offset
			if play < lastPlay {
				play = lastPlay
			}
			if c.EndTS > play+opts.StallThreshold {
				width := c.EndTS - play + opts.StallRecovery
				out.Stalls = append(out.Stalls, Stall{
					Time:        play,
					Duration:    width,
					SegmentID:   c.SegmentID,
					Quality:     c.Label(),
					ContentType: c.ContentType,
				})
				offset += width
				play += width
				c.StallTime = width
			}
			c.PlayTime = play
			c.PlayTimeEnd = play + c.Duration
			c.Active = true
			lastPlay = play
			marks = append(marks, offsetMark{from: c.SegmentStartTime, offset: play - c.SegmentStartTime})
			played = append(played, c)
			if c.PlayTimeEnd > prevEnd {
				prevEnd = c.PlayTimeEnd
			}
		}
		out.Segments = append(out.Segments, played...)

		if primary == manifest.ContentAudio {
			continue
		}
		for _, a := range s.Playable(manifest.ContentAudio) {
			c := a.clone()
			c.PlayTime = c.SegmentStartTime + offsetAt(marks, c.SegmentStartTime, base)
			c.PlayTimeEnd = c.PlayTime + c.Duration
			c.Active = true
			out.Audio = append(out.Audio, c)
			for _, v := range played {
				if v.PlayTime < c.PlayTimeEnd && c.PlayTime < v.PlayTimeEnd {
					v.AudioEvents = append(v.AudioEvents, c)
				}
			}
		}
	}

	if len(out.Segments) == 0 {
		return out, ErrNoSegments
	}
	out.Buffer = bufferSamples(out.Segments)
	return out, nil
}

// bufferSamples computes buffer occupancy at each download completion:
// downloaded content minus content already played by then.
func bufferSamples(segs []*VideoEvent) []BufferSample {
	byEnd := append([]*VideoEvent(nil), segs...)
	sort.SliceStable(byEnd, func(i, j int) bool { return byEnd[i].EndTS < byEnd[j].EndTS })

	samples := make([]BufferSample, 0, len(byEnd))
	buffered := 0.0
	for _, ev := range byEnd {
		buffered += ev.Duration
		t := ev.EndTS
		played := 0.0
		for _, p := range segs {
			if t > p.PlayTime {
				played += math.Min(t-p.PlayTime, p.Duration)
			}
		}
		samples = append(samples, BufferSample{Time: t, Seconds: math.Max(0, buffered-played)})
	}
	return samples
}
