package video

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// seg builds a normal event positioned at sst on the manifest timeline.
func seg(ct manifest.ContentType, quality string, id int, sst, dur, start, end float64) *VideoEvent {
	return &VideoEvent{
		ContentType:      ct,
		Quality:          quality,
		SegmentID:        id,
		SegmentStartTime: sst,
		Duration:         dur,
		PlayTime:         sst,
		PlayTimeEnd:      sst + dur,
		StartTS:          start,
		EndTS:            end,
		Normal:           true,
	}
}

func validManifest() *manifest.Manifest {
	return &manifest.Manifest{Valid: true, Type: manifest.VideoTypeHLS}
}

func TestVideoEvent_Equal(t *testing.T) {
	a := seg(manifest.ContentVideo, "720p", 3, 6, 2, 1, 2)
	a.Bitrate = 2e6
	a.Range = trace.ByteRange{Begin: 0, End: 99}
	b := *a
	b.ContentType = manifest.ContentAudio
	b.Quality = "other"

	if !a.Equal(&b) {
		t.Errorf("Equal() = false for events differing only in content type and label")
	}
	b.Range = trace.ByteRange{Begin: 100, End: 199}
	if a.Equal(&b) {
		t.Errorf("Equal() = true for events with different byte ranges")
	}
	var nilEvent *VideoEvent
	if nilEvent.Equal(a) || !nilEvent.Equal(nil) {
		t.Errorf("nil Equal semantics wrong")
	}
}

func TestVideoEvent_Rates(t *testing.T) {
	e := seg(manifest.ContentVideo, "720p", 1, 0, 4, 10, 12)
	e.Size = 1_000_000
	if got := e.Throughput(); !approx(got, 4e6) {
		t.Errorf("Throughput() = %v, want 4e6", got)
	}
	if got := e.ObservedBitrate(); !approx(got, 2e6) {
		t.Errorf("ObservedBitrate() = %v, want 2e6", got)
	}
	e.EndTS = e.StartTS
	if got := e.Throughput(); got != 0 {
		t.Errorf("Throughput() with zero download time = %v, want 0", got)
	}
}

func TestParseDuplicatePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DuplicatePolicy
		wantErr bool
	}{
		{"", KeepFirst, false},
		{"first", KeepFirst, false},
		{"LAST", KeepLast, false},
		{" highest ", KeepHighest, false},
		{"random", KeepFirst, true},
	}
	for _, tt := range tests {
		got, err := ParseDuplicatePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuplicatePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseDuplicatePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVideoStream_DuplicatePolicy(t *testing.T) {
	tests := []struct {
		policy    DuplicatePolicy
		wantStart float64
	}{
		{KeepFirst, 1},
		{KeepLast, 5},
		{KeepHighest, 1},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			s := NewVideoStream(validManifest(), 0, tt.policy)
			first := seg(manifest.ContentVideo, "720p", 7, 14, 2, 1, 2)
			second := seg(manifest.ContentVideo, "720p", 7, 14, 2, 5, 6)
			s.Add(first)
			s.Add(second)

			order := s.SegmentOrder(manifest.ContentVideo)
			if len(order) != 1 {
				t.Fatalf("len(SegmentOrder) = %d, want 1", len(order))
			}
			if order[0].StartTS != tt.wantStart {
				t.Errorf("surviving StartTS = %v, want %v", order[0].StartTS, tt.wantStart)
			}
			if got := len(s.Duplicates()); got != 1 {
				t.Errorf("len(Duplicates()) = %d, want 1", got)
			}
			if got := len(s.Events(manifest.ContentVideo)); got != 2 {
				t.Errorf("len(Events) = %d, want 2 (download order keeps every copy)", got)
			}
		})
	}
}

func TestStreamingVideoData_IdenticalDownloadRecordedOnce(t *testing.T) {
	d := NewStreamingVideoData(KeepFirst)
	s := d.Stream(validManifest(), 0)
	a := seg(manifest.ContentVideo, "720p", 1, 0, 2, 0.2, 0.7)
	a.Bitrate = 2e6
	a.Range = trace.ByteRange{Begin: 0, End: 999}
	b := *a

	if !d.AddEvent(s, a) {
		t.Fatalf("AddEvent(first) = false, want true")
	}
	if d.AddEvent(s, &b) {
		t.Errorf("AddEvent(identical) = true, want false")
	}
	audio := *a
	audio.ContentType = manifest.ContentAudio
	if !d.AddEvent(s, &audio) {
		t.Errorf("AddEvent(same key, other content type) = false, want true")
	}
	d.ScanVideoStreams(DefaultGapThreshold)

	c := d.Counters()
	if c.Total != 2 {
		t.Errorf("Counters().Total = %d, want 2", c.Total)
	}
	if c.Duplicates != 0 {
		t.Errorf("Counters().Duplicates = %d, want 0", c.Duplicates)
	}
	if got := len(s.Events(manifest.ContentVideo)); got != 1 {
		t.Errorf("len(Events(video)) = %d, want 1", got)
	}
	if got := s.Redundant(manifest.ContentVideo); got != 0 {
		t.Errorf("Redundant(video) = %d, want 0", got)
	}

	// A re-download of the same segment at another time is a duplicate.
	again := seg(manifest.ContentVideo, "720p", 1, 0, 2, 3, 3.5)
	again.Bitrate = 2e6
	if !d.AddEvent(s, again) {
		t.Fatalf("AddEvent(re-download) = false, want true")
	}
	d.ScanVideoStreams(DefaultGapThreshold)
	if c := d.Counters(); c.Duplicates != 1 || c.Total != 3 {
		t.Errorf("after re-download Counters() = %+v, want Duplicates 1, Total 3", c)
	}
}

func TestVideoStream_RedundantQualities(t *testing.T) {
	s := NewVideoStream(validManifest(), 0, KeepHighest)
	low := seg(manifest.ContentVideo, "360p", 1, 0, 2, 0, 1)
	low.Bitrate = 800e3
	high := seg(manifest.ContentVideo, "720p", 1, 0, 2, 1, 2)
	high.Bitrate = 2.5e6
	next := seg(manifest.ContentVideo, "720p", 2, 2, 2, 2, 3)
	next.Bitrate = 2.5e6
	for _, e := range []*VideoEvent{low, high, next} {
		s.Add(e)
	}

	if got := s.Redundant(manifest.ContentVideo); got != 1 {
		t.Errorf("Redundant() = %d, want 1", got)
	}
	if got := len(s.Duplicates()); got != 0 {
		t.Errorf("len(Duplicates()) = %d, want 0 (different qualities)", got)
	}
	playable := s.Playable(manifest.ContentVideo)
	if len(playable) != 2 || playable[0] != high {
		t.Errorf("Playable()[0] should be the highest-bitrate copy")
	}

	s2 := NewVideoStream(validManifest(), 0, KeepFirst)
	s2.Add(low)
	s2.Add(high)
	if p := s2.Playable(manifest.ContentVideo); len(p) != 1 || p[0] != low {
		t.Errorf("KeepFirst Playable() should pick the first-downloaded copy")
	}
}

func TestCountGaps(t *testing.T) {
	contiguous := func(ids ...int) []*VideoEvent {
		var out []*VideoEvent
		for _, id := range ids {
			out = append(out, seg(manifest.ContentVideo, "720p", id, float64(id)*2, 2, 0, 0))
		}
		return out
	}

	tests := []struct {
		name   string
		events []*VideoEvent
		want   int
	}{
		{"empty", nil, 0},
		{"contiguous", contiguous(1, 2, 3, 4, 5), 0},
		{"one missing", contiguous(1, 2, 4, 5), 1},
		{"two adjacent missing", contiguous(1, 4, 5), 1},
		{"two separate holes", contiguous(1, 3, 5), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountGaps(tt.events, DefaultGapThreshold); got != tt.want {
				t.Errorf("CountGaps() = %d, want %d", got, tt.want)
			}
		})
	}

	jitter := contiguous(1, 2)
	jitter[1].PlayTime += 0.005
	if got := CountGaps(jitter, DefaultGapThreshold); got != 0 {
		t.Errorf("CountGaps() with 5ms jitter = %d, want 0", got)
	}
}

func TestScanVideoStreams_Counters(t *testing.T) {
	d := NewStreamingVideoData(KeepFirst)
	s := d.Stream(validManifest(), 1)

	initSeg := seg(manifest.ContentVideo, "720p", 0, 0, 0, 1, 1.1)
	initSeg.Normal = false
	d.AddEvent(s, initSeg)
	d.AddEvent(s, seg(manifest.ContentVideo, "720p", 1, 0, 2, 1.2, 1.5))
	d.AddEvent(s, seg(manifest.ContentVideo, "720p", 2, 2, 2, 1.6, 2.0))
	d.AddEvent(s, seg(manifest.ContentVideo, "720p", 2, 2, 2, 2.1, 2.4))
	d.AddEvent(s, seg(manifest.ContentVideo, "720p", 4, 6, 2, 2.5, 3.0))

	bad := d.Stream(&manifest.Manifest{Valid: false}, 2)
	d.AddEvent(bad, seg(manifest.ContentVideo, "720p", 1, 0, 2, 3, 4))
	d.AddEvent(bad, seg(manifest.ContentVideo, "720p", 2, 2, 2, 4, 5))

	d.AddFailed(FailedRequest{Reason: ReasonUnmatched, SegmentID: manifest.UnmatchedID})

	if d.Validated() {
		t.Fatalf("Validated() = true before scan")
	}
	d.ScanVideoStreams(0)

	got := d.Counters()
	want := Counters{Total: 7, Valid: 3, Invalid: 3, Duplicates: 1, Missing: 1, Failed: 1, SelectedManifests: 1}
	if got != want {
		t.Errorf("Counters() = %+v, want %+v", got, want)
	}
	if g := s.Gaps(manifest.ContentVideo); g != 1 {
		t.Errorf("Gaps() = %d, want 1", g)
	}
	if s.State != StateValidated {
		t.Errorf("State = %v, want validated", s.State)
	}

	// Idempotent.
	d.ScanVideoStreams(0)
	if again := d.Counters(); again != want {
		t.Errorf("second scan Counters() = %+v, want %+v", again, want)
	}
}

func TestScanVideoStreams_ReclassifiesMuxed(t *testing.T) {
	d := NewStreamingVideoData(KeepFirst)
	s := d.Stream(validManifest(), 0)
	d.AddEvent(s, seg(manifest.ContentMuxed, "720p", 1, 0, 2, 0, 1))
	d.AddEvent(s, seg(manifest.ContentAudio, "en", 1, 0, 2, 0, 0.5))
	d.AddEvent(s, seg(manifest.ContentMuxed, "720p", 2, 2, 2, 1, 2))
	d.ScanVideoStreams(DefaultGapThreshold)

	if s.Has(manifest.ContentMuxed) {
		t.Errorf("muxed events remain after scan with a separate audio track")
	}
	video := s.Events(manifest.ContentVideo)
	if len(video) != 2 {
		t.Fatalf("len(video events) = %d, want 2", len(video))
	}
	for _, e := range video {
		if e.ContentType != manifest.ContentVideo {
			t.Errorf("event content type = %v, want video", e.ContentType)
		}
	}
	if got := len(s.SegmentOrder(manifest.ContentVideo)); got != 2 {
		t.Errorf("len(SegmentOrder(video)) = %d, want 2", got)
	}
}

func TestStreamingVideoData_StreamKeys(t *testing.T) {
	d := NewStreamingVideoData(KeepFirst)
	m1, m2, m3 := validManifest(), validManifest(), validManifest()
	late := d.Stream(m1, 5)
	early := d.Stream(m2, 1)
	twin := d.Stream(m3, 5)

	if d.Stream(m1, 5) != late {
		t.Errorf("Stream() did not return the existing stream")
	}
	if twin == late {
		t.Errorf("lineages with the same request time share a stream")
	}
	streams := d.Streams()
	if len(streams) != 3 || streams[0] != early || streams[1] != late || streams[2] != twin {
		t.Errorf("Streams() not ordered by request time")
	}
}

func TestStreamingVideoData_StreamKeysEpochTimestamps(t *testing.T) {
	const ts = 1.7e9
	d := NewStreamingVideoData(KeepFirst)
	m1, m2, m3 := validManifest(), validManifest(), validManifest()

	done := make(chan []*VideoStream, 1)
	go func() {
		done <- []*VideoStream{d.Stream(m1, ts), d.Stream(m2, ts), d.Stream(m3, ts), d.Stream(m2, ts)}
	}()

	var got []*VideoStream
	select {
	case got = <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Stream() did not return for lineages sharing request time %g", ts)
	}
	if got[0] == got[1] || got[1] == got[2] || got[0] == got[2] {
		t.Errorf("lineages with the same request time share a stream")
	}
	if got[3] != got[1] {
		t.Errorf("Stream() did not return the existing stream")
	}
	streams := d.Streams()
	if len(streams) != 3 || streams[0] != got[0] || streams[1] != got[1] || streams[2] != got[2] {
		t.Errorf("Streams() not ordered by creation for equal request times")
	}
	for i := 1; i < len(streams); i++ {
		if streams[i].RequestTime <= streams[i-1].RequestTime {
			t.Errorf("streams[%d].RequestTime = %v, want > %v", i, streams[i].RequestTime, streams[i-1].RequestTime)
		}
	}
}

func TestStreamingVideoData_NoteManifest(t *testing.T) {
	d := NewStreamingVideoData(KeepFirst)
	truncated := &manifest.Manifest{Valid: false, Type: manifest.VideoTypeDASH}
	s := d.Stream(truncated, 0)
	d.AddEvent(s, seg(manifest.ContentVideo, "720p", 1, 0, 2, 0.2, 0.6))
	d.ScanVideoStreams(DefaultGapThreshold)
	if c := d.Counters(); c.Valid != 0 || c.Invalid != 1 {
		t.Fatalf("before refetch Counters() = %+v, want 0 valid and 1 invalid", c)
	}

	if d.NoteManifest(s, truncated) {
		t.Errorf("NoteManifest(invalid) = true, want false")
	}
	if !d.NoteManifest(s, validManifest()) {
		t.Errorf("NoteManifest(valid) = false, want true")
	}
	if d.NoteManifest(s, validManifest()) {
		t.Errorf("NoteManifest() on a valid stream = true, want false")
	}
	if d.Validated() {
		t.Errorf("Validated() = true after revalidation, want false")
	}
	d.ScanVideoStreams(DefaultGapThreshold)
	if c := d.Counters(); c.Valid != 1 || c.Invalid != 0 {
		t.Errorf("after refetch Counters() = %+v, want 1 valid and 0 invalid", c)
	}
}

func TestStreamingVideoData_ConcurrentSnapshot(t *testing.T) {
	d := NewStreamingVideoData(KeepFirst)
	s := d.Stream(validManifest(), 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			d.AddEvent(s, seg(manifest.ContentVideo, "720p", i, float64(i)*2, 2, float64(i), float64(i)+0.5))
		}
	}()
	for i := 0; i < 50; i++ {
		snap := d.Snapshot()
		if snap.Events > 200 {
			t.Errorf("Snapshot().Events = %d, want <= 200", snap.Events)
		}
	}
	wg.Wait()

	snap := d.Snapshot()
	if snap.Events != 200 || snap.ByType[manifest.ContentVideo] != 200 {
		t.Errorf("Snapshot() = %+v, want 200 video events", snap)
	}
	if snap.LastTS != 200.5 {
		t.Errorf("Snapshot().LastTS = %v, want 200.5", snap.LastTS)
	}
}

func compiled(t *testing.T, opts CompileOptions, events ...*VideoEvent) *StreamingVideoCompiled {
	t.Helper()
	d := NewStreamingVideoData(KeepFirst)
	s := d.Stream(validManifest(), 0)
	for _, e := range events {
		d.AddEvent(s, e)
	}
	d.ScanVideoStreams(DefaultGapThreshold)
	c, err := d.Compile(opts)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return c
}

func TestCompile_NoStall(t *testing.T) {
	c := compiled(t, CompileOptions{},
		seg(manifest.ContentVideo, "720p", 1, 0, 2, 0, 0.4),
		seg(manifest.ContentVideo, "720p", 2, 2, 2, 0.5, 0.9),
		seg(manifest.ContentVideo, "720p", 3, 4, 2, 1.0, 1.4),
	)
	if !approx(c.StartupDelay, 0.4) {
		t.Errorf("StartupDelay = %v, want 0.4", c.StartupDelay)
	}
	want := []float64{0.4, 2.4, 4.4}
	for i, s := range c.Segments {
		if !approx(s.PlayTime, want[i]) {
			t.Errorf("Segments[%d].PlayTime = %v, want %v", i, s.PlayTime, want[i])
		}
		if !s.Active {
			t.Errorf("Segments[%d].Active = false", i)
		}
	}
	if len(c.Stalls) != 0 {
		t.Errorf("len(Stalls) = %d, want 0", len(c.Stalls))
	}
	if !approx(c.PlayDuration(), 6) {
		t.Errorf("PlayDuration() = %v, want 6", c.PlayDuration())
	}
	if len(c.Buffer) != 3 {
		t.Errorf("len(Buffer) = %d, want 3", len(c.Buffer))
	}
}

func TestCompile_Stall(t *testing.T) {
	c := compiled(t, CompileOptions{StallRecovery: 0.5},
		seg(manifest.ContentVideo, "720p", 1, 0, 2, 0, 0.4),
		seg(manifest.ContentVideo, "720p", 2, 2, 2, 0.5, 0.9),
		seg(manifest.ContentVideo, "720p", 3, 4, 2, 1.0, 10),
		seg(manifest.ContentVideo, "720p", 4, 6, 2, 10.1, 10.3),
	)
	if len(c.Stalls) != 1 {
		t.Fatalf("len(Stalls) = %d, want 1", len(c.Stalls))
	}
	st := c.Stalls[0]
	if st.SegmentID != 3 || !approx(st.Time, 4.4) || !approx(st.Duration, 6.1) {
		t.Errorf("Stall = %+v, want segment 3 at 4.4 lasting 6.1", st)
	}
	want := []float64{0.4, 2.4, 10.5, 12.5}
	for i, s := range c.Segments {
		if !approx(s.PlayTime, want[i]) {
			t.Errorf("Segments[%d].PlayTime = %v, want %v", i, s.PlayTime, want[i])
		}
		if i > 0 && s.PlayTime < c.Segments[i-1].PlayTime {
			t.Errorf("play time decreases at segment %d", i)
		}
	}
	if !approx(c.Segments[2].StallTime, 6.1) {
		t.Errorf("Segments[2].StallTime = %v, want 6.1", c.Segments[2].StallTime)
	}
	if !approx(c.TotalStall(), 6.1) {
		t.Errorf("TotalStall() = %v, want 6.1", c.TotalStall())
	}
	for _, b := range c.Buffer {
		if b.Seconds < 0 {
			t.Errorf("negative buffer sample %+v", b)
		}
	}
}

func TestCompile_StartupDelayOption(t *testing.T) {
	c := compiled(t, CompileOptions{StartupDelay: 3},
		seg(manifest.ContentVideo, "720p", 1, 10, 2, 1, 1.4),
		seg(manifest.ContentVideo, "720p", 2, 12, 2, 1.5, 1.9),
	)
	if !approx(c.StartupDelay, 3) {
		t.Errorf("StartupDelay = %v, want 3", c.StartupDelay)
	}
	if !approx(c.StartupOffset, -6) {
		t.Errorf("StartupOffset = %v, want -6", c.StartupOffset)
	}
	if !approx(c.Segments[0].PlayTime, 4) || !approx(c.Segments[1].PlayTime, 6) {
		t.Errorf("play times = %v, %v; want 4, 6", c.Segments[0].PlayTime, c.Segments[1].PlayTime)
	}
}

func TestCompile_AudioAssociation(t *testing.T) {
	c := compiled(t, CompileOptions{},
		seg(manifest.ContentVideo, "720p", 1, 0, 2, 0, 0.4),
		seg(manifest.ContentAudio, "en", 1, 0, 2, 0, 0.2),
		seg(manifest.ContentVideo, "720p", 2, 2, 2, 0.5, 0.9),
		seg(manifest.ContentAudio, "en", 2, 2, 2, 0.5, 0.6),
	)
	if len(c.Audio) != 2 {
		t.Fatalf("len(Audio) = %d, want 2", len(c.Audio))
	}
	for i, v := range c.Segments {
		if len(v.AudioEvents) != 1 {
			t.Fatalf("Segments[%d] has %d audio events, want 1", i, len(v.AudioEvents))
		}
		if v.AudioEvents[0].SegmentID != v.SegmentID {
			t.Errorf("Segments[%d] associated with audio %d", i, v.AudioEvents[0].SegmentID)
		}
		if !approx(v.AudioEvents[0].PlayTime, v.PlayTime) {
			t.Errorf("audio play time %v, want %v", v.AudioEvents[0].PlayTime, v.PlayTime)
		}
	}
}

func TestCompile_Errors(t *testing.T) {
	d := NewStreamingVideoData(KeepFirst)
	if _, err := d.Compile(CompileOptions{}); !errors.Is(err, ErrNotValidated) {
		t.Errorf("Compile() before scan error = %v, want ErrNotValidated", err)
	}
	d.ScanVideoStreams(0)
	if _, err := d.Compile(CompileOptions{}); !errors.Is(err, ErrNoSegments) {
		t.Errorf("Compile() on empty data error = %v, want ErrNoSegments", err)
	}
}

func TestCompile_SecondStreamStartsAfterFirst(t *testing.T) {
	d := NewStreamingVideoData(KeepFirst)
	a := d.Stream(validManifest(), 0)
	d.AddEvent(a, seg(manifest.ContentVideo, "720p", 1, 0, 2, 0, 0.5))
	d.AddEvent(a, seg(manifest.ContentVideo, "720p", 2, 2, 2, 0.6, 1.0))
	b := d.Stream(validManifest(), 1.1)
	d.AddEvent(b, seg(manifest.ContentVideo, "1080p", 1, 0, 4, 1.2, 1.5))
	d.ScanVideoStreams(0)

	c, err := d.Compile(CompileOptions{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if c.Streams != 2 || len(c.Segments) != 3 {
		t.Fatalf("Compile() = %d streams, %d segments; want 2, 3", c.Streams, len(c.Segments))
	}
	if !approx(c.Segments[2].PlayTime, 4.5) {
		t.Errorf("second stream starts at %v, want 4.5", c.Segments[2].PlayTime)
	}
}
