package manifest

import (
	"math"
	"testing"

	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

func TestResolveDefaults(t *testing.T) {
	tests := []struct {
		name          string
		duration      float64
		timeScale     float64
		wantDuration  float64
		wantTimeScale float64
	}{
		{"unset", 0, 0, 2, 1},
		{"negative", -4, -1, 2, 1},
		{"nan", math.NaN(), math.NaN(), 2, 1},
		{"kept", 90000, 45000, 90000, 45000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Duration: tt.duration, TimeScale: tt.timeScale}
			m.ResolveDefaults()
			if m.Duration != tt.wantDuration {
				t.Errorf("Duration = %v, want %v", m.Duration, tt.wantDuration)
			}
			if m.TimeScale != tt.wantTimeScale {
				t.Errorf("TimeScale = %v, want %v", m.TimeScale, tt.wantTimeScale)
			}
		})
	}
}

func TestSegmentSeconds(t *testing.T) {
	m := &Manifest{Duration: 180000, TimeScale: 90000}
	if got := m.SegmentSeconds(); got != 2 {
		t.Errorf("SegmentSeconds() = %v, want 2", got)
	}
	if got := (&Manifest{}).SegmentSeconds(); got != 2 {
		t.Errorf("SegmentSeconds() unresolved = %v, want 2", got)
	}
}

func TestChildAddSegment_Idempotent(t *testing.T) {
	c := NewChild("720p", ContentVideo)
	c.SegmentDuration = 4

	first, added := c.AddSegment("seg0.ts", &SegmentInfo{ID: 0, URI: "seg0.ts"})
	if !added {
		t.Fatal("first insert should add")
	}
	if _, added := c.AddSegment("seg1.ts", &SegmentInfo{ID: 1, URI: "seg1.ts"}); !added {
		t.Fatal("second insert should add")
	}
	acc := c.SegmentStartTime()

	again, added := c.AddSegment("seg0.ts", &SegmentInfo{ID: 7, URI: "seg0.ts", Duration: 10})
	if added {
		t.Error("re-insert should not add")
	}
	if again != first {
		t.Error("re-insert should return the original entry")
	}
	if c.SegmentStartTime() != acc {
		t.Errorf("accumulator = %v after re-insert, want %v", c.SegmentStartTime(), acc)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestChildAddSegment_KeepsDeclaredIDs(t *testing.T) {
	c := NewChild("v", ContentVideo)
	ids := []int{7, 3, 3, 9}
	var segs []*SegmentInfo
	for i, id := range ids {
		s, added := c.AddSegment(string(rune('a'+i)), &SegmentInfo{ID: id, Duration: 2})
		if !added {
			t.Fatalf("AddSegment(%d) added = false, want true", i)
		}
		segs = append(segs, s)
	}
	for i, s := range segs {
		if s.ID != ids[i] {
			t.Errorf("segment %d ID = %d, want declared %d", i, s.ID, ids[i])
		}
		if s.Seq != i+1 {
			t.Errorf("segment %d Seq = %d, want %d", i, s.Seq, i+1)
		}
	}
}

func TestChildAddSegment_StartTimes(t *testing.T) {
	c := NewChild("v", ContentVideo)
	c.Bandwidth = 800000

	a, _ := c.AddSegment("a", &SegmentInfo{ID: 1, Duration: 2})
	b, _ := c.AddSegment("b", &SegmentInfo{ID: 2, Duration: 3})
	x, _ := c.AddSegment("x", &SegmentInfo{ID: 3, Duration: 2, StartTime: 10, Explicit: true})
	d, _ := c.AddSegment("d", &SegmentInfo{ID: 4, Duration: 2})

	want := []float64{0, 2, 10, 12}
	for i, s := range []*SegmentInfo{a, b, x, d} {
		if s.StartTime != want[i] {
			t.Errorf("segment %d StartTime = %v, want %v", i, s.StartTime, want[i])
		}
		if s.Seq != i+1 {
			t.Errorf("segment %d Seq = %d, want %d", i, s.Seq, i+1)
		}
		if s.Bitrate != 800000 {
			t.Errorf("segment %d Bitrate = %v, want inherited 800000", i, s.Bitrate)
		}
	}
	if c.LastID() != 4 {
		t.Errorf("LastID() = %d, want 4", c.LastID())
	}
}

func TestChildAddSegment_Init(t *testing.T) {
	c := NewChild("v", ContentVideo)
	initSeg, _ := c.AddSegment("init.mp4", &SegmentInfo{ID: 5, Init: true, Duration: 2})
	if initSeg.ID != 0 {
		t.Errorf("init ID = %d, want 0", initSeg.ID)
	}
	if c.InitSegment != initSeg {
		t.Error("InitSegment not set")
	}
	if c.SegmentStartTime() != 0 {
		t.Errorf("init advanced accumulator to %v", c.SegmentStartTime())
	}
	if c.LastID() != -1 {
		t.Errorf("LastID() = %d, want -1 with only an init segment", c.LastID())
	}
}

func TestChildSegmentByRange(t *testing.T) {
	c := NewChild("v", ContentVideo)
	r1 := trace.ByteRange{Begin: 0, End: 99}
	r2 := trace.ByteRange{Begin: 100, End: 199}
	c.AddSegment(SegmentKey("v.mp4", r1), &SegmentInfo{ID: 1, Range: r1, Duration: 2})
	c.AddSegment(SegmentKey("v.mp4", r2), &SegmentInfo{ID: 2, Range: r2, Duration: 2})

	got, ok := c.SegmentByRange(r2)
	if !ok || got.ID != 2 {
		t.Errorf("SegmentByRange(100-199) = %v, %v; want id 2", got, ok)
	}
	if _, ok := c.SegmentByRange(trace.ByteRange{Begin: 200, End: 299}); ok {
		t.Error("SegmentByRange(200-299) should miss")
	}
	if _, ok := c.SegmentByRange(trace.ByteRange{Begin: 100, End: 150}); ok {
		t.Error("partial range should miss")
	}
}

func TestBackfill(t *testing.T) {
	s := &SegmentInfo{Duration: 2}
	s.Backfill(250000)
	if s.Size != 250000 {
		t.Errorf("Size = %d, want 250000", s.Size)
	}
	if s.Bitrate != 1000000 {
		t.Errorf("Bitrate = %v, want 1000000", s.Bitrate)
	}
	s.Backfill(1)
	if s.Size != 250000 {
		t.Errorf("Size changed on second backfill: %d", s.Size)
	}

	declared := &SegmentInfo{Duration: 2, Bitrate: 500000}
	declared.Backfill(1000)
	if declared.Bitrate != 500000 {
		t.Errorf("declared Bitrate overwritten: %v", declared.Bitrate)
	}
}

func TestBitrateLadder(t *testing.T) {
	m := New(VideoTypeHLS, nil, nil)
	for _, bw := range []float64{3000000, 800000, 1500000, 800000} {
		c := NewChild("", ContentVideo)
		c.Bandwidth = bw
		m.AddChild(c)
	}
	audio := NewChild("aac", ContentAudio)
	audio.Bandwidth = 128000
	m.AddChild(audio)

	got := m.BitrateLadder()
	want := []float64{800000, 1500000, 3000000}
	if len(got) != len(want) {
		t.Fatalf("BitrateLadder() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BitrateLadder()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if m.Children[4].Manifest != m || m.Children[4].Index != 4 {
		t.Error("AddChild did not set owner and index")
	}
}

func TestParseHelpers(t *testing.T) {
	floatTests := []struct {
		in   string
		want float64
	}{
		{"2.5", 2.5},
		{" 10 ", 10},
		{"", 0},
		{"abc", 0},
		{"NaN", 0},
		{"Inf", 0},
	}
	for _, tt := range floatTests {
		if got := ParseFloat(tt.in); got != tt.want {
			t.Errorf("ParseFloat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	intTests := []struct {
		in   string
		want int64
	}{
		{"42", 42},
		{"4.9", 4},
		{"", 0},
		{"x1", 0},
	}
	for _, tt := range intTests {
		if got := ParseInt(tt.in); got != tt.want {
			t.Errorf("ParseInt(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"PT2S", 2},
		{"PT1M30.5S", 90.5},
		{"PT1H", 3600},
		{"P1DT1S", 86401},
		{"PT0S", 0},
		{"", 0},
		{"2 seconds", 0},
		{"-PT5S", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseISODuration(tt.in); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ParseISODuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTrailingNumber(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"seg_00042.ts", 42, true},
		{"720p_00012.m4s", 12, true},
		{"fileSequence7.ts", 7, true},
		{"index.ts", 0, false},
	}
	for _, tt := range tests {
		got, ok := TrailingNumber(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("TrailingNumber(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestContentTypeHelpers(t *testing.T) {
	if got := ParseContentType("video/mp4"); got != ContentVideo {
		t.Errorf("ParseContentType(video/mp4) = %v", got)
	}
	if got := ParseContentType("SUBTITLES"); got != ContentSubtitle {
		t.Errorf("ParseContentType(SUBTITLES) = %v", got)
	}
	if got := ContentTypeFromCodecs("avc1.4d401f,mp4a.40.2"); got != ContentMuxed {
		t.Errorf("ContentTypeFromCodecs(avc+aac) = %v, want muxed", got)
	}
	if got := ContentTypeFromCodecs("mp4a.40.2"); got != ContentAudio {
		t.Errorf("ContentTypeFromCodecs(aac) = %v, want audio", got)
	}
	if !ContentMuxed.CarriesVideo() || ContentAudio.CarriesVideo() {
		t.Error("CarriesVideo mismatch")
	}
}
