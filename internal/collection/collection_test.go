package collection

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/parser"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

func newRegistry() *parser.Registry {
	return parser.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// mediaPlaylist renders an HLS media playlist listing seg<first>..seg<last>.
func mediaPlaylist(first, last int, extinf float64, ended bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:4\n")
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", first)
	for i := first; i <= last; i++ {
		fmt.Fprintf(&b, "#EXTINF:%.1f,\nseg%d.ts\n", extinf, i)
	}
	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

func fetch(t *testing.T, reg *parser.Registry, set *Set, url, body string, ts float64) *ManifestCollection {
	t.Helper()
	ex := &trace.Exchange{ObjectName: url, StatusCode: 200, RequestTime: ts, ResponseTime: ts + 0.1}
	m, p := reg.Parse([]byte(body), ex, set.MasterFor(url))
	if p == nil {
		t.Fatalf("Parse(%s) returned no parser", url)
	}
	c, _ := set.Add(m)
	return c
}

func TestAddSegment_Idempotent(t *testing.T) {
	mc := New()
	child := manifest.NewChild("v1", manifest.ContentVideo)
	m := &manifest.Manifest{URI: "http://a.com/v.m3u8", Role: manifest.RoleChild}
	m.AddChild(child)
	mc.AddManifest(m)

	first := mc.AddSegment(child, "http://a.com/s1.ts", &manifest.SegmentInfo{ID: 1, URI: "http://a.com/s1.ts", Duration: 4})
	acc := child.SegmentStartTime()

	again := mc.AddSegment(child, "http://a.com/s1.ts", &manifest.SegmentInfo{ID: 1, URI: "http://a.com/s1.ts", Duration: 4})
	if again != first {
		t.Errorf("AddSegment returned a new entry for an indexed key")
	}
	if got := child.SegmentStartTime(); got != acc {
		t.Errorf("SegmentStartTime() = %v after re-insert, want %v", got, acc)
	}
	if got := mc.SegmentCount(); got != 1 {
		t.Errorf("SegmentCount() = %d, want 1", got)
	}
}

func TestAddManifest_RefetchOverlap(t *testing.T) {
	reg := newRegistry()
	set := NewSet()
	const url = "http://cdn.example.com/live/index.m3u8"

	c1 := fetch(t, reg, set, url, mediaPlaylist(0, 1, 2, false), 1)
	c2 := fetch(t, reg, set, url, mediaPlaylist(0, 2, 2, true), 5)
	if c1 != c2 {
		t.Fatalf("re-fetch created a new lineage")
	}
	if set.Len() != 1 {
		t.Fatalf("Set.Len() = %d, want 1", set.Len())
	}
	if got := c1.SegmentCount(); got != 3 {
		t.Fatalf("SegmentCount() = %d, want 3", got)
	}

	children := c1.Children()
	if len(children) != 1 {
		t.Fatalf("len(Children()) = %d, want 1", len(children))
	}
	segs := c1.Segments(children[0])
	wantStarts := []float64{0, 2, 4}
	lastSeq := 0
	for i, s := range segs {
		if s.ID != i {
			t.Errorf("segs[%d].ID = %d, want %d", i, s.ID, i)
		}
		if s.StartTime != wantStarts[i] {
			t.Errorf("segs[%d].StartTime = %v, want %v", i, s.StartTime, wantStarts[i])
		}
		if s.Seq <= lastSeq {
			t.Errorf("segs[%d].Seq = %d, not increasing", i, s.Seq)
		}
		lastSeq = s.Seq
	}
}

func TestAddManifest_SlidingWindow(t *testing.T) {
	reg := newRegistry()
	set := NewSet()
	const url = "http://cdn.example.com/live/index.m3u8"

	c := fetch(t, reg, set, url, mediaPlaylist(10, 11, 4, false), 1)
	fetch(t, reg, set, url, mediaPlaylist(11, 12, 4, false), 9)

	segs := c.Segments(c.Children()[0])
	if len(segs) != 3 {
		t.Fatalf("len(segs) = %d, want 3", len(segs))
	}
	for i, want := range []struct {
		id    int
		start float64
	}{{10, 0}, {11, 4}, {12, 8}} {
		if segs[i].ID != want.id || segs[i].StartTime != want.start {
			t.Errorf("segs[%d] = (id %d, start %v), want (id %d, start %v)",
				i, segs[i].ID, segs[i].StartTime, want.id, want.start)
		}
	}
}

func TestSet_MasterAndMediaShareLineage(t *testing.T) {
	reg := newRegistry()
	set := NewSet()
	master := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\nlow/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720\nhigh/index.m3u8\n"

	c := fetch(t, reg, set, "http://cdn.example.com/vod/master.m3u8", master, 0)
	cLow := fetch(t, reg, set, "http://cdn.example.com/vod/low/index.m3u8", mediaPlaylist(0, 2, 4, true), 1)
	cHigh := fetch(t, reg, set, "http://cdn.example.com/vod/high/index.m3u8", mediaPlaylist(0, 2, 4, true), 12)

	if cLow != c || cHigh != c {
		t.Fatalf("media playlists did not join the master's lineage")
	}
	if got := len(c.Children()); got != 2 {
		t.Errorf("len(Children()) = %d, want 2", got)
	}
	if got := c.SegmentCount(); got != 6 {
		t.Errorf("SegmentCount() = %d, want 6", got)
	}

	bws := c.Bandwidths()
	if len(bws) != 2 || bws[0] != 800000 || bws[1] != 2000000 {
		t.Errorf("Bandwidths() = %v, want [800000 2000000]", bws)
	}
	high := c.ChildByBandwidth(2000000)
	if high == nil || high.Height != 720 {
		t.Fatalf("ChildByBandwidth(2000000) = %v, want the 720p track", high)
	}
	if c.ChildByBandwidth(1) != nil {
		t.Errorf("ChildByBandwidth(1) should be nil")
	}

	e, ok := c.Lookup("http://cdn.example.com/vod/high/seg1.ts")
	if !ok || e.Child != high || e.Segment.ID != 1 {
		t.Errorf("Lookup(high/seg1.ts) = %+v, %v; want high track id 1", e, ok)
	}
	if e.Segment.Bitrate != 2000000 {
		t.Errorf("segment Bitrate = %v, want inherited 2000000", e.Segment.Bitrate)
	}

	tests := []struct {
		ts   float64
		want string
	}{
		{0.5, ""},
		{1, "http://cdn.example.com/vod/low/index.m3u8"},
		{11.9, "http://cdn.example.com/vod/low/index.m3u8"},
		{30, "http://cdn.example.com/vod/high/index.m3u8"},
	}
	for _, tt := range tests {
		got := c.ChildAt(tt.ts)
		name := ""
		if got != nil {
			name = got.URI
		}
		if name != tt.want {
			t.Errorf("ChildAt(%v) = %q, want %q", tt.ts, name, tt.want)
		}
	}

	if m := c.ManifestFor(high); m == nil || m.Role != manifest.RoleChild {
		t.Errorf("ManifestFor(high) should be the media playlist")
	}
	if m := c.ManifestAt(0.5); m != c.Master {
		t.Errorf("ManifestAt(0.5) should be the master")
	}
}

func TestLookup_Fallbacks(t *testing.T) {
	mc := New()
	m := &manifest.Manifest{URI: "https://cdn.example.com/vod/movie.mpd", Role: manifest.RoleMaster}
	a := manifest.NewChild("a", manifest.ContentVideo)
	b := manifest.NewChild("b", manifest.ContentVideo)
	m.AddChild(a)
	m.AddChild(b)
	a.AddSegment("https://cdn.example.com/vod/a/seg-1.m4s", &manifest.SegmentInfo{ID: 1, URI: "https://cdn.example.com/vod/a/seg-1.m4s"})
	a.AddSegment("https://cdn.example.com/vod/a/only-a.m4s", &manifest.SegmentInfo{ID: 2, URI: "https://cdn.example.com/vod/a/only-a.m4s"})
	b.AddSegment("https://cdn.example.com/vod/b/seg-1.m4s", &manifest.SegmentInfo{ID: 1, URI: "https://cdn.example.com/vod/b/seg-1.m4s"})
	mc.AddManifest(m)

	tests := []struct {
		name   string
		uri    string
		child  *manifest.ChildManifest
		wantOK bool
	}{
		{"exact", "https://cdn.example.com/vod/a/seg-1.m4s", a, true},
		{"query string", "https://cdn.example.com/vod/b/seg-1.m4s?tok=9", b, true},
		{"other host", "http://edge7.example.net/vod/b/seg-1.m4s", b, true},
		{"unique file name", "http://edge7.example.net/cache/only-a.m4s", a, true},
		{"ambiguous file name", "http://edge7.example.net/cache/seg-1.m4s", nil, false},
		{"unknown", "https://cdn.example.com/vod/a/seg-9.m4s", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := mc.Lookup(tt.uri)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.uri, ok, tt.wantOK)
			}
			if ok && e.Child != tt.child {
				t.Errorf("Lookup(%q) child = %s, want %s", tt.uri, e.Child.Name, tt.child.Name)
			}
		})
	}
}

func TestLookupRange(t *testing.T) {
	mc := New()
	m := &manifest.Manifest{URI: "http://cdn.example.com/vod/list.mpd", Role: manifest.RoleMaster}
	c := manifest.NewChild("v1", manifest.ContentVideo)
	m.AddChild(c)
	const base = "http://cdn.example.com/vod/video.mp4"
	for i, r := range []trace.ByteRange{{Begin: 0, End: 99}, {Begin: 100, End: 199}} {
		c.AddSegment(manifest.SegmentKey(base, r), &manifest.SegmentInfo{ID: i + 1, URI: base, Range: r, Duration: 2})
	}
	mc.AddManifest(m)

	e, ok := mc.LookupRange(base, trace.ByteRange{Begin: 100, End: 199})
	if !ok || e.Segment == nil || e.Segment.ID != 2 {
		t.Errorf("LookupRange([100-199]) = %+v, %v; want segment 2", e, ok)
	}

	e, ok = mc.LookupRange(base+"?x=1", trace.ByteRange{Begin: 200, End: 299})
	if !ok {
		t.Fatalf("LookupRange([200-299]) ok = false, want the object to be known")
	}
	if e.Segment != nil || e.Child != c {
		t.Errorf("LookupRange([200-299]) = %+v, want unmatched entry on v1", e)
	}

	if _, ok := mc.LookupRange("http://cdn.example.com/vod/other.mp4", trace.ByteRange{Begin: 0, End: 99}); ok {
		t.Errorf("LookupRange on an unknown object should report false")
	}
	if !mc.IsRangeAddressed(base) {
		t.Errorf("IsRangeAddressed(%q) = false, want true", base)
	}
	if _, ok := mc.Lookup(base); ok {
		t.Errorf("range-addressed objects must not match by URI alone")
	}
}
