package manifest

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// Model defaults applied when a manifest does not yield usable timing.
const (
	DefaultDuration  = 2.0 // segment duration, in time-scale ticks
	DefaultTimeScale = 1.0 // ticks per second
)

// Manifest is one fetched manifest document.
//
// Duration is the nominal segment duration expressed in TimeScale ticks, so
// the segment length in seconds is Duration / TimeScale. Both are positive
// once ResolveDefaults has run.
type Manifest struct {
	ID          string
	Type        VideoType
	Role        Role
	Duration    float64
	TimeScale   float64
	ContentType ContentType

	// PresentationDuration is the total declared length in seconds
	// (mediaPresentationDuration, sum of EXTINF, smooth Duration).
	PresentationDuration float64
	ProgramDateTime      time.Time
	Live                 bool
	Encryption           string

	Raw         []byte
	URI         string
	RequestTime float64
	Exchange    *trace.Exchange

	// Master is a lookup-only back reference; the master does not own
	// playlists fetched separately.
	Master *Manifest

	Children []*ChildManifest
	Dialect  Dialect

	// Valid is false when the document could not be read as its dialect.
	Valid bool
}

// New returns an empty valid manifest for the exchange that fetched raw.
func New(t VideoType, raw []byte, ex *trace.Exchange) *Manifest {
	m := &Manifest{
		ID:    uuid.NewString(),
		Type:  t,
		Raw:   raw,
		Valid: true,
	}
	if ex != nil {
		m.Exchange = ex
		m.URI = ex.URL()
		m.RequestTime = ex.RequestTime
	}
	return m
}

// ResolveDefaults replaces non-positive timing with the model defaults.
func (m *Manifest) ResolveDefaults() {
	if !(m.Duration > 0) {
		m.Duration = DefaultDuration
	}
	if !(m.TimeScale > 0) {
		m.TimeScale = DefaultTimeScale
	}
}

// SegmentSeconds returns the nominal segment duration in seconds.
func (m *Manifest) SegmentSeconds() float64 {
	if m.Duration <= 0 || m.TimeScale <= 0 {
		return DefaultDuration / DefaultTimeScale
	}
	return m.Duration / m.TimeScale
}

// AddChild appends a track and makes m its owner.
func (m *Manifest) AddChild(c *ChildManifest) {
	c.Manifest = m
	c.Index = len(m.Children)
	m.Children = append(m.Children, c)
}

// Child returns the track with the given URI or name.
func (m *Manifest) Child(key string) *ChildManifest {
	for _, c := range m.Children {
		if c.URI == key || c.Name == key {
			return c
		}
	}
	return nil
}

// BitrateLadder returns the distinct declared bandwidths of the video
// tracks in ascending order. Audio-only manifests return audio bandwidths.
func (m *Manifest) BitrateLadder() []float64 {
	pick := func(want func(ContentType) bool) []float64 {
		seen := make(map[float64]bool)
		var out []float64
		for _, c := range m.Children {
			if c.Bandwidth <= 0 || !want(c.ContentType) || seen[c.Bandwidth] {
				continue
			}
			seen[c.Bandwidth] = true
			out = append(out, c.Bandwidth)
		}
		sort.Float64s(out)
		return out
	}
	if ladder := pick(func(ct ContentType) bool { return ct.CarriesVideo() || ct == ContentUnknown }); len(ladder) > 0 {
		return ladder
	}
	return pick(func(ct ContentType) bool { return ct == ContentAudio })
}

// SegmentCount returns the number of indexed segments over all tracks.
func (m *Manifest) SegmentCount() int {
	n := 0
	for _, c := range m.Children {
		n += c.Len()
	}
	return n
}

// FragmentedMP4 reports whether the manifest's media is ISO-BMFF, where
// segment id 0 is the initialization segment.
func (m *Manifest) FragmentedMP4() bool {
	switch m.Type {
	case VideoTypeDASH, VideoTypeDASHSegmentList, VideoTypeDASHPlayReady, VideoTypeSmooth:
		return true
	case VideoTypeHLS:
		if h, ok := m.Dialect.(*HLS); ok {
			return h.MapURI != ""
		}
	}
	return false
}
