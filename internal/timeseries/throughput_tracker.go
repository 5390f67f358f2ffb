// Package timeseries tracks rolling download throughput over a captured
// trace.
//
// The tracker keeps cumulative bytes and a ring of once-per-second
// samples and computes averages over the last 1s, 30s, 60s and 300s. Time
// comes from a Clock; during analysis that is a TraceClock advanced by
// download completion timestamps, so the windows are in trace time.
//
// Thread-safe: AddBytes uses an atomic int64, Stats acquires a read lock.
package timeseries

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ringBufferSize is the number of samples to retain (5 minutes at 1 sample/sec)
const ringBufferSize = 300

// Windows are the rolling-average windows reported by Stats, shortest
// first.
var Windows = []time.Duration{
	1 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

// TraceClock is a Clock set from trace timestamps in seconds. It never
// moves backwards.
type TraceClock struct {
	mu   sync.Mutex
	base time.Time
	now  time.Time
}

// NewTraceClock returns a clock at trace time zero.
func NewTraceClock() *TraceClock {
	base := time.Unix(0, 0).UTC()
	return &TraceClock{base: base, now: base}
}

// Now implements Clock.
func (c *TraceClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to trace second ts. Earlier times are ignored.
func (c *TraceClock) Set(ts float64) {
	t := c.base.Add(time.Duration(ts * float64(time.Second)))
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// Seconds returns the clock as trace seconds.
func (c *TraceClock) Seconds() float64 {
	return c.Now().Sub(c.base).Seconds()
}

type sample struct {
	timestamp time.Time
	bytes     int64
}

// ThroughputTracker tracks cumulative bytes downloaded and computes rolling
// averages over Windows.
type ThroughputTracker struct {
	totalBytes atomic.Int64

	samples  []sample
	writeIdx int // next write position once the ring is full
	mu       sync.RWMutex

	startTime time.Time
	clock     Clock
}

// WindowRate is the average rate over one window.
type WindowRate struct {
	Window      time.Duration
	BytesPerSec float64
}

// BitsPerSec returns the rate in bits per second.
func (w WindowRate) BitsPerSec() float64 { return w.BytesPerSec * 8 }

// ThroughputStats contains computed rolling averages at a point in time.
type ThroughputStats struct {
	// TotalBytes is the cumulative bytes downloaded since start
	TotalBytes int64

	// Rates holds one entry per element of Windows, in the same order.
	Rates []WindowRate

	// AvgOverall is the average throughput since tracking started
	AvgOverall float64
}

// Rate returns the average for window w, or 0 if w is not tracked.
func (s ThroughputStats) Rate(w time.Duration) float64 {
	for _, r := range s.Rates {
		if r.Window == w {
			return r.BytesPerSec
		}
	}
	return 0
}

// NewThroughputTracker creates a tracker reading time from clock.
func NewThroughputTracker(clock Clock) *ThroughputTracker {
	now := clock.Now()
	t := &ThroughputTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	t.samples = append(t.samples, sample{timestamp: now, bytes: 0})
	return t
}

// AddBytes adds bytes to the cumulative total.
func (t *ThroughputTracker) AddBytes(n int64) {
	if n > 0 {
		t.totalBytes.Add(n)
	}
}

// RecordSample records the current cumulative bytes at the clock's time.
func (t *ThroughputTracker) RecordSample() {
	now := t.clock.Now()
	currentBytes := t.totalBytes.Load()

	t.mu.Lock()
	defer t.mu.Unlock()

	s := sample{timestamp: now, bytes: currentBytes}
	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
		return
	}
	t.samples[t.writeIdx] = s
	t.writeIdx = (t.writeIdx + 1) % ringBufferSize
}

// Stats computes the current throughput statistics. It always returns
// data, using whatever history is available.
func (t *ThroughputTracker) Stats() ThroughputStats {
	now := t.clock.Now()
	currentBytes := t.totalBytes.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := ThroughputStats{
		TotalBytes: currentBytes,
		Rates:      make([]WindowRate, 0, len(Windows)),
	}
	if elapsed := now.Sub(t.startTime).Seconds(); elapsed > 0 {
		stats.AvgOverall = float64(currentBytes) / elapsed
	}
	for _, w := range Windows {
		stats.Rates = append(stats.Rates, WindowRate{
			Window:      w,
			BytesPerSec: t.avgOverWindow(now, currentBytes, w),
		})
	}
	return stats
}

// avgOverWindow returns bytes/sec since the sample nearest to, but not
// after, now-window. Must be called with mu held.
func (t *ThroughputTracker) avgOverWindow(now time.Time, currentBytes int64, window time.Duration) float64 {
	target := now.Add(-window)

	var best *sample
	var bestDiff time.Duration = -1
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		if diff := target.Sub(s.timestamp); bestDiff < 0 || diff < bestDiff {
			best = s
			bestDiff = diff
		}
	}
	if best == nil {
		best = t.oldestSample()
	}
	if best == nil {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(currentBytes-best.bytes) / elapsed
}

// oldestSample must be called with mu held.
func (t *ThroughputTracker) oldestSample() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// Reset clears all data and restarts tracking at the clock's time.
func (t *ThroughputTracker) Reset() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalBytes.Store(0)
	t.samples = t.samples[:0]
	t.samples = append(t.samples, sample{timestamp: now, bytes: 0})
	t.writeIdx = 0
	t.startTime = now
}

// SampleCount returns the number of samples in the ring buffer.
func (t *ThroughputTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// Replayer feeds completed downloads through a tracker on a TraceClock,
// sampling once per trace second, and records the peak of each window.
type Replayer struct {
	clock   *TraceClock
	tracker *ThroughputTracker

	mu      sync.Mutex
	started bool
	next    float64 // trace second of the next sample
	peaks   []float64
}

// NewReplayer returns a replayer with an empty tracker.
func NewReplayer() *Replayer {
	clock := NewTraceClock()
	return &Replayer{
		clock:   clock,
		tracker: NewThroughputTracker(clock),
		peaks:   make([]float64, len(Windows)),
	}
}

// Download records bytes completing at trace second endTS. Completions
// should arrive in non-decreasing order; earlier ones count at the
// current clock time.
func (r *Replayer) Download(endTS float64, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		r.clock.Set(endTS)
		r.tracker.Reset()
		r.next = math.Floor(endTS) + 1
		r.started = true
	}

	// Skip idle stretches longer than the ring; those samples would all
	// be overwritten anyway.
	if endTS-r.next > ringBufferSize {
		r.next = math.Floor(endTS) - ringBufferSize
	}
	for r.next <= endTS {
		r.clock.Set(r.next)
		r.tracker.RecordSample()
		r.updatePeaks()
		r.next++
	}

	r.clock.Set(endTS)
	r.tracker.AddBytes(bytes)
}

func (r *Replayer) updatePeaks() {
	for i, rate := range r.tracker.Stats().Rates {
		if rate.BytesPerSec > r.peaks[i] {
			r.peaks[i] = rate.BytesPerSec
		}
	}
}

// Stats returns the tracker statistics at the latest completion.
func (r *Replayer) Stats() ThroughputStats {
	return r.tracker.Stats()
}

// Peaks returns the highest sampled average per window, in bytes/sec,
// in the order of Windows.
func (r *Replayer) Peaks() []WindowRate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WindowRate, len(Windows))
	for i, w := range Windows {
		out[i] = WindowRate{Window: w, BytesPerSec: r.peaks[i]}
	}
	return out
}

// Now returns the replay position in trace seconds.
func (r *Replayer) Now() float64 {
	return r.clock.Seconds()
}
