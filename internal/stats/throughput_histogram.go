package stats

import (
	"math"
	"sync/atomic"
)

// histogramBuckets covers 1 kbit/s (bucket 0) to well past 10 Tbit/s in
// log2 steps.
const histogramBuckets = 64

// histogramBase is the lower edge of bucket 1, in bits per second.
const histogramBase = 1000.0

// ThroughputHistogram is a log2-bucketed histogram of per-segment
// download rates in bits per second. Recording is lock-free so the
// analysis goroutine and a progress reader can share one.
type ThroughputHistogram struct {
	buckets [histogramBuckets]atomic.Uint64
	count   atomic.Uint64
	sumKbps atomic.Uint64
}

// NewThroughputHistogram returns an empty histogram.
func NewThroughputHistogram() *ThroughputHistogram {
	return &ThroughputHistogram{}
}

// Record adds one download rate sample. Non-positive rates are ignored.
func (h *ThroughputHistogram) Record(bitsPerSec float64) {
	if !(bitsPerSec > 0) {
		return
	}
	h.buckets[bucketFor(bitsPerSec)].Add(1)
	h.count.Add(1)
	h.sumKbps.Add(uint64(bitsPerSec / histogramBase))
}

// bucketFor returns floor(log2(bps / 1 kbit/s)), clamped to the bucket
// range.
func bucketFor(bitsPerSec float64) int {
	if bitsPerSec < 2*histogramBase {
		return 0
	}
	b := int(math.Log2(bitsPerSec / histogramBase))
	if b >= histogramBuckets {
		b = histogramBuckets - 1
	}
	return b
}

// Snapshot returns the current bucket counts without resetting them.
func (h *ThroughputHistogram) Snapshot() [histogramBuckets]uint64 {
	var out [histogramBuckets]uint64
	for i := range h.buckets {
		out[i] = h.buckets[i].Load()
	}
	return out
}

// Count returns the number of recorded samples.
func (h *ThroughputHistogram) Count() uint64 {
	return h.count.Load()
}

// Mean returns the mean recorded rate in bits per second, or 0.
func (h *ThroughputHistogram) Mean() float64 {
	n := h.count.Load()
	if n == 0 {
		return 0
	}
	return float64(h.sumKbps.Load()) * histogramBase / float64(n)
}

// Percentile returns the p-quantile (0..1) of the recorded rates.
func (h *ThroughputHistogram) Percentile(p float64) float64 {
	return PercentileFromBuckets(h.Snapshot(), p)
}

// PercentileFromBuckets estimates a quantile from bucket counts,
// interpolating in log space within the bucket holding the target rank.
func PercentileFromBuckets(buckets [histogramBuckets]uint64, p float64) float64 {
	var total uint64
	for _, n := range buckets {
		total += n
	}
	if total == 0 {
		return 0
	}
	target := p * float64(total)

	var cum uint64
	for i, n := range buckets {
		if n == 0 {
			continue
		}
		prev := cum
		cum += n
		if float64(cum) < target {
			continue
		}
		lo := math.Log2(histogramBase) + float64(i)
		progress := (target - float64(prev)) / float64(n)
		return math.Pow(2, lo+progress)
	}
	return histogramBase * math.Pow(2, histogramBuckets)
}

// MergeBuckets sums bucket counts from several histograms.
func MergeBuckets(hs ...[histogramBuckets]uint64) [histogramBuckets]uint64 {
	var out [histogramBuckets]uint64
	for _, h := range hs {
		for i, n := range h {
			out[i] += n
		}
	}
	return out
}
