// Package metrics provides Prometheus metrics for go-video-trace.
//
// Metrics fall into two groups:
//   - Progress metrics, updated while exchanges are analyzed: exchanges by
//     URL type, manifests parsed, correlation matches and misses, segment
//     download time and throughput.
//   - Result metrics, set once from the rollup: counters, playback
//     summary, time at quality and rolling throughput peaks.
//
// Every Collector owns its metric vectors, so several analyses (or tests)
// can run in one process against separate registries.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-video-trace/internal/correlate"
	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/stats"
	"github.com/randomizedcoder/go-video-trace/internal/timeseries"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
	"github.com/randomizedcoder/go-video-trace/internal/video"
)

const namespace = "video_trace"

// Collector records analysis metrics. It implements correlate.Observer.
type Collector struct {
	// --- Panel 1: Run Overview ---
	info             *prometheus.GaugeVec
	exchangesTotal   prometheus.Gauge
	exchangesDone    prometheus.Gauge
	progressRatio    prometheus.Gauge
	analysisDuration prometheus.Gauge

	// --- Panel 2: Exchanges & Manifests ---
	exchangesByType *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	manifestsParsed *prometheus.CounterVec
	manifestErrors  prometheus.Counter

	// --- Panel 3: Correlation ---
	matchesTotal *prometheus.CounterVec
	missesTotal  *prometheus.CounterVec

	// --- Panel 4: Segment Downloads ---
	downloadSeconds *prometheus.HistogramVec
	throughputBits  *prometheus.HistogramVec
	throughputAvg   *prometheus.GaugeVec
	throughputPeak  *prometheus.GaugeVec

	// --- Panel 5: Playback Result ---
	segments       *prometheus.GaugeVec
	streams        prometheus.Gauge
	startupDelay   prometheus.Gauge
	playSeconds    prometheus.Gauge
	stallsTotal    prometheus.Gauge
	stallSeconds   prometheus.Gauge
	gaps           prometheus.Gauge
	bufferSeconds  *prometheus.GaugeVec
	qualitySeconds *prometheus.GaugeVec
	failedRequests *prometheus.GaugeVec

	// Internal tracking for the summary
	mu        sync.Mutex
	startTime time.Time
	matches   int64
	misses    int64
}

// CollectorConfig describes the run for the info metric.
type CollectorConfig struct {
	TraceID   string
	TraceName string
	Version   string
}

// NewCollector creates a collector registered on a fresh registry, which
// it returns for serving or dumping.
func NewCollector(cfg CollectorConfig) (*Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	return NewCollectorWithRegistry(cfg, registry), registry
}

// NewCollectorWithRegistry creates a collector registered on registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the analyzed trace (value always 1)",
		}, []string{"version", "trace_id", "trace_name"}),
		exchangesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exchanges",
			Help:      "HTTP exchanges in the trace",
		}),
		exchangesDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exchanges_analyzed",
			Help:      "HTTP exchanges analyzed so far",
		}),
		progressRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_ratio",
			Help:      "Analysis progress (0.0 to 1.0)",
		}),
		analysisDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall-clock seconds the analysis took",
		}),

		exchangesByType: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_by_type_total",
			Help:      "Analyzed exchanges by classified URL type",
		}, []string{"url_type"}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Response bytes of analyzed exchanges",
		}),
		manifestsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifests_parsed_total",
			Help:      "Manifests parsed by format",
		}, []string{"format"}),
		manifestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_errors_total",
			Help:      "Manifest responses no parser accepted",
		}),

		matchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_matches_total",
			Help:      "Downloads correlated to a manifest segment, by method",
		}, []string{"method", "content_type"}),
		missesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_misses_total",
			Help:      "Downloads that produced no event, by reason",
		}, []string{"reason"}),

		downloadSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_download_seconds",
			Help:      "Segment download time",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"content_type"}),
		throughputBits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_throughput_bits_per_second",
			Help:      "Per-segment download throughput",
			Buckets:   prometheus.ExponentialBuckets(100_000, 2, 12), // 100 kbps .. ~205 Mbps
		}, []string{"content_type"}),
		throughputAvg: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_bytes_per_second",
			Help:      "Rolling download throughput at the replay position, by window",
		}, []string{"window"}),
		throughputPeak: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_peak_bytes_per_second",
			Help:      "Highest rolling download throughput over the trace, by window",
		}, []string{"window"}),

		segments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "segments",
			Help:      "Segment counters of the analyzed trace",
		}, []string{"state"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams",
			Help:      "Played video streams",
		}),
		startupDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "startup_delay_seconds",
			Help:      "Time from the first segment request to playback start",
		}),
		playSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "play_seconds",
			Help:      "Content seconds in the reconstructed timeline",
		}),
		stallsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stalls",
			Help:      "Inferred playback stalls",
		}),
		stallSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stall_seconds",
			Help:      "Total inferred stall time",
		}),
		gaps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gaps",
			Help:      "Discontinuities between adjacent played segments",
		}),
		bufferSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_seconds",
			Help:      "Buffered content at download completions",
		}, []string{"stat"}),
		qualitySeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quality_seconds",
			Help:      "Content seconds played per quality",
		}, []string{"content_type", "quality"}),
		failedRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failed_requests",
			Help:      "Downloads that produced no event, by reason, after the run",
		}, []string{"reason"}),

		startTime: time.Now(),
	}

	registry.MustRegister(
		// Panel 1: Run Overview
		c.info,
		c.exchangesTotal,
		c.exchangesDone,
		c.progressRatio,
		c.analysisDuration,

		// Panel 2: Exchanges & Manifests
		c.exchangesByType,
		c.bytesTotal,
		c.manifestsParsed,
		c.manifestErrors,

		// Panel 3: Correlation
		c.matchesTotal,
		c.missesTotal,

		// Panel 4: Segment Downloads
		c.downloadSeconds,
		c.throughputBits,
		c.throughputAvg,
		c.throughputPeak,

		// Panel 5: Playback Result
		c.segments,
		c.streams,
		c.startupDelay,
		c.playSeconds,
		c.stallsTotal,
		c.stallSeconds,
		c.gaps,
		c.bufferSeconds,
		c.qualitySeconds,
		c.failedRequests,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.TraceID, cfg.TraceName).Set(1)

	return c
}

// =============================================================================
// Progress
// =============================================================================

// SetTotal sets the number of exchanges the run will analyze.
func (c *Collector) SetTotal(n int) {
	c.exchangesTotal.Set(float64(n))
}

// SetProgress records how many exchanges have been analyzed.
func (c *Collector) SetProgress(done, total int) {
	c.exchangesDone.Set(float64(done))
	if total > 0 {
		c.progressRatio.Set(float64(done) / float64(total))
	}
}

// ObserveExchange counts one analyzed exchange.
func (c *Collector) ObserveExchange(t trace.URLType, bytes int64) {
	c.exchangesByType.WithLabelValues(t.String()).Inc()
	if bytes > 0 {
		c.bytesTotal.Add(float64(bytes))
	}
}

// ObserveManifest counts a parsed manifest, or a rejected one when m is
// nil.
func (c *Collector) ObserveManifest(m *manifest.Manifest) {
	if m == nil {
		c.manifestErrors.Inc()
		return
	}
	c.manifestsParsed.WithLabelValues(m.Type.String()).Inc()
}

// ObserveMatch implements correlate.Observer.
func (c *Collector) ObserveMatch(method correlate.Method, ct manifest.ContentType) {
	c.matchesTotal.WithLabelValues(method.String(), ct.String()).Inc()
	c.mu.Lock()
	c.matches++
	c.mu.Unlock()
}

// ObserveMiss implements correlate.Observer.
func (c *Collector) ObserveMiss(reason video.Reason) {
	c.missesTotal.WithLabelValues(reason.String()).Inc()
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// ObserveSegment records the download timing of a correlated segment.
// Failed downloads carry no timing and are skipped.
func (c *Collector) ObserveSegment(ev *video.VideoEvent) {
	if ev == nil || ev.Exchange == nil || ev.Exchange.Failed() {
		return
	}
	ct := ev.ContentType.String()
	if dt := ev.DownloadTime(); dt > 0 {
		c.downloadSeconds.WithLabelValues(ct).Observe(dt)
	}
	if bps := ev.Throughput(); bps > 0 {
		c.throughputBits.WithLabelValues(ct).Observe(bps)
	}
}

// RecordThroughput sets the rolling throughput gauges.
func (c *Collector) RecordThroughput(s timeseries.ThroughputStats, peaks []timeseries.WindowRate) {
	for _, r := range s.Rates {
		c.throughputAvg.WithLabelValues(r.Window.String()).Set(r.BytesPerSec)
	}
	for _, r := range peaks {
		c.throughputPeak.WithLabelValues(r.Window.String()).Set(r.BytesPerSec)
	}
}

// =============================================================================
// Result
// =============================================================================

// RecordRollup sets the result metrics from a finished analysis.
func (c *Collector) RecordRollup(r *stats.Rollup) {
	if r == nil {
		return
	}
	c.analysisDuration.Set(time.Since(c.startTime).Seconds())

	c.segments.WithLabelValues("total").Set(float64(r.Counters.Total))
	c.segments.WithLabelValues("valid").Set(float64(r.Counters.Valid))
	c.segments.WithLabelValues("invalid").Set(float64(r.Counters.Invalid))
	c.segments.WithLabelValues("duplicate").Set(float64(r.Counters.Duplicates))
	c.segments.WithLabelValues("missing").Set(float64(r.Counters.Missing))
	c.segments.WithLabelValues("redundant").Set(float64(r.Redundant))

	c.streams.Set(float64(r.Streams))
	c.startupDelay.Set(r.StartupDelay)
	c.playSeconds.Set(r.PlayDuration)
	c.stallsTotal.Set(float64(r.Stalls))
	c.stallSeconds.Set(r.StallTime)
	c.gaps.Set(float64(r.Gaps))
	c.bufferSeconds.WithLabelValues("avg").Set(r.BufferAvg)
	c.bufferSeconds.WithLabelValues("max").Set(r.BufferMax)

	c.qualitySeconds.Reset()
	for _, q := range r.Quality {
		c.qualitySeconds.WithLabelValues(q.ContentType.String(), q.Quality).Set(q.Duration)
	}

	c.failedRequests.Reset()
	for reason, n := range r.Failures {
		c.failedRequests.WithLabelValues(reason).Set(float64(n))
	}
}

// =============================================================================
// Summary
// =============================================================================

// Summary is a snapshot of the correlation totals.
type Summary struct {
	Matches  int64
	Misses   int64
	Duration time.Duration
}

// GenerateSummary returns the correlation totals so far.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Summary{
		Matches:  c.matches,
		Misses:   c.misses,
		Duration: time.Since(c.startTime),
	}
}

// MatchRate returns the fraction of segment downloads that correlated.
func (s *Summary) MatchRate() float64 {
	total := s.Matches + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Matches) / float64(total)
}

var _ correlate.Observer = (*Collector)(nil)
