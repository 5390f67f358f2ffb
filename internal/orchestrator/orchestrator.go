// Package orchestrator drives one analysis run: it feeds the exchanges of
// a trace through the manifest parsers, the segment index and the
// correlator, then finalizes the aggregate, reconstructs playback and
// computes the rollup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-video-trace/internal/collection"
	"github.com/randomizedcoder/go-video-trace/internal/config"
	"github.com/randomizedcoder/go-video-trace/internal/correlate"
	"github.com/randomizedcoder/go-video-trace/internal/metrics"
	"github.com/randomizedcoder/go-video-trace/internal/parser"
	"github.com/randomizedcoder/go-video-trace/internal/stats"
	"github.com/randomizedcoder/go-video-trace/internal/timeseries"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
	"github.com/randomizedcoder/go-video-trace/internal/video"
)

// ErrInsufficientData is returned with a partial report when the trace
// holds no playable segment. Counters and failures are still filled.
var ErrInsufficientData = errors.New("insufficient data: no playable segments")

// Report is the outcome of a run.
type Report struct {
	Data     *video.StreamingVideoData
	Compiled *video.StreamingVideoCompiled // nil when data is insufficient
	Rollup   *stats.Rollup

	Throughput      timeseries.ThroughputStats
	ThroughputPeaks []timeseries.WindowRate

	Exchanges   int
	Manifests   int
	Collections int
	Elapsed     time.Duration
}

// Insufficient reports whether playback could not be reconstructed.
func (r *Report) Insufficient() bool {
	return r.Compiled == nil
}

// Progress is a consistent view of a running analysis for progress
// displays. It is safe to call from any goroutine.
type Progress struct {
	Done      int
	Total     int
	Manifests int
	Finished  bool
	Data      video.Snapshot
}

// Fraction returns Done/Total, or 0 before the run starts.
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total)
}

// download is a completed transfer for the throughput replay.
type download struct {
	end   float64
	bytes int64
}

// Analyzer coordinates all components for one trace analysis.
type Analyzer struct {
	config *config.Config
	logger *slog.Logger

	registry   *parser.Registry
	set        *collection.Set
	correlator *correlate.Correlator
	data       *video.StreamingVideoData
	metrics    *metrics.Collector

	done      atomic.Int64
	total     atomic.Int64
	manifests atomic.Int64
	finished  atomic.Bool
}

// New creates an analyzer. collector may be nil.
func New(cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) (*Analyzer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := video.ParseDuplicatePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return nil, fmt.Errorf("duplicate policy: %w", err)
	}

	registry := parser.NewRegistry(logger)

	var opts []correlate.Option
	// A nil *Collector must not become a non-nil Observer.
	if collector != nil {
		opts = append(opts, correlate.WithObserver(collector))
	}

	return &Analyzer{
		config:     cfg,
		logger:     logger,
		registry:   registry,
		set:        collection.NewSet(),
		correlator: correlate.New(registry, logger, opts...),
		data:       video.NewStreamingVideoData(policy),
		metrics:    collector,
	}, nil
}

// Data returns the aggregate being built.
func (a *Analyzer) Data() *video.StreamingVideoData {
	return a.data
}

// Progress returns the current progress.
func (a *Analyzer) Progress() Progress {
	return Progress{
		Done:      int(a.done.Load()),
		Total:     int(a.total.Load()),
		Manifests: int(a.manifests.Load()),
		Finished:  a.finished.Load(),
		Data:      a.data.Snapshot(),
	}
}

// Run analyzes exchanges, which must be sorted by request time. The
// context is checked between exchanges. On ErrInsufficientData the
// returned report is still usable.
func (a *Analyzer) Run(ctx context.Context, exchanges []*trace.Exchange) (*Report, error) {
	start := time.Now()
	defer a.finished.Store(true)

	a.total.Store(int64(len(exchanges)))
	if a.metrics != nil {
		a.metrics.SetTotal(len(exchanges))
	}
	a.logger.Info("analysis_starting", "exchanges", len(exchanges), "trace_id", a.data.ID)

	downloads := make([]download, 0, len(exchanges))
	for i, ex := range exchanges {
		select {
		case <-ctx.Done():
			a.logger.Info("analysis_cancelled", "analyzed", i, "total", len(exchanges))
			return nil, ctx.Err()
		default:
		}

		if d, ok := a.handle(ex); ok {
			downloads = append(downloads, d)
		}

		a.done.Store(int64(i + 1))
		if a.metrics != nil {
			a.metrics.SetProgress(i+1, len(exchanges))
		}
	}

	report := &Report{
		Data:        a.data,
		Exchanges:   len(exchanges),
		Manifests:   int(a.manifests.Load()),
		Collections: a.set.Len(),
	}

	a.data.ScanVideoStreams(a.config.GapThreshold)
	report.Throughput, report.ThroughputPeaks = replay(downloads)

	compiled, err := a.data.Compile(video.CompileOptions{
		StartupDelay:   a.config.StartupDelay,
		StallRecovery:  a.config.StallRecovery,
		StallThreshold: a.config.StallThreshold,
	})
	switch {
	case errors.Is(err, video.ErrNoSegments):
		report.Rollup = stats.Build(a.data, nil)
	case err != nil:
		return nil, fmt.Errorf("compile timeline: %w", err)
	default:
		report.Compiled = compiled
		report.Rollup = stats.Build(a.data, compiled)
	}
	report.Elapsed = time.Since(start)

	if a.metrics != nil {
		a.metrics.RecordThroughput(report.Throughput, report.ThroughputPeaks)
		a.metrics.RecordRollup(report.Rollup)
	}

	counters := report.Rollup.Counters
	a.logger.Info("analysis_complete",
		"manifests", report.Manifests,
		"lineages", report.Collections,
		"segments", counters.Total,
		"valid", counters.Valid,
		"failed", counters.Failed,
		"stalls", report.Rollup.Stalls,
		"elapsed", report.Elapsed,
	)

	if report.Insufficient() {
		a.logger.Warn("insufficient_data", "segments", counters.Total, "failed", counters.Failed)
		return report, ErrInsufficientData
	}
	return report, nil
}

// handle routes one exchange. It returns the completed transfer when the
// exchange produced a segment event.
func (a *Analyzer) handle(ex *trace.Exchange) (download, bool) {
	kind := trace.Classify(ex)
	if a.metrics != nil {
		a.metrics.ObserveExchange(kind, ex.ContentLength)
	}

	switch kind {
	case trace.URLTypeManifest:
		a.handleManifest(ex)
		return download{}, false
	case trace.URLTypeUnknown:
		// Non-media objects (beacons, images, API calls) are only
		// correlated when some manifest indexes them.
		if !a.indexed(ex) {
			return download{}, false
		}
	}

	res, fr := a.correlator.CorrelateSet(ex, a.set)
	if fr != nil {
		a.data.AddFailed(*fr)
		return download{}, false
	}

	ev := res.Event
	s := a.data.Stream(res.Collection.First(), res.Collection.RequestTime())
	if !a.data.AddEvent(s, ev) {
		a.logger.Debug("segment_repeated", "uri", ex.URL(), "segment_id", ev.SegmentID, "start", ev.StartTS)
		return download{}, false
	}
	if a.metrics != nil {
		a.metrics.ObserveSegment(ev)
	}
	if ex.Failed() {
		return download{}, false
	}
	return download{end: ev.EndTS, bytes: ev.Size}, true
}

// indexed reports whether any lineage lists the object of ex.
func (a *Analyzer) indexed(ex *trace.Exchange) bool {
	uri := ex.URL()
	for _, c := range a.set.Collections() {
		if _, ok := c.Lookup(uri); ok || c.IsRangeAddressed(uri) {
			return true
		}
	}
	return false
}

func (a *Analyzer) handleManifest(ex *trace.Exchange) {
	uri := ex.URL()
	if ex.Failed() || len(ex.Payload) == 0 {
		a.logger.Debug("manifest_skipped", "uri", uri, "status", ex.StatusCode, "bytes", len(ex.Payload))
		return
	}

	m, p := a.registry.Parse(ex.Payload, ex, a.set.MasterFor(uri))
	if p == nil {
		if a.metrics != nil {
			a.metrics.ObserveManifest(nil)
		}
		return
	}
	a.manifests.Add(1)
	if a.metrics != nil {
		a.metrics.ObserveManifest(m)
	}

	coll, created := a.set.Add(m)
	s := a.data.Stream(coll.First(), coll.RequestTime())
	if a.data.NoteManifest(s, m) && !created {
		a.logger.Info("lineage_revalidated", "uri", uri, "type", m.Type.String())
	}
	if created {
		a.logger.Debug("lineage_created",
			"uri", uri,
			"type", m.Type.String(),
			"role", m.Role.String(),
			"tracks", len(m.Children),
		)
	}
}

// replay runs completed downloads through a throughput replayer in
// completion order.
func replay(downloads []download) (timeseries.ThroughputStats, []timeseries.WindowRate) {
	sort.SliceStable(downloads, func(i, j int) bool { return downloads[i].end < downloads[j].end })
	r := timeseries.NewReplayer()
	for _, d := range downloads {
		r.Download(d.end, d.bytes)
	}
	return r.Stats(), r.Peaks()
}
