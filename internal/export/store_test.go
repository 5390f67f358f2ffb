package export

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-video-trace/internal/config"
	"github.com/randomizedcoder/go-video-trace/internal/orchestrator"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

const stallTrace = `
name: stall
exchanges:
  - request_time: 0
    response_time: 0.05
    host: cdn.example.com
    object: /vod/index.m3u8
    status: 200
    payload_text: |
      #EXTM3U
      #EXT-X-TARGETDURATION:2
      #EXTINF:2.0,
      s0.ts
      #EXTINF:2.0,
      s1.ts
      #EXTINF:2.0,
      s2.ts
      #EXT-X-ENDLIST
  - request_time: 0.1
    response_time: 0.5
    host: cdn.example.com
    object: /vod/s0.ts
    status: 200
    content_length: 100000
  - request_time: 0.6
    response_time: 5.0
    host: cdn.example.com
    object: /vod/s1.ts
    status: 200
    content_length: 100000
  - request_time: 5.1
    response_time: 5.2
    host: cdn.example.com
    object: /vod/s2.ts
    status: 200
    content_length: 100000
  - request_time: 5.3
    response_time: 5.4
    host: cdn.example.com
    object: /vod/other.ts
    status: 404
`

func analyze(t *testing.T) (*trace.Trace, *orchestrator.Report) {
	t.Helper()
	tr, err := trace.Decode(strings.NewReader(stallTrace), t.TempDir())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.TracePath = "trace.yaml"
	a, err := orchestrator.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, err)

	report, err := a.Run(context.Background(), tr.Exchanges)
	require.NoError(t, err)
	return tr, report
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func count(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func TestSave(t *testing.T) {
	tr, report := analyze(t)
	s := openTemp(t)
	ctx := context.Background()

	id, err := s.Save(ctx, Run{
		TraceID:   tr.ID,
		TraceName: tr.Name,
		Data:      report.Data,
		Compiled:  report.Compiled,
		Rollup:    report.Rollup,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	assert.Equal(t, 1, count(t, s, "SELECT COUNT(1) FROM streams WHERE run_id = ?", id))
	assert.Equal(t, 3, count(t, s, "SELECT COUNT(1) FROM segments WHERE run_id = ?", id))
	assert.Equal(t, report.Rollup.Stalls, count(t, s, "SELECT COUNT(1) FROM stalls WHERE run_id = ?", id))
	assert.Equal(t, 1, count(t, s, "SELECT COUNT(1) FROM failures WHERE run_id = ? AND reason = 'http_error'", id))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, tr.ID, runs[0].TraceID)
	assert.Equal(t, "stall", runs[0].TraceName)
	assert.Equal(t, 3, runs[0].Valid)
	assert.Equal(t, 1, runs[0].Failed)
}

func TestSave_StallTimeline(t *testing.T) {
	tr, report := analyze(t)
	require.Equal(t, 1, report.Rollup.Stalls, "s1 finishes after its play time")

	s := openTemp(t)
	id, err := s.Save(context.Background(), Run{TraceID: tr.ID, Data: report.Data, Compiled: report.Compiled, Rollup: report.Rollup})
	require.NoError(t, err)

	var segID int
	var stall float64
	err = s.db.QueryRow("SELECT segment_id, stall_time FROM segments WHERE run_id = ? AND stall_time > 0", id).Scan(&segID, &stall)
	require.NoError(t, err)
	assert.Equal(t, 1, segID)
	assert.InDelta(t, 2.5, stall, 1e-9)
}

func TestSave_AppendsRuns(t *testing.T) {
	tr, report := analyze(t)
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s, err := Open(ctx, path)
		require.NoError(t, err)
		_, err = s.Save(ctx, Run{TraceID: tr.ID, Data: report.Data, Compiled: report.Compiled, Rollup: report.Rollup})
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}

	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSave_Insufficient(t *testing.T) {
	tr, report := analyze(t)
	s := openTemp(t)

	id, err := s.Save(context.Background(), Run{TraceID: tr.ID, Data: report.Data, Rollup: report.Rollup})
	require.NoError(t, err)
	assert.Zero(t, count(t, s, "SELECT COUNT(1) FROM segments WHERE run_id = ?", id))
	assert.Equal(t, 1, count(t, s, "SELECT COUNT(1) FROM failures WHERE run_id = ?", id))
}

func TestSave_RequiresData(t *testing.T) {
	s := openTemp(t)
	_, err := s.Save(context.Background(), Run{TraceID: "x"})
	assert.Error(t, err)
}

func TestOpen_SchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.db.Exec("UPDATE schema_version SET version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, path)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}
