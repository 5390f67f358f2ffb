package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-video-trace/internal/metrics"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:4.0,
seg0.ts
#EXTINF:4.0,
seg1.ts
#EXT-X-ENDLIST
`

const traceIndex = `name: cli
sessions:
  - id: 1
    host: cdn.example.com
exchanges:
  - session: 1
    request_time: 0
    response_time: 0.05
    object: /vod/index.m3u8
    status: 200
    payload: index.m3u8
  - session: 1
    request_time: 0.1
    response_time: 0.6
    object: /vod/seg0.ts
    status: 200
    content_length: 250000
  - session: 1
    request_time: 0.7
    response_time: 1.2
    object: /vod/seg1.ts
    status: 200
    content_length: 250000
`

func writeTrace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte(mediaPlaylist), 0o644))
	path := filepath.Join(dir, "trace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(traceIndex), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "go-video-trace dev\n", out)
}

func TestAnalyzeCommand(t *testing.T) {
	path := writeTrace(t)
	dir := filepath.Dir(path)
	dump := filepath.Join(dir, "metrics.prom")
	db := filepath.Join(dir, "runs.db")

	out, stderr, err := execute(t, "analyze", path,
		"--metrics-dump", dump,
		"--export-db", db,
		"--log-level", "warn",
	)
	require.NoError(t, err, stderr)
	assert.Contains(t, stderr, "Preflight checks:")
	assert.NotEmpty(t, out)

	f, err := os.Open(dump)
	require.NoError(t, err)
	defer f.Close()
	families, err := metrics.ReadText(f)
	require.NoError(t, err)
	valid, ok := metrics.Value(families, "video_trace_segments", map[string]string{"state": "valid"})
	assert.True(t, ok)
	assert.Equal(t, 2.0, valid)

	_, err = os.Stat(db)
	assert.NoError(t, err)
}

func TestAnalyzeCommand_ConfigFile(t *testing.T) {
	path := writeTrace(t)
	cfgPath := filepath.Join(filepath.Dir(path), "video-trace.toml")
	content := "trace = \"" + filepath.ToSlash(path) + "\"\nreport_format = \"markdown\"\nskip_preflight = true\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	out, stderr, err := execute(t, "analyze", "--config", cfgPath, "--log-level", "error")
	require.NoError(t, err, stderr)
	assert.NotContains(t, stderr, "Preflight checks:")
	assert.Contains(t, out, "|")
}

func TestAnalyzeCommand_InvalidConfig(t *testing.T) {
	_, _, err := execute(t, "analyze", "--duplicates", "newest", writeTrace(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestAnalyzeCommand_MissingTrace(t *testing.T) {
	_, _, err := execute(t, "analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trace")
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.m3u8")
	require.NoError(t, os.WriteFile(path, []byte(mediaPlaylist), 0o644))

	out, _, err := execute(t, "inspect", path, "--segments", "--url", "https://cdn.example.com/vod/index.m3u8")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, path+": hls"), out)
	assert.Contains(t, out, "https://cdn.example.com/vod/seg1.ts")
}

func TestInspectCommand_NotAManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	_, _, err := execute(t, "inspect", path)
	assert.Error(t, err)
}
