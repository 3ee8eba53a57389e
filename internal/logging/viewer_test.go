package logging

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2026-03-01T10:00:00.000Z","level":"DEBUG","msg":"batch_scanned","rows":7}
{"time":"2026-03-01T10:00:01.000Z","level":"INFO","msg":"index_rebuilt","index":"releases_rt"}
not json at all
{"time":"2026-03-01T10:00:02.500Z","level":"WARN","msg":"blacklist_pattern_invalid","id":4}
{"time":"2026-03-01T10:00:03.000Z","level":"ERROR","msg":"delete_failed","index":"releases_rt","id":42}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relindex.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// =============================================================================
// Parsing and formatting
// =============================================================================

func TestParseLine(t *testing.T) {
	e := ParseLine(`{"time":"2026-03-01T10:00:01.000Z","level":"INFO","msg":"index_rebuilt","index":"releases_rt"}`)

	assert.True(t, e.IsValid)
	assert.Equal(t, "INFO", e.Level)
	assert.Equal(t, "index_rebuilt", e.Msg)
	assert.Equal(t, map[string]any{"index": "releases_rt"}, e.Attrs)
	assert.Equal(t, 1, e.Time.Second())

	raw := ParseLine("plain text")
	assert.False(t, raw.IsValid)
	assert.Equal(t, "plain text", raw.Raw)
}

func TestFormatEntry_SortsAttributes(t *testing.T) {
	// Given: an entry whose attributes arrive in map order
	v := NewViewer(ViewerConfig{NoColor: true}, &strings.Builder{})
	e := ParseLine(`{"time":"2026-03-01T10:00:03.000Z","level":"ERROR","msg":"delete_failed","index":"releases_rt","id":42}`)

	// Then: the rendered line is stable
	assert.Equal(t, "10:00:03.000 ERROR delete_failed id=42 index=releases_rt", v.FormatEntry(e))
	assert.Equal(t, "not json", v.FormatEntry(ParseLine("not json")))
}

// =============================================================================
// Tail
// =============================================================================

func TestTail_LastLines(t *testing.T) {
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{NoColor: true}, &strings.Builder{})

	entries, err := v.Tail(path, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "blacklist_pattern_invalid", entries[0].Msg)
	assert.Equal(t, "delete_failed", entries[1].Msg)

	all, err := v.Tail(path, 100)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestTail_LevelFilterKeepsUnparsedLines(t *testing.T) {
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{Level: "warn", NoColor: true}, &strings.Builder{})

	entries, err := v.Tail(path, 100)
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.False(t, entries[0].IsValid)
	assert.Equal(t, "WARN", entries[1].Level)
	assert.Equal(t, "ERROR", entries[2].Level)
}

func TestTail_PatternFilter(t *testing.T) {
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{Pattern: regexp.MustCompile(`releases_rt`), NoColor: true}, &strings.Builder{})

	entries, err := v.Tail(path, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "index_rebuilt", entries[0].Msg)
	assert.Equal(t, "delete_failed", entries[1].Msg)
}

func TestTail_MissingFile(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &strings.Builder{})
	_, err := v.Tail(filepath.Join(t.TempDir(), "absent.log"), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestPrint(t *testing.T) {
	path := writeLog(t, sampleLog)
	var out strings.Builder
	v := NewViewer(ViewerConfig{Level: "error", NoColor: true}, &out)

	entries, err := v.Tail(path, 2)
	require.NoError(t, err)
	v.Print(entries)

	assert.Equal(t, "10:00:03.000 ERROR delete_failed id=42 index=releases_rt\n", out.String())
}

// =============================================================================
// Follow
// =============================================================================

func TestFollow_StreamsAppendedLines(t *testing.T) {
	// Given: a log with history, followed from its end
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{Level: "info", NoColor: true}, &strings.Builder{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()
	time.Sleep(50 * time.Millisecond)

	// When: new lines are appended
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"time":"2026-03-01T10:01:00.000Z","level":"DEBUG","msg":"skipped"}` + "\n" +
		`{"time":"2026-03-01T10:01:01.000Z","level":"INFO","msg":"sync_done","id":3}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: only the new entry above the level arrives
	select {
	case e := <-entries:
		assert.Equal(t, "sync_done", e.Msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no entry received")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, entries)
}
