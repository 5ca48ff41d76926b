package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(LevelError))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestPruneOldFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.Local)

	old := now.Add(-6 * 24 * time.Hour).Format(FileDateFormat) + ".log"
	recent := now.Add(-2 * 24 * time.Hour).Format(FileDateFormat) + ".log"
	for _, name := range []string{old, recent, "notes.log", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	n, err := PruneOldFiles(dir, 5*24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoFileExists(t, filepath.Join(dir, old))
	assert.FileExists(t, filepath.Join(dir, recent))
	assert.FileExists(t, filepath.Join(dir, "notes.log"))
	assert.FileExists(t, filepath.Join(dir, "keep.txt"))
}

func TestPruneOldFilesMissingDir(t *testing.T) {
	n, err := PruneOldFiles(filepath.Join(t.TempDir(), "nope"), time.Hour, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConfigureWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	closer, err := Configure(Options{Level: LevelInfo, Dir: dir})
	require.NoError(t, err)
	defer closer.Close()

	Infof("hello %s", "file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}

func TestDebugfFollowsLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	for _, tc := range []struct {
		level LogLevel
		want  bool
	}{
		{LevelDebug, true},
		{LevelInfo, false},
	} {
		dir := t.TempDir()
		closer, err := Configure(Options{Level: tc.level, Dir: dir})
		require.NoError(t, err)
		Debugf("resolved %d sessions", 8)
		require.NoError(t, closer.Close())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
		require.NoError(t, err)
		assert.Equal(t, tc.want, strings.Contains(string(data), "resolved 8 sessions"), "level %s", tc.level)
	}
}
