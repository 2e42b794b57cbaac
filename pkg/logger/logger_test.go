package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogger_levelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(INFO, "", &buf)
	require.NoError(t, err)

	l.Debug("hidden %d", 1)
	l.Info("shown %s", "info")
	l.Error("shown %s", "error")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "INFO: shown info")
	require.Contains(t, out, "ERROR: shown error")
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	l.SetLevel(DEBUG)
	require.Equal(t, DEBUG, l.GetLevel())
	l.Debug("now visible")
	require.Contains(t, buf.String(), "DEBUG: now visible")
}

func TestLogger_writesFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l, err := New(INFO, dir, &buf)
	require.NoError(t, err)

	l.Info("tag %s", "A1B2C3")
	require.NoError(t, l.Close())

	require.NotEmpty(t, l.GetLogFilePath())
	data, err := os.ReadFile(l.GetLogFilePath())
	require.NoError(t, err)
	require.Contains(t, string(data), "INFO: tag A1B2C3")
	require.Contains(t, buf.String(), "INFO: tag A1B2C3")
}

func TestLogger_fatalExits(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(INFO, "", &buf)
	require.NoError(t, err)

	code := -1
	l.exit = func(c int) { code = c }
	l.Fatal("boom")

	require.Equal(t, 1, code)
	require.Contains(t, buf.String(), "FATAL: boom")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warning")
	require.NoError(t, err)
	require.Equal(t, WARN, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, INFO, lvl)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestDefaultLogger(t *testing.T) {
	prev := GetDefaultLogger()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	l, err := New(DEBUG, "", &buf)
	require.NoError(t, err)
	SetDefault(l)

	Warn("reader %s unplugged", "COM10")
	require.Contains(t, buf.String(), "WARN: reader COM10 unplugged")
}
