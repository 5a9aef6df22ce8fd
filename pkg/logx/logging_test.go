package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &m))
	return m
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "registry"))

	log.Info("schedule created",
		String("id", "s1"),
		Int("cycle", 2),
		Stringer("amount", decimal.RequireFromString("0.01")),
		Err(errors.New("boom")),
		Err(nil),
	)

	m := decodeLine(t, buf.Bytes())
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "schedule created", m["message"])
	assert.Equal(t, "registry", m["comp"])
	assert.Equal(t, "s1", m["id"])
	assert.EqualValues(t, 2, m["cycle"])
	assert.Equal(t, "0.01", m["amount"])
	assert.Equal(t, "boom", m["err"])
	assert.True(t, strings.HasPrefix(m["caller"].(string), "logging_test.go:"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestZeroAndNopLoggers(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.NotPanics(t, func() { zero.Error("nothing", String("k", "v")) })

	nop := Nop()
	assert.False(t, nop.IsZero())
	assert.NotPanics(t, func() { nop.With(Bool("b", true)).Info("nothing") })
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		" info ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
	} {
		got, ok := ParseLevel(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseLevel("")
	assert.True(t, ok)
	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}

func TestServiceApplyWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recurswap.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Debug("too quiet")
	log.Info("first")

	// the live logger follows Apply
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("second")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.NotContains(t, out, "too quiet")
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
	assert.Equal(t, "debug", svc.Config().Level)
}
