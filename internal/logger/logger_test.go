package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_TextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "warn", "text")
	defer Setup(os.Stdout, "info", "text")

	Info("TAG", "hidden")
	Warn("TAG", "shown", "k", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "tag=TAG")
	assert.Contains(t, out, "k=1")
}

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "debug", "json")
	defer Setup(os.Stdout, "info", "text")

	Debug("ENGINE", "pair skipped", "type_id", 34)
	Success("DB", "opened")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "ENGINE", rec["tag"])
	assert.Equal(t, "pair skipped", rec["msg"])
	assert.EqualValues(t, 34, rec["type_id"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, true, rec["ok"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestBannerSectionStats_NoPanic(t *testing.T) {
	old := os.Stdout
	_, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	Banner("v1.0.0")
	Banner("")
	Section("Test")
	Stats("key", 42)
	w.Close()
}
