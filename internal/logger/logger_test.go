/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer

	log, err := New(Options{Format: FormatJSON, Output: &buf})
	require.NoError(t, err)

	log.Info("session created", zap.String("game", "ABC234"))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "session created", entry["msg"])
	assert.Equal(t, "ABC234", entry["game"])
}

func TestDebugNeedsVerbose(t *testing.T) {
	var quiet, loud bytes.Buffer

	q, err := New(Options{Output: &quiet})
	require.NoError(t, err)
	q.Debug("hidden")

	l, err := New(Options{Output: &loud, Verbose: true})
	require.NoError(t, err)
	l.Debug("shown")

	assert.Empty(t, quiet.String())
	assert.Contains(t, loud.String(), "shown")
	assert.Contains(t, loud.String(), "DEBUG")
}

func TestUnknownFormat(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "publicgoods.log")

	log, err := New(Options{Output: &bytes.Buffer{}, File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Warn("player disconnected", zap.String("player", "s1"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"player disconnected"`)
}
