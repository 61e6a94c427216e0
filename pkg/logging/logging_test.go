package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLoggerLevelFiltering(t *testing.T) {
	mem := NewMemoryTransport()
	logger := NewLogger(LevelWarn, mem)

	logger.Debug(context.Background(), "d", nil)
	logger.Info(context.Background(), "i", nil)
	logger.Warn(context.Background(), "w", nil)
	logger.Error(context.Background(), "e", map[string]interface{}{"k": 1})

	recs := mem.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "w", recs[0].Message)
	assert.Equal(t, LevelError, recs[1].Level)

	logger.SetLevel(LevelDebug)
	logger.Debug(context.Background(), "d", nil)
	assert.Len(t, mem.Messages("d"), 1)
}

func TestRequestIDEnrichment(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo, NewWriterTransport("buf", &buf))

	ctx := WithRequestID(context.Background(), "req-123")
	logger.Info(ctx, "webhook.received", map[string]interface{}{"event": "push"})

	var rec LogRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-123", rec.RequestID)
	assert.Equal(t, "webhook.received", rec.Message)
	assert.Equal(t, "push", rec.Fields["event"])
}

func TestConfigureWithFile(t *testing.T) {
	prev := Default
	defer func() { Default = prev }()

	path := filepath.Join(t.TempDir(), "devtrail.log")
	closer, err := Configure("debug", path)
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, LevelDebug, Default.Level())
	Debug(context.Background(), "hello", nil)
	Flush(context.Background())

	_, err = Configure("loud", "")
	assert.Error(t, err)
}
