package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSlogLoggerNestsGroups(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(createEncoder("json"), zapcore.AddSync(&buf), zapcore.InfoLevel)

	log := newSlogLogger(zap.New(core))
	log.WithGroup("timer").With("client_id", "acme").Warn("session switched", "minutes", 30)
	log.Debug("dropped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "retainer", entry["logger"])
	assert.Equal(t, "session switched", entry["msg"])
	assert.Equal(t, map[string]any{"client_id": "acme", "minutes": float64(30)}, entry["timer"])
	assert.NotContains(t, entry, "client_id")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}
