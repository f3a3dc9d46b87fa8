package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			logger, err := New(Config{Level: tt.in, OutputPaths: []string{os.DevNull}})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.Level())
		})
	}
}

func TestNewFromLevelFallsBackToInfo(t *testing.T) {
	logger := NewFromLevel("nope", false)
	require.NotNil(t, logger)
	assert.Equal(t, zapcore.InfoLevel, logger.Level())
}

func TestProductionOutputIsJSONWithComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Component("sessions").Info("Session created", zap.String("session", "s1"))
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"component":"sessions"`)
	assert.Contains(t, string(raw), `"session":"s1"`)
}

func TestComponentOnNilLogger(t *testing.T) {
	var l *Logger
	child := l.Component("bridge")
	require.NotNil(t, child)
	child.Info("no panic")
}
