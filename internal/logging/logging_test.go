package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvtrack/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "debug", want: slog.LevelDebug},
		{in: "WARN", want: slog.LevelWarn},
		{in: " error ", want: slog.LevelError},
		{in: "loud", want: slog.LevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantErr, err != nil, tt.in)
	}
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dvtrack.log")

	logger, closer, err := New(config.Log{Level: "info", File: path}, false)
	require.NoError(t, err)
	logger.Debug("tracker.poll.discarded", "execution_id", "E1")
	logger.Info("tracker.start", "resource", "s1")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "msg=tracker.start resource=s1")
	assert.NotContains(t, string(raw), "tracker.poll.discarded")
}

func TestNew_VerboseLowersLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dvtrack.log")

	logger, closer, err := New(config.Log{Level: "error", File: path}, true)
	require.NoError(t, err)
	logger.Debug("backend.http.request", "path", "/api/status")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "backend.http.request")
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(config.Log{Level: "chatty", File: filepath.Join(t.TempDir(), "x.log")}, false)
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, slog.LevelWarn).Info("dropped")
	assert.Zero(t, buf.Len())
	Discard().Error("also dropped")
}
