package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/seedbox-tools/ratiofaker/internal/faulterr"
	"github.com/stretchr/testify/require"
)

func newTestHandler(buf *bytes.Buffer) *PrettyHandler {
	opts := DefaultOptions()
	opts.UseColor = false
	opts.DisableTimestamp = true
	return NewPrettyHandler(buf, &opts)
}

func TestHandleRendersKindedErrorWithBucketPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newTestHandler(&buf))

	logger.Warn("stop announce failed", slog.Any("error", faulterr.TrackerFailure("swarm not found")))

	require.Contains(t, buf.String(), "[TrackerFailure]")
	require.Contains(t, buf.String(), "swarm not found")
}

func TestHandleRendersPlainErrorAsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newTestHandler(&buf))

	logger.Warn("io failure", slog.Any("error", errors.New("disk full")))

	require.Contains(t, buf.String(), "disk full")
	require.NotContains(t, buf.String(), "[")
}

func TestHandleWritesMessageAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newTestHandler(&buf))

	logger.Info("session started", slog.String("session_id", "abc123"))

	out := buf.String()
	require.Contains(t, out, "session started")
	require.Contains(t, out, "abc123")
	require.Contains(t, out, "INFO")
}

func TestEnabledRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.SlogOpts.Level = slog.LevelWarn
	h := NewPrettyHandler(&buf, &opts)

	require.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	require.True(t, h.Enabled(context.Background(), slog.LevelWarn))
}
