// Command ratiofakerd wires the core engine into a process: it boots the
// supervisor from its persistence document, auto-starts any session that
// was Running when the process last exited, and waits for a termination
// signal to shut down cleanly. It is intentionally not a CLI flag
// framework, a TUI, or an HTTP/SSE server — those are external
// collaborators per spec.md §1. This binary exists only to prove the
// core is wireable into a process, matching the teacher's own thin
// cmd/echo/main.go.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/seedbox-tools/ratiofaker/internal/supervisor"
	"github.com/seedbox-tools/ratiofaker/pkg/logging"
)

const appName = "ratiofaker"

func main() {
	logger := newLogger()

	persistPath, err := persistencePath()
	if err != nil {
		logger.Error("failed to resolve persistence path", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sup := supervisor.New(persistPath, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Boot(ctx); err != nil {
		logger.Error("failed to boot supervisor", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("ratiofakerd started", slog.String("persistence_path", persistPath))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining sessions")
	sup.Shutdown()
	logger.Info("ratiofakerd stopped")
}

// persistencePath resolves the default persistence document location:
// under an OS configuration directory keyed by the application name, per
// spec.md §6.
func persistencePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName, "sessions.toml"), nil
}

func newLogger() *slog.Logger {
	opts := &logging.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
		UseColor:       true,
		TimeFormat:     time.RFC3339,
		LevelWidth:     7,
		FieldSeparator: " | ",
	}
	handler := logging.NewPrettyHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
