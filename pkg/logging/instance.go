package logging

import "log/slog"

// WithInstance returns a logger scoped to one session, tagging every
// record it emits with the session's opaque ID. Used by the supervisor
// and session engine so log lines from concurrent sessions can be told
// apart.
func WithInstance(base *slog.Logger, sessionID string) *slog.Logger {
	return base.With(slog.String("session_id", sessionID))
}
