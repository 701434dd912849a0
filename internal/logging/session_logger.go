package logging

import "log/slog"

// Role distinguishes which side of a session a logger belongs to, for the
// constant attrs attached by WithSession.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// WithSession binds a session id and role as constant attrs on every record
// a logger emits for that session's lifetime, so a log line never needs to
// repeat them at the call site.
func WithSession(base *slog.Logger, sessionID string, role Role) *slog.Logger {
	return base.With(
		slog.String("session_id", sessionID),
		slog.String("role", string(role)),
	)
}
