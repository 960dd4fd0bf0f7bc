package tools

import "context"

// sessionIDKey is the context key the dispatcher uses to thread the calling
// session's id down to tools whose behavior is session-scoped (todo_write's
// per-session list, ask_user's prompt labeling).
type sessionIDKey struct{}

func contextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext returns the session id the dispatcher attached to
// ctx, or "" if none was set (e.g. a tool invoked directly in a test).
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
