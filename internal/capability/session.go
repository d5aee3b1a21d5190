package capability

import "context"

type sessionKey struct{}

// WithSession attaches the caller's session to ctx so handlers can scope
// their lookups without the planner having to pass it.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFrom returns the session attached with WithSession.
func SessionFrom(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey{}).(string)
	return s
}

// SessionID resolves the session for a call. The context session always
// wins; the session_id argument is only used for direct invocations that
// carry no request session.
func SessionID(ctx context.Context, args Args) string {
	if s := SessionFrom(ctx); s != "" {
		return s
	}
	return args.String("session_id")
}
