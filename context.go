package authcore

import (
	"context"
	"strings"
)

type clientIPContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// as the default rate-limit scope and in audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// ScopeFunc derives the rate-limit scope for one request from its context
// and the identifier being acted on (username, email or token subject).
type ScopeFunc func(ctx context.Context, identifier string) string

// ScopeOrigin scopes counters to the client IP only. Requests without an IP
// share the "unknown" scope.
func ScopeOrigin(ctx context.Context, _ string) string {
	if ip := clientIPFromContext(ctx); ip != "" {
		return ip
	}
	return "unknown"
}

// ScopeOriginAndIdentifier scopes counters to the client IP and the
// lower-cased identifier, so one origin cannot exhaust another user's budget.
func ScopeOriginAndIdentifier(ctx context.Context, identifier string) string {
	return ScopeOrigin(ctx, identifier) + "|" + strings.ToLower(strings.TrimSpace(identifier))
}
