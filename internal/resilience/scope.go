package resilience

import "context"

// contextKey is the key type for context values set by this package.
type contextKey string

const callScopeKey contextKey = "call_scope"

// WithCallScope tags ctx with an identifier (typically a session ID) that
// observers can read back to attribute retry activity to its originator.
func WithCallScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, callScopeKey, scope)
}

// CallScope returns the identifier set by WithCallScope, or "" when absent.
func CallScope(ctx context.Context) string {
	scope, _ := ctx.Value(callScopeKey).(string)
	return scope
}
