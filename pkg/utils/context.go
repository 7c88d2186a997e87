package utils

import "context"

type debugIDKey struct{}

// WithDebugID tags ctx with the debug ID of the current chat turn.
func WithDebugID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, debugIDKey{}, id)
}

// DebugID returns the debug ID stored by WithDebugID, or "".
func DebugID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(debugIDKey{}).(string)
	return id
}
