// Package correlation carries per-request identity (request id, method,
// path) through context.Context, Go's idiomatic per-request scope.
package correlation

import "context"

type contextKey string

const (
	requestIDKey contextKey = "correlation_request_id"
	methodKey    contextKey = "correlation_method"
	pathKey      contextKey = "correlation_path"
)

// Fields is the correlation triple bound to a request.
type Fields struct {
	RequestID string
	Method    string
	Path      string
}

// WithFields returns a context carrying f, readable via RequestID/Method/Path.
func WithFields(ctx context.Context, f Fields) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, f.RequestID)
	ctx = context.WithValue(ctx, methodKey, f.Method)
	ctx = context.WithValue(ctx, pathKey, f.Path)
	return ctx
}

// RequestID returns the bound request id, or "" if none is bound.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// Method returns the bound HTTP method, or "" if none is bound.
func Method(ctx context.Context) string {
	v, _ := ctx.Value(methodKey).(string)
	return v
}

// Path returns the bound request path, or "" if none is bound.
func Path(ctx context.Context) string {
	v, _ := ctx.Value(pathKey).(string)
	return v
}
