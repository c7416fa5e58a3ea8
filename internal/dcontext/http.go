package dcontext

import (
	"context"
	"net/http"
	"time"

	"github.com/reststorage/reststorage/internal/requestutil"
	"github.com/reststorage/reststorage/internal/uuid"
)

// Keys under which request values are stored. They double as logging field
// names.
const (
	RequestIDKey         = "http.request.id"
	RequestMethodKey     = "http.request.method"
	RequestURIKey        = "http.request.uri"
	RequestRemoteAddrKey = "http.request.remoteaddr"
	RequestStartedAtKey  = "http.request.startedat"
)

// WithRequest places the request's identifying values on the context and
// installs a logger that reports them.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}

	ctx = WithValues(ctx, map[string]interface{}{
		RequestIDKey:         id,
		RequestMethodKey:     r.Method,
		RequestURIKey:        r.RequestURI,
		RequestRemoteAddrKey: requestutil.RemoteAddr(r),
		RequestStartedAtKey:  time.Now(),
	})

	return WithLogger(ctx, GetLogger(ctx,
		RequestIDKey,
		RequestMethodKey,
		RequestURIKey,
		RequestRemoteAddrKey))
}

// GetRequestID returns the request id stored by WithRequest, or "".
func GetRequestID(ctx context.Context) string {
	return GetStringValue(ctx, RequestIDKey)
}

// Since returns the time elapsed since the time.Time stored under key. Zero
// is returned if the key is not set.
func Since(ctx context.Context, key interface{}) time.Duration {
	if startedAt, ok := ctx.Value(key).(time.Time); ok {
		return time.Since(startedAt)
	}
	return 0
}
