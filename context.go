package portalauth

import "context"

// requestMeta is per-request caller information copied into rate-limit keys
// and audit records.
type requestMeta struct {
	clientIP  string
	requestID string
}

type requestMetaKey struct{}

func requestMetaFrom(ctx context.Context) requestMeta {
	if ctx == nil {
		return requestMeta{}
	}
	m, _ := ctx.Value(requestMetaKey{}).(requestMeta)
	return m
}

func withRequestMeta(ctx context.Context, edit func(*requestMeta)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	m := requestMetaFrom(ctx)
	edit(&m)
	return context.WithValue(ctx, requestMetaKey{}, m)
}

// WithClientIP attaches the caller's IP address to ctx. Per-IP login and
// reset limits key on it; without one only the per-identifier limits apply.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return withRequestMeta(ctx, func(m *requestMeta) { m.clientIP = ip })
}

// WithRequestID tags audit records emitted under ctx with a transport
// request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withRequestMeta(ctx, func(m *requestMeta) { m.requestID = id })
}

func clientIPFromContext(ctx context.Context) string {
	return requestMetaFrom(ctx).clientIP
}
