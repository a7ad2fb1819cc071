package teamguard

import "context"

type identityContextKey struct{}
type requestInfoContextKey struct{}

// WithIdentity attaches the authenticated identity to ctx. Protected handlers read it
// back with [IdentityFromContext].
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity stored by [WithIdentity].
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// WithRequestInfo attaches the request context extracted by the HTTP adapter, so
// handlers can call engine operations without re-reading the request.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey{}, info)
}

// RequestInfoFromContext returns the value stored by [WithRequestInfo].
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	if ctx == nil {
		return RequestInfo{}
	}
	info, _ := ctx.Value(requestInfoContextKey{}).(RequestInfo)
	return info
}
