package auth

import "context"

type claimsContextKey struct{}
type bundleContextKey struct{}

// ContextWithClaims attaches verified claims to ctx.
func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// ClaimsFromContext extracts auth claims from the context, if present.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return c, ok && c != nil
}

// ContextWithBundle stores the raw, unverified credential bundle. The live
// channel verifies it itself because an unauthenticated connection is still
// allowed to connect.
func ContextWithBundle(ctx context.Context, bundle string) context.Context {
	if bundle == "" {
		return ctx
	}
	return context.WithValue(ctx, bundleContextKey{}, bundle)
}

// BundleFromContext returns the raw credential bundle if one was attached.
func BundleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(bundleContextKey{}).(string)
	return v, ok && v != ""
}
