// Package identity resolves who is behind a request. Sessions of unidentified
// callers are neither advanced nor resumed.
package identity

import (
	"context"
	"net/http"
	"strings"
)

type Identity struct {
	UserID string `json:"user_id"`
}

// Resolver returns the identity of the caller, or false when there is none.
type Resolver interface {
	Resolve(ctx context.Context) (Identity, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (Identity, bool)

func (f ResolverFunc) Resolve(ctx context.Context) (Identity, bool) { return f(ctx) }

// Static resolves every caller to the same user. An empty user id resolves nobody.
type Static string

func (s Static) Resolve(context.Context) (Identity, bool) {
	if s == "" {
		return Identity{}, false
	}
	return Identity{UserID: string(s)}, true
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

// ContextResolver resolves the identity attached with WithIdentity.
type ContextResolver struct{}

func (ContextResolver) Resolve(ctx context.Context) (Identity, bool) { return FromContext(ctx) }

// HeaderUserID is the request header the HTTP middleware reads the user id from.
const HeaderUserID = "X-User-ID"

// Middleware attaches the identity carried in the X-User-ID header to the request
// context. Requests without the header pass through unidentified.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid := strings.TrimSpace(r.Header.Get(HeaderUserID)); uid != "" {
			r = r.WithContext(WithIdentity(r.Context(), Identity{UserID: uid}))
		}
		next.ServeHTTP(w, r)
	})
}

var _ Resolver = Static("")
var _ Resolver = ContextResolver{}
