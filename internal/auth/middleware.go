package auth

import (
	"context"
	"net/http"
	"strings"
)

// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue compares keys by type and value. A plain string key
// "identity" could collide with any other package using the same string; an
// unexported type cannot be produced outside this package at all.
type contextKey string

const identityKey contextKey = "identity"

// CookieName is the session cookie set by the check-in and admin login
// handlers.
const CookieName = "token"

// RequireAuth rejects requests without a valid token.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return require(tokens, func(Identity) bool { return true })
}

// RequireAdmin rejects requests without a valid admin token.
func RequireAdmin(tokens *TokenService) func(http.Handler) http.Handler {
	return require(tokens, Identity.IsAdmin)
}

// require builds the middleware shared by RequireAuth and RequireAdmin.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes the next handler and returns a handler wrapping it:
//
//	func(next http.Handler) http.Handler
//
// chi's r.Use and r.With accept exactly this shape. A request that fails
// the check is answered here and never reaches next.
//
// 401 means "we do not know who you are" (no token, bad signature, expired).
// 403 means "we know, and the answer is no" (a patron token on /admin).
func require(tokens *TokenService, allow func(Identity) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := extractIdentity(r, tokens)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}
			if !allow(id) {
				writeAuthError(w, http.StatusForbidden, "forbidden", "admin access required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity stores id in ctx. Handler tests use it to skip the middleware.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity placed by RequireAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.Subject != ""
}

// HandleFromContext returns the patron handle of the caller. Admin tokens
// carry no handle, so staff cannot call patron endpoints as "admin".
func HandleFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.IsAdmin() {
		return "", false
	}
	return id.Subject, true
}

// extractIdentity prefers the Authorization header over the cookie.
//
// COOKIE FLOW:
// The browser app never touches the token. The check-in response sets it as
// an HttpOnly cookie and the browser sends it back on every same-site
// request. Scripts and the integration tests send the same token as
// "Authorization: Bearer <jwt>" instead.
func extractIdentity(r *http.Request, tokens *TokenService) (Identity, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return Identity{}, ErrTokenInvalid
		}
		return tokens.Validate(strings.TrimSpace(raw))
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Identity{}, err
	}
	return tokens.Validate(cookie.Value)
}

// writeAuthError matches handler.writeError's body shape without importing
// the handler package.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `","message":"` + message + `"}`))
}
