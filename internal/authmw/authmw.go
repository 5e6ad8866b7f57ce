// Package authmw provides HTTP middleware for bearer token authentication
// with named principals, so handlers can attribute writes to a caller.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type principalKey struct{}

// Principal returns the authenticated caller name, or "" when the request
// did not pass through the middleware.
func Principal(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// BearerTokens returns middleware that validates the Authorization header
// against the token -> principal map. Comparison uses constant-time
// equality to prevent timing side-channel attacks; every configured token
// is compared on every request so timing does not leak which one matched.
func BearerTokens(tokens map[string]string) func(http.Handler) http.Handler {
	type cred struct {
		token     []byte
		principal string
	}
	creds := make([]cred, 0, len(tokens))
	for tok, name := range tokens {
		creds = append(creds, cred{token: []byte(tok), principal: name})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := []byte(auth[len("Bearer "):])

			matched := ""
			for _, c := range creds {
				if subtle.ConstantTimeCompare(got, c.token) == 1 {
					matched = c.principal
				}
			}
			if matched == "" {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, matched)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken returns middleware for a single anonymous token.
func BearerToken(token string) func(http.Handler) http.Handler {
	return BearerTokens(map[string]string{token: "api"})
}
