package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenVerifier checks a session token and returns the wallet it was issued
// for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type walletKey struct{}

// WithWallet returns a context carrying the authenticated wallet.
func WithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, walletKey{}, wallet)
}

// WalletFrom returns the authenticated wallet, or "" when the request was not
// authenticated.
func WalletFrom(ctx context.Context) string {
	w, _ := ctx.Value(walletKey{}).(string)
	return w
}

// Auth returns middleware that requires a valid wallet session token in the
// Authorization header (Bearer scheme) and stores the wallet in the request
// context.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			wallet, err := verifier.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithWallet(r.Context(), wallet)))
		})
	}
}

// AdminOnly returns middleware that requires the static admin token in the
// X-Admin-Token header. An empty adminToken disables every admin route.
func AdminOnly(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				writeError(w, http.StatusForbidden, "admin api disabled")
				return
			}
			got := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
			if subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
				writeError(w, http.StatusForbidden, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a Bearer token in the Authorization header, then in
// the token query parameter used by browser websocket clients.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
