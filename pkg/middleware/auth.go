package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/quizhub/accounts/pkg/httputil"
	"github.com/quizhub/accounts/pkg/logger"
)

// Claims are the session token claims the auth middleware relies on.
type Claims struct {
	IdentityID string
	Email      string
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// Auth rejects requests without a valid bearer token and records the
// identity in the context (see IdentityIDFromContext).
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				writeAuthError(w, "missing or malformed authorization header")
				return
			}

			claims, err := validate(strings.TrimSpace(token))
			if err != nil || claims.IdentityID == "" {
				writeAuthError(w, "invalid or expired token")
				return
			}

			ctx := logger.WithIdentityID(r.Context(), claims.IdentityID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityIDFromContext returns the authenticated identity ID, or "".
func IdentityIDFromContext(ctx context.Context) string {
	return logger.IdentityIDFromContext(ctx)
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="accounts"`)
	httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: message},
	})
}
