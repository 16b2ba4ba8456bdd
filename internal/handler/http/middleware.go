package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/quizhub/accounts/pkg/errors"
	"github.com/quizhub/accounts/pkg/httputil"
	"github.com/quizhub/accounts/pkg/middleware"
)

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// OwnAccount allows a request only when the authenticated identity matches
// the {id} URL parameter. It must run after middleware.Auth.
func OwnAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != middleware.IdentityIDFromContext(r.Context()) {
			httputil.WriteError(w, r, apperrors.Forbidden("token does not belong to this account"), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
