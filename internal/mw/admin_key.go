package mw

import (
	"crypto/subtle"
	"net/http"

	"github.com/3xpluto/batch-recorder/internal/httpx"
)

const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey hides the wrapped handler entirely when no key is set,
// so unconfigured admin paths look like any other unknown path.
func RequireAdminKey(adminKey string, next http.Handler) http.Handler {
	if adminKey == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			httpx.Error(w, http.StatusNotFound, "not_found", nil)
		})
	}

	want := []byte(adminKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(AdminKeyHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			httpx.Error(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
