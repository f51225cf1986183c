package mw

import (
	"net/http"

	"github.com/3xpluto/batch-recorder/internal/httpx"
)

// MaxBodyBytes rejects declared oversize bodies up front and caps the rest;
// handlers see *http.MaxBytesError once the cap is crossed.
func MaxBodyBytes(limit int64, m *Metrics, next http.Handler) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > limit {
			m.Reject("too_large")
			TooLarge(w, limit)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

func TooLarge(w http.ResponseWriter, limit int64) {
	httpx.Error(w, http.StatusRequestEntityTooLarge, "request_too_large", map[string]any{
		"max_bytes": limit,
	})
}
