package mw

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/3xpluto/batch-recorder/internal/httpx"
)

// Recover turns a handler panic into a 500 so one bad request cannot take
// the process down. http.ErrAbortHandler is re-raised for net/http.
func Recover(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error("handler panic",
				slog.String("rid", RID(r.Context())),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			httpx.Error(w, http.StatusInternalServerError, "internal_error", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
