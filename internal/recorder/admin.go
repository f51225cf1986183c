package recorder

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/3xpluto/batch-recorder/internal/batchlog"
	"github.com/3xpluto/batch-recorder/internal/contract"
	"github.com/3xpluto/batch-recorder/internal/httpx"
)

func (rc *Recorder) handleStatus(w http.ResponseWriter, _ *http.Request) {
	goVer := ""
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		goVer = info.GoVersion
	}
	backend := "disabled"
	if rc.opts.Limiter != nil {
		backend = rc.opts.Limiter.Backend()
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"time_utc":           time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":     int(time.Since(rc.startedAt).Seconds()),
		"listen_addr":        rc.opts.ListenAddr,
		"go_version":         goVer,
		"batches":            rc.batches.Len(),
		"rate_limit_backend": backend,
		"auth_enabled":       rc.opts.Auth != nil,
	})
}

type batchList struct {
	Total   int              `json:"total"`
	Batches []batchlog.Batch `json:"batches"`
}

func (rc *Recorder) handleListBatches(w http.ResponseWriter, r *http.Request) {
	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.Error(w, http.StatusBadRequest, "invalid_since", nil)
			return
		}
		since = n
	}
	total, batches := rc.batches.Snapshot(since)
	httpx.WriteJSON(w, http.StatusOK, batchList{Total: total, Batches: batches})
}

func (rc *Recorder) handleLatestBatch(w http.ResponseWriter, _ *http.Request) {
	b, ok := rc.batches.Latest()
	if !ok {
		rc.handleNotFound(w, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (rc *Recorder) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(contract.Document())
}
