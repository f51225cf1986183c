// Package recorder serves the batch endpoint and keeps the batch log.
package recorder

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/3xpluto/batch-recorder/internal/batchlog"
	"github.com/3xpluto/batch-recorder/internal/config"
	"github.com/3xpluto/batch-recorder/internal/httpx"
	"github.com/3xpluto/batch-recorder/internal/mw"
	"github.com/3xpluto/batch-recorder/internal/ratelimit"
)

// Options configures the optional surfaces around the two public routes.
// The zero value serves /healthz and /api/batch with no admission controls.
type Options struct {
	Logger  *slog.Logger
	Metrics *mw.Metrics

	MaxBodyBytes int64
	MaxInFlight  int

	Limiter    ratelimit.Limiter // nil disables rate limiting
	RateLimit  mw.RateLimitConfig
	IPResolver mw.IPResolver

	Auth mw.AuthHandler // nil disables bearer auth

	AdminKey   string
	ListenAddr string

	// MetricsHandler is mounted at MetricsPath when both are set.
	MetricsHandler http.Handler
	MetricsPath    string
}

type Recorder struct {
	batches   *batchlog.Log
	opts      Options
	log       *slog.Logger
	startedAt time.Time

	health   http.Handler
	submit   http.Handler
	notFound http.Handler
	metrics  http.Handler
	admin    map[string]http.Handler
}

func New(batches *batchlog.Log, opts Options) *Recorder {
	if batches == nil {
		batches = batchlog.New()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	rc := &Recorder{
		batches:   batches,
		opts:      opts,
		log:       log,
		startedAt: time.Now(),
	}

	rc.health = rc.wrap("healthz", http.HandlerFunc(rc.handleHealth))
	rc.notFound = rc.wrap("not_found", http.HandlerFunc(rc.handleNotFound))

	// Auth runs before the limiter so authenticated callers are limited by
	// subject rather than by address.
	var submit http.Handler = http.HandlerFunc(rc.handleSubmit)
	submit = mw.ConcurrencyLimit(mw.NewSemaphore(opts.MaxInFlight), opts.Metrics, submit)
	if opts.Limiter != nil {
		rl := opts.RateLimit
		rl.RouteName = "batch"
		submit = mw.RateLimit(opts.Limiter, opts.IPResolver, rl, log, opts.Metrics, submit)
	}
	submit = mw.RequireAuth(opts.Auth, opts.Metrics, submit)
	submit = mw.MaxBodyBytes(opts.MaxBodyBytes, opts.Metrics, submit)
	rc.submit = rc.wrap("batch", submit)

	if opts.MetricsHandler != nil && opts.MetricsPath != "" {
		rc.metrics = rc.wrap("metrics", opts.MetricsHandler)
	}

	rc.admin = map[string]http.Handler{
		config.AdminPrefix + "status":         rc.wrapAdmin("admin_status", http.HandlerFunc(rc.handleStatus)),
		config.AdminPrefix + "batches":        rc.wrapAdmin("admin_batches", http.HandlerFunc(rc.handleListBatches)),
		config.AdminPrefix + "batches/latest": rc.wrapAdmin("admin_latest", http.HandlerFunc(rc.handleLatestBatch)),
		config.AdminPrefix + "openapi.yaml":   rc.wrapAdmin("admin_openapi", http.HandlerFunc(rc.handleOpenAPI)),
	}
	return rc
}

// Batches exposes the log the recorder appends to.
func (rc *Recorder) Batches() *batchlog.Log { return rc.batches }

// wrap applies the cross-cutting middleware, outermost first.
func (rc *Recorder) wrap(route string, h http.Handler) http.Handler {
	h = mw.Recover(rc.log, h)
	h = mw.AccessLog(rc.log, h)
	h = mw.Instrument(rc.opts.Metrics, h)
	h = mw.WithRoute(h, route)
	h = mw.RequestID(h)
	return h
}

func (rc *Recorder) wrapAdmin(route string, h http.Handler) http.Handler {
	return rc.wrap(route, mw.RequireAdminKey(rc.opts.AdminKey, h))
}

func (rc *Recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc.route(r).ServeHTTP(w, r)
}

func (rc *Recorder) route(r *http.Request) http.Handler {
	p := r.URL.Path
	switch {
	case p == config.HealthPath:
		if r.Method == http.MethodGet {
			return rc.health
		}
	case p == config.BatchPath:
		if r.Method == http.MethodPost {
			return rc.submit
		}
	case rc.metrics != nil && p == rc.opts.MetricsPath:
		if r.Method == http.MethodGet {
			return rc.metrics
		}
	case strings.HasPrefix(p, config.AdminPrefix):
		if h, ok := rc.admin[p]; ok && r.Method == http.MethodGet {
			return h
		}
	}
	return rc.notFound
}

type healthResponse struct {
	OK      bool `json:"ok"`
	Batches int  `json:"batches"`
}

func (rc *Recorder) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, healthResponse{OK: true, Batches: rc.batches.Len()})
}

type submitResponse struct {
	Status       string `json:"status"`
	Received     int    `json:"received"`
	TotalBatches int    `json:"total_batches"`
}

func (rc *Recorder) handleSubmit(w http.ResponseWriter, r *http.Request) {
	items, size, err := readBatch(r)
	if err != nil {
		rc.reject(w, r, err)
		return
	}

	b, total := rc.batches.Append(items, size)
	rc.opts.Metrics.ObserveBatch(size)

	rc.log.Info("received batch",
		slog.String("rid", mw.RID(r.Context())),
		slog.String("batch_id", b.ID),
		slog.Int("seq", b.Seq),
		slog.Int("bytes", size),
		slog.Int("total_batches", total),
	)
	rc.log.Debug("batch payload",
		slog.String("batch_id", b.ID),
		slog.String("items", string(b.Items)),
	)

	// received counts the fields of the stored record, which only has items.
	httpx.WriteJSON(w, http.StatusOK, submitResponse{Status: "ok", Received: 1, TotalBatches: total})
}

func (rc *Recorder) reject(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *tooLargeError
	if errors.As(err, &tooLarge) {
		rc.opts.Metrics.Reject("too_large")
		mw.TooLarge(w, tooLarge.limit)
		return
	}

	status, code := classify(err)
	rc.opts.Metrics.Reject(code)
	rc.log.Warn("rejected batch",
		slog.String("rid", mw.RID(r.Context())),
		slog.String("reason", code),
		slog.String("error", err.Error()),
	)
	httpx.Error(w, status, code, nil)
}

func (rc *Recorder) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	status, code := classify(ErrNotFound)
	httpx.Error(w, status, code, nil)
}
