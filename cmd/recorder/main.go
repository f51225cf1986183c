package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3xpluto/batch-recorder/internal/batchlog"
	"github.com/3xpluto/batch-recorder/internal/config"
	"github.com/3xpluto/batch-recorder/internal/logging"
	"github.com/3xpluto/batch-recorder/internal/mw"
	"github.com/3xpluto/batch-recorder/internal/netx"
	"github.com/3xpluto/batch-recorder/internal/ratelimit"
	"github.com/3xpluto/batch-recorder/internal/recorder"
)

func main() {
	var configPath, addr string
	var validateOnly bool
	flag.StringVar(&configPath, "config", "", "path to yaml config (optional)")
	flag.StringVar(&addr, "addr", "", "listen address, overrides config and RECORDER_ADDR")
	flag.BoolVar(&validateOnly, "validate-config", false, "validate config and exit")
	flag.Parse()

	boot := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		boot.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		boot.Error("invalid log config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if validateOnly {
		log.Info("config ok")
		return
	}

	batches := batchlog.New()

	// ---- Metrics
	opts := recorder.Options{
		Logger:       log,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		MaxInFlight:  cfg.Server.MaxInFlight,
		AdminKey:     cfg.Admin.Key,
		ListenAddr:   cfg.Server.Addr,
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "batchrec_batches",
				Help: "Batches currently held in the log",
			}, func() float64 { return float64(batches.Len()) }),
		)
		opts.Metrics = mw.NewMetrics(reg)
		opts.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		opts.MetricsPath = cfg.Metrics.Path
	}

	// ---- Rate limiter backend
	if cfg.RateLimit.Enabled {
		rl := cfg.RateLimit
		limiter := ratelimit.Open(context.Background(), ratelimit.BackendConfig{
			Backend:       rl.Backend,
			RedisAddr:     rl.Redis.Addr,
			RedisPassword: rl.Redis.Password,
			RedisDB:       rl.Redis.DB,
			TTL:           time.Duration(rl.Memory.TTLSeconds) * time.Second,
			CleanupEvery:  time.Duration(rl.Memory.CleanupSeconds) * time.Second,
		}, 2*time.Second, log)
		defer limiter.Close()
		opts.Limiter = limiter
		opts.RateLimit = mw.RateLimitConfig{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst}
	}
	trusted, err := netx.ParsePrefixSet(cfg.Server.TrustedProxies)
	if err != nil {
		log.Error("invalid trusted_proxies", slog.String("error", err.Error()))
		os.Exit(1)
	}
	opts.IPResolver = mw.IPResolver{Trusted: trusted}

	// ---- Auth handler
	if cfg.Auth.HMACSecret != "" {
		opts.Auth = mw.Authenticator{Secret: []byte(cfg.Auth.HMACSecret)}
	}

	rc := recorder.New(batches, opts)

	ln, err := recorder.Listen(cfg.Server.Addr)
	if err != nil {
		log.Error("failed to bind", slog.String("addr", cfg.Server.Addr), slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := recorder.NewHTTPServer(cfg.Server, rc)
	if err := recorder.Serve(ctx, srv, ln, cfg.Server.ShutdownTimeout(), log); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("shutdown complete", slog.Int("batches", batches.Len()))
}
