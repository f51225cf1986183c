package mw

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/3xpluto/batch-recorder/internal/httpx"
	"github.com/3xpluto/batch-recorder/internal/netx"
	"github.com/3xpluto/batch-recorder/internal/ratelimit"
)

type RateLimitConfig struct {
	RPS       float64
	Burst     float64
	RouteName string
}

type IPResolver struct {
	Trusted *netx.PrefixSet
}

// ClientIP honours X-Forwarded-For and X-Real-Ip only when the direct peer
// is a trusted proxy.
func (r IPResolver) ClientIP(req *http.Request) string {
	remote := parseRemoteAddr(req.RemoteAddr)
	if remote.IsValid() && r.Trusted.Contains(remote) {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return ip.Unmap().String()
			}
		}
		if ip, err := netip.ParseAddr(strings.TrimSpace(req.Header.Get("X-Real-Ip"))); err == nil {
			return ip.Unmap().String()
		}
	}
	if remote.IsValid() {
		return remote.String()
	}
	return req.RemoteAddr
}

func parseRemoteAddr(remoteAddr string) netip.Addr {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return ip.Unmap()
}

// RateLimit keys buckets by authenticated subject when there is one and by
// client IP otherwise. Limiter errors fail open.
func RateLimit(limiter ratelimit.Limiter, ipr IPResolver, cfg RateLimitConfig, log *slog.Logger, m *Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	rule := ratelimit.Rule{RPS: cfg.RPS, Burst: cfg.Burst, Cost: 1}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := cfg.RouteName + ":"
		actor := "ip"
		if sub, ok := Subject(r.Context()); ok {
			key += "u:" + sub
			actor = "user"
		} else {
			key += "ip:" + ipr.ClientIP(r)
		}

		dec, err := limiter.Allow(r.Context(), key, rule)
		if err != nil {
			log.Warn("rate limiter unavailable",
				slog.String("backend", limiter.Backend()),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Scope", actor)
		w.Header().Set("X-RateLimit-Limit-RPS", trimFloat(cfg.RPS))
		w.Header().Set("X-RateLimit-Burst", trimFloat(cfg.Burst))
		w.Header().Set("X-RateLimit-Remaining", trimFloat(dec.Remaining))

		if !dec.Allowed {
			retry := dec.RetryAfterSeconds
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(retry)*time.Second).Unix(), 10))
			m.Reject("rate_limited")
			httpx.Error(w, http.StatusTooManyRequests, "rate_limited", map[string]any{
				"scope":               actor,
				"retry_after_seconds": retry,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func trimFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		s = "0"
	}
	return s
}
