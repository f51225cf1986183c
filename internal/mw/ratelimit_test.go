package mw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3xpluto/batch-recorder/internal/logging"
	"github.com/3xpluto/batch-recorder/internal/netx"
	"github.com/3xpluto/batch-recorder/internal/ratelimit"
)

func TestIPResolverTrustedProxyUsesXFF(t *testing.T) {
	set, err := netx.ParsePrefixSet([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	r := IPResolver{Trusted: set}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.1.2.3")

	require.Equal(t, "203.0.113.9", r.ClientIP(req))
}

func TestIPResolverTrustedProxyFallsBackToRealIP(t *testing.T) {
	set, err := netx.ParsePrefixSet([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	r := IPResolver{Trusted: set}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	req.Header.Set("X-Forwarded-For", "garbage")
	req.Header.Set("X-Real-Ip", "198.51.100.4")

	require.Equal(t, "198.51.100.4", r.ClientIP(req))
}

func TestIPResolverUntrustedIgnoresXFF(t *testing.T) {
	set, err := netx.ParsePrefixSet([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	r := IPResolver{Trusted: set}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	require.Equal(t, "192.168.1.5", r.ClientIP(req))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, ratelimit.Rule) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}
func (failingLimiter) Backend() string { return "redis" }
func (failingLimiter) Close() error    { return nil }

func TestRateLimitRejectsAfterBurst(t *testing.T) {
	lim := ratelimit.NewMemoryLimiter(time.Minute, time.Hour)
	defer lim.Close()

	h := RateLimit(lim, IPResolver{}, RateLimitConfig{RPS: 0.001, Burst: 2, RouteName: "batch"}, logging.Discard(), nil, okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/batch", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)

		if rec.Code == http.StatusTooManyRequests {
			require.NotEmpty(t, rec.Header().Get("Retry-After"))
			require.Contains(t, rec.Body.String(), `"error":"rate_limited"`)
		}
	}
	require.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimitUsesSubjectWhenAuthenticated(t *testing.T) {
	lim := ratelimit.NewMemoryLimiter(time.Minute, time.Hour)
	defer lim.Close()

	inner := RateLimit(lim, IPResolver{}, RateLimitConfig{RPS: 0.001, Burst: 1, RouteName: "batch"}, logging.Discard(), nil, okHandler())
	h := RequireAuth(stubAuth{}, nil, inner)

	for _, sub := range []string{"alice", "bob"} {
		req := httptest.NewRequest(http.MethodPost, "/api/batch", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		req.Header.Set("Authorization", "Bearer "+sub)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, sub)
		require.Equal(t, "user", rec.Header().Get("X-RateLimit-Scope"))
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(failingLimiter{}, IPResolver{}, RateLimitConfig{RPS: 1, Burst: 1}, logging.Discard(), nil, okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batch", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTrimFloat(t *testing.T) {
	require.Equal(t, "5", trimFloat(5))
	require.Equal(t, "0.5", trimFloat(0.5))
	require.Equal(t, "0", trimFloat(0))
	require.Equal(t, "1.25", trimFloat(1.2500001))
}
