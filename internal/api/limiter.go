package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"servicehub/internal/config"

	"golang.org/x/time/rate"
)

const (
	defaultBurst = 5

	// scopePublic buckets routes that need no permission.
	scopePublic = "public"
)

// rateLimiter keeps one token bucket per permission scope and client.
// rate_limit.scopes overrides the default limit for a scope; an override
// with rps 0 leaves that scope unlimited.
type rateLimiter struct {
	limiters sync.Map
	cfg      config.APIRateLimitConfig
}

func newRateLimiter(cfg config.APIRateLimitConfig) *rateLimiter {
	return &rateLimiter{cfg: cfg}
}

func (l *rateLimiter) limitFor(scope string) (rate.Limit, int, bool) {
	rps, burst := l.cfg.RPS, l.cfg.Burst
	if override, ok := l.cfg.Scopes[scope]; ok {
		rps, burst = override.RPS, override.Burst
	}
	if rps <= 0 {
		return 0, 0, false
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return rate.Limit(rps), burst, true
}

// allow takes a token from the client's bucket for scope.
func (l *rateLimiter) allow(client, scope string) bool {
	limit, burst, ok := l.limitFor(scope)
	if !ok {
		return true
	}

	key := scope + "|" + client
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter).Allow()
	}
	actual, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(limit, burst))
	return actual.(*rate.Limiter).Allow()
}

func scopeOf(permission string) string {
	if permission == "" {
		return scopePublic
	}
	return permission
}

// clientKey prefers the API key and falls back to the remote host.
func clientKey(r *http.Request, apiKeyHeader string) string {
	if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
