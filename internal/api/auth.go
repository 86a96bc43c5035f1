package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"yugi/internal/config"

	"golang.org/x/time/rate"
)

// HTTPAuth guards API routes with per-client keys, an extra shared
// header and per-key rate limiting.
type HTTPAuth struct {
	enabled      bool
	headerAPIKey string
	headerExtra  string
	clients      map[string]config.APIClientKey
	limiters     sync.Map // api key -> *rate.Limiter
	rps          float64
	burst        int
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	clients := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		clients[k.Key] = k
	}

	rps := cfg.RateLimit.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 20
	}

	return &HTTPAuth{
		enabled:      cfg.Auth.Enabled,
		headerAPIKey: cfg.Auth.HeaderAPIKey,
		headerExtra:  cfg.Auth.HeaderExtra,
		clients:      clients,
		rps:          rps,
		burst:        burst,
	}
}

// Wrap enforces authentication, permissions and rate limits before
// passing the request to the mux.
func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get(a.headerAPIKey)
		client, ok := a.clients[apiKey]
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		if client.Extra != "" {
			extra := r.Header.Get(a.headerExtra)
			if subtle.ConstantTimeCompare([]byte(extra), []byte(client.Extra)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
		}

		if !a.limiter(apiKey).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if !a.checkPermissions(client, r) {
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) limiter(apiKey string) *rate.Limiter {
	if l, ok := a.limiters.Load(apiKey); ok {
		return l.(*rate.Limiter)
	}
	l, _ := a.limiters.LoadOrStore(apiKey, rate.NewLimiter(rate.Limit(a.rps), a.burst))
	return l.(*rate.Limiter)
}

func (a *HTTPAuth) checkPermissions(client config.APIClientKey, r *http.Request) bool {
	required := routePermission(r)
	if required == "" {
		return true
	}
	for _, p := range client.Permissions {
		if p == "*" || p == required {
			return true
		}
	}
	return false
}

// routePermission maps a request to the permission string it needs.
func routePermission(r *http.Request) string {
	path := r.URL.Path
	write := r.Method != http.MethodGet

	switch {
	case path == "/api/v1/bookings/export":
		return "export:bookings"
	case strings.HasPrefix(path, "/api/v1/bookings"):
		if write {
			return "write:bookings"
		}
		return "read:bookings"
	case strings.HasSuffix(path, "/availability"):
		return "read:availability"
	case strings.HasPrefix(path, "/api/v1/classes"):
		if write {
			return "write:classes"
		}
		return "read:classes"
	}
	return ""
}
