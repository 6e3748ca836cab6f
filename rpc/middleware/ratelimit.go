package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"usvchain/observability"
)

const visitorIdleTTL = 5 * time.Minute

// RateLimit configures a token bucket per client.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one limiter per (route, client) pair.
type RateLimiter struct {
	logger       *slog.Logger
	limits       map[string]RateLimit
	trustProxies bool

	mu       sync.Mutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
}

func NewRateLimiter(limits map[string]RateLimit, trustProxies bool, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		logger:       logger,
		limits:       limits,
		trustProxies: trustProxies,
		visitors:     make(map[string]*rateEntry),
		clockNow:     time.Now,
	}
}

// Allow reports whether the client identified by r may proceed on route.
// Routes without a configured limit are always allowed.
func (r *RateLimiter) Allow(route string, req *http.Request) bool {
	if r == nil {
		return true
	}
	limit, ok := r.limits[route]
	if !ok {
		return true
	}
	client := ClientID(req, r.trustProxies)
	if r.obtainLimiter(route+"|"+client, limit).Allow() {
		return true
	}
	observability.ModuleMetrics().RecordThrottle(route, "rate_limit")
	r.logger.Debug("rate limit exceeded", slog.String("route", route), slog.String("client", client))
	return false
}

func (r *RateLimiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.Allow(route, req) {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtainLimiter(id string, cfg RateLimit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	for key, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > visitorIdleTTL {
			delete(r.visitors, key)
		}
	}
	if entry, ok := r.visitors[id]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	perSecond := cfg.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	r.visitors[id] = &rateEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// ClientID identifies the caller. Forwarding headers are honoured only when
// trustProxies is set.
func ClientID(r *http.Request, trustProxies bool) string {
	if trustProxies {
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
			if parsed := net.ParseIP(first); parsed != nil {
				return parsed.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
