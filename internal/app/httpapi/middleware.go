package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/windrunne/6ix-app/pkg/logger"
)

// IPThrottle smooths bursts per caller address ahead of the quota engine.
// It is a transport guard, not a business rule: the sliding-window quotas
// in ratelimit stay authoritative.
type IPThrottle struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
	log      *logger.Logger
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPThrottle creates a throttle allowing requestsPerSecond with the
// given burst per client IP.
func NewIPThrottle(requestsPerSecond float64, burst int, log *logger.Logger) *IPThrottle {
	if log == nil {
		log = logger.NewDefault("ip-throttle")
	}
	return &IPThrottle{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		log:      log,
	}
}

func (t *IPThrottle) getLimiter(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Handler returns the throttling middleware.
func (t *IPThrottle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if !t.getLimiter(ip).Allow() {
			t.log.WithField("ip", ip).WithField("path", r.URL.Path).Warn("ip throttle rejected request")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops limiters for addresses idle longer than maxIdle.
func (t *IPThrottle) Cleanup(maxIdle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for ip, entry := range t.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(t.limiters, ip)
		}
	}
}
