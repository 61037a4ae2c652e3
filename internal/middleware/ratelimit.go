package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// bucket is the token bucket of a single client IP.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// exemptPaths are never rate limited.
var exemptPaths = map[string]bool{
	"/api/health": true,
}

// RateLimiter limits requests per client IP with a token bucket.
type RateLimiter struct {
	buckets sync.Map // IP -> *bucket
	rate    float64  // tokens added per second
	burst   int      // bucket capacity
	idleTTL time.Duration

	done chan struct{}
	once sync.Once
}

// NewRateLimiter creates a limiter allowing rate requests per second with the
// given burst, and starts a janitor that forgets idle clients. Call Stop when
// the server shuts down.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	l := &RateLimiter{
		rate:    rate,
		burst:   burst,
		idleTTL: 10 * time.Minute,
		done:    make(chan struct{}),
	}
	go l.cleanup(5 * time.Minute)
	return l
}

// Handler wraps next with the limit.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		allowed, remaining, retryAfter := l.allow(ip, time.Now())

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeDetail(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *RateLimiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

// allow refills the bucket for ip and tries to take one token. It returns
// whether the request may proceed, the whole tokens left, and when refused
// the seconds until a token is available.
func (l *RateLimiter) allow(ip string, now time.Time) (bool, int, int) {
	val, _ := l.buckets.LoadOrStore(ip, &bucket{
		tokens:     float64(l.burst),
		lastRefill: now,
	})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(float64(l.burst), b.tokens+elapsed*l.rate)
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true, int(math.Floor(b.tokens)), 0
	}

	wait := int(math.Ceil((1.0 - b.tokens) / l.rate))
	if wait < 1 {
		wait = 1
	}
	return false, 0, wait
}

func (l *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			l.evictIdle(now)
		case <-l.done:
			return
		}
	}
}

func (l *RateLimiter) evictIdle(now time.Time) {
	threshold := now.Add(-l.idleTTL)
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := b.lastRefill.Before(threshold)
		b.mu.Unlock()
		if idle {
			l.buckets.Delete(key)
		}
		return true
	})
}

// clientIP prefers X-Forwarded-For and X-Real-IP (reverse proxy setups) and
// falls back to RemoteAddr without the port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
