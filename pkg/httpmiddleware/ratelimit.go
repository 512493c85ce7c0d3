package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max is the number of requests a client may make per Window.
	// Zero disables limiting.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client; defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts matching requests from the limit.
	Skip func(*http.Request) bool
}

// SkipSafeMethods exempts GET, HEAD and OPTIONS requests.
func SkipSafeMethods(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// counter tracks one client across the current and previous fixed windows.
type counter struct {
	start time.Time
	curr  float64
	prev  float64
}

// slidingWindow weights the previous window's count by its overlap with the
// rolling window ending now.
type slidingWindow struct {
	max  int
	size time.Duration

	mu       sync.Mutex
	counters map[string]*counter
}

func newSlidingWindow(max int, size time.Duration) *slidingWindow {
	return &slidingWindow{max: max, size: size, counters: make(map[string]*counter)}
}

// take consumes one request for key if allowed.
func (s *slidingWindow) take(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[key]
	if c == nil {
		c = &counter{start: now.Truncate(s.size)}
		s.counters[key] = c
	}
	if elapsed := now.Sub(c.start); elapsed >= s.size {
		if elapsed >= 2*s.size {
			c.prev = 0
		} else {
			c.prev = c.curr
		}
		c.curr = 0
		c.start = now.Truncate(s.size)
	}

	overlap := 1 - float64(now.Sub(c.start))/float64(s.size)
	estimate := c.prev*math.Max(overlap, 0) + c.curr
	reset = c.start.Add(s.size)
	if estimate >= float64(s.max) {
		return 0, reset, false
	}
	c.curr++
	return max(s.max-int(math.Ceil(estimate+1)), 0), reset, true
}

// evict drops clients idle for two full windows.
func (s *slidingWindow) evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.counters {
		if now.Sub(c.start) >= 2*s.size {
			delete(s.counters, key)
		}
	}
}

func (s *slidingWindow) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// RateLimit returns a middleware answering 429 once a client exceeds the
// configured rate. Idle clients are evicted in the background until ctx is
// done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	limiter := newSlidingWindow(cfg.Max, cfg.Window)
	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limiter.evict(now)
			}
		}
	}()

	limit := strconv.Itoa(cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			remaining, reset, ok := limiter.take(cfg.KeyFunc(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := math.Ceil(max(time.Until(reset), 0).Seconds())
				h.Set("Retry-After", strconv.Itoa(int(wait)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// host, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
