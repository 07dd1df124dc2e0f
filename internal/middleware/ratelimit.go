package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP. It guards the routes
// where a 4-digit secret is guessed: check-in and admin login.
//
// TOKEN BUCKETS:
// Each IP gets a bucket holding up to burst tokens that refills at rps per
// second. A request takes one token or is refused with 429:
//
//	burst 5, rps 1:  5 quick attempts pass, then 1 per second
//
// With the defaults, trying all 10,000 PINs for one handle from one IP takes
// close to three hours, and every failed attempt is logged.
//
// MEMORY:
// Buckets live in a map keyed by IP. StartCleanup drops buckets idle for ten
// minutes so a crowd of one-time visitors does not grow the map forever.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
	logger   *slog.Logger
	// now is time.Now outside tests; tests pin it to drive refills.
	now func() time.Time
}

// visitor pairs a bucket with the last time it was used, for Cleanup.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per IP with the given burst.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		logger:   logger,
		now:      time.Now,
	}
}

// limiter returns key's bucket, creating it full on first sight.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	// MUTEX:
	// Many requests hit the map at once, and Go maps are not safe for
	// concurrent writes. The lock only covers the map lookup; the
	// rate.Limiter it returns has its own lock.
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Handler rejects requests over the limit with 429 and a JSON body.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		lim := rl.limiter(key)

		// AllowN never blocks: it takes a token if one is there and reports
		// whether it did. A patron retrying too fast gets an answer at once.
		if !lim.AllowN(rl.now(), 1) {
			rl.logger.Warn("rate limit exceeded",
				slog.String("client", key),
				slog.String("path", r.URL.Path),
			)
			// middleware does not import handler, so the body is spelled out;
			// its shape matches handler.ErrorResponse.
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too_many_requests","message":"too many attempts, slow down"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds is the time for one token to refill, rounded up.
func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.rate <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(rl.rate))))
}

// Cleanup drops buckets idle for longer than the idle window.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	for key, v := range rl.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	// The goroutine exits when ctx is cancelled, which server.Start does on
	// shutdown. ticker.Stop releases the ticker's resources.
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}

// size reports the number of tracked IPs. Tests use it to check Cleanup.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// clientIP expects chi's RealIP to have normalised RemoteAddr.
func clientIP(r *http.Request) string {
	// RemoteAddr is "ip:port". After RealIP it may be a bare IP from
	// X-Forwarded-For, which SplitHostPort rejects; use it whole then.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
