package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/checkin", nil)
	req.RemoteAddr = addr
	return req
}

func TestRateLimiter_BurstThen429(t *testing.T) {
	rl := NewRateLimiter(1, 2, quietLogger())
	now := time.Date(2026, 2, 20, 21, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Handler(okHandler())

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, requestFrom("10.0.0.1:5555"))
		assert.Equal(t, http.StatusOK, rr.Code, "request %d", i)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, requestFrom("10.0.0.1:6666"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code, "same IP on a different port shares a bucket")
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "too_many_requests")

	now = now.Add(time.Second)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, requestFrom("10.0.0.1:5555"))
	assert.Equal(t, http.StatusOK, rr.Code, "token refills after a second")
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(1, 1, quietLogger())
	now := time.Date(2026, 2, 20, 21, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Handler(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, requestFrom("10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, requestFrom("10.0.0.2:1"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, quietLogger())
	now := time.Date(2026, 2, 20, 21, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.limiter("10.0.0.1")
	now = now.Add(5 * time.Minute)
	rl.limiter("10.0.0.2")

	now = now.Add(6 * time.Minute)
	rl.Cleanup()
	assert.Equal(t, 1, rl.size())
}
