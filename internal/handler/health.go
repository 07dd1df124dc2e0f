package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthResponse is deliberately tiny: no version, no dependency list.
type healthResponse struct {
	Status string `json:"status"`
}

// HandleHealth returns 200 when db answers a ping within two seconds and
// 503 otherwise.
//
// It is mounted outside /api and outside the rate limiter, so load balancer
// health checks never count against a patron's check-in budget.
func HandleHealth(db Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// CONTEXT TIMEOUTS:
		// WithTimeout derives a context that is cancelled after 2s. A locked
		// or wedged database then fails the check instead of hanging it.
		// cancel must always be called to release the timer.
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			logger.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
