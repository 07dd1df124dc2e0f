package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.FortuneOpen("opened")
	m.FortuneOpen("opened")
	m.FortuneOpen("already_opened")
	m.CouponIssued("fortune")
	m.CouponUsed()
	m.StaffCodeRotated("schedule")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fortuneOpens.WithLabelValues("opened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fortuneOpens.WithLabelValues("already_opened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.couponsIssued.WithLabelValues("fortune")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.couponsUsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.codeRotations.WithLabelValues("schedule")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CheckIn("ok")
		m.FortuneOpen("opened")
		m.CouponIssued("collection")
		m.CouponUsed()
		m.StaffCodeRotated("manual")
		m.SideEffectFailed("coupon")
	})
}

func TestInstrument_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/api/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"1", "2"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/items/"+id, nil))
		require.Equal(t, http.StatusTeapot, rr.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/items/{id}", "418")))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "fortune_club_http_requests_total"))
}
