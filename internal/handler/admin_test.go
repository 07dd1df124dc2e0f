package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/auth"
	"github.com/sakif/fortune-club/internal/handler"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/service"
)

func TestAdminHandler_HandleLogin(t *testing.T) {
	logger := testLogger()

	t.Run("success", func(t *testing.T) {
		mock := &MockAdminService{ReturnToken: "admin-token"}
		h := handler.NewAdminHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleLogin(rr, newRequest(http.MethodPost, "/api/admin/login", `{"password":"staff-only"}`, nobody))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "staff-only", mock.CapturedPassword)
		assert.JSONEq(t, `{"token":"admin-token"}`, rr.Body.String())

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, auth.CookieName, cookies[0].Name)
		assert.Equal(t, int(auth.DefaultAdminTTL.Seconds()), cookies[0].MaxAge)
	})

	t.Run("wrong password", func(t *testing.T) {
		mock := &MockAdminService{ReturnErr: apperror.Unauthorized("invalid admin password")}
		h := handler.NewAdminHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleLogin(rr, newRequest(http.MethodPost, "/api/admin/login", `{"password":"guess"}`, nobody))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, rr.Result().Cookies())
	})
}

func TestAdminHandler_Config(t *testing.T) {
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	cfg := model.DefaultAdminConfig("4821", now)

	t.Run("admin view includes staff code", func(t *testing.T) {
		h := handler.NewAdminHandler(&MockAdminService{ReturnConfig: cfg}, testLogger())

		rr := httptest.NewRecorder()
		h.HandleGetConfig(rr, newRequest(http.MethodGet, "/api/admin/config", "", staff))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"dailyStaffCode":"4821"`)
	})

	t.Run("public view hides staff code", func(t *testing.T) {
		h := handler.NewAdminHandler(&MockAdminService{ReturnConfig: cfg}, testLogger())

		rr := httptest.NewRecorder()
		h.HandlePublicConfig(rr, newRequest(http.MethodGet, "/api/config/public", "", nobody))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), "4821")
		assert.NotContains(t, rr.Body.String(), "dailyStaffCode")
		assert.Contains(t, rr.Body.String(), `"couponTimerMinutes":30`)
	})

	t.Run("partial update", func(t *testing.T) {
		mock := &MockAdminService{ReturnConfig: cfg}
		h := handler.NewAdminHandler(mock, testLogger())

		rr := httptest.NewRecorder()
		h.HandleUpdateConfig(rr, newRequest(http.MethodPut, "/api/admin/config", `{"couponTimerMinutes":45}`, staff))

		require.Equal(t, http.StatusOK, rr.Code)
		require.NotNil(t, mock.CapturedPatch.CouponTimerMinutes)
		assert.Equal(t, 45, *mock.CapturedPatch.CouponTimerMinutes)
		assert.Nil(t, mock.CapturedPatch.Coupons)
		assert.Nil(t, mock.CapturedPatch.Geofence)
	})

	t.Run("invalid update", func(t *testing.T) {
		mock := &MockAdminService{ReturnErr: apperror.ValidationFailed("coupons", "at most 3 coupons")}
		h := handler.NewAdminHandler(mock, testLogger())

		rr := httptest.NewRecorder()
		h.HandleUpdateConfig(rr, newRequest(http.MethodPut, "/api/admin/config", `{"coupons":[]}`, staff))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAdminHandler_HandleListCheckins(t *testing.T) {
	mock := &MockAdminService{
		ReturnCycleKey: "2026-02-20",
		ReturnCheckins: []model.Checkin{{CycleKey: "2026-02-20", Handle: "alice"}},
	}
	h := handler.NewAdminHandler(mock, testLogger())

	rr := httptest.NewRecorder()
	h.HandleListCheckins(rr, newRequest(http.MethodGet, "/api/admin/checkins", "", staff))

	require.Equal(t, http.StatusOK, rr.Code)
	var res struct {
		CycleKey string          `json:"cycleKey"`
		Checkins []model.Checkin `json:"checkins"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, "2026-02-20", res.CycleKey)
	require.Len(t, res.Checkins, 1)
}

func TestAdminHandler_HandleDebugLogs(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", http.StatusOK, 0, 0},
		{"paged", "?handle=alice&limit=20&offset=40", http.StatusOK, 20, 40},
		{"zero limit", "?limit=0", http.StatusBadRequest, 0, 0},
		{"limit too large", "?limit=501", http.StatusBadRequest, 0, 0},
		{"negative offset", "?offset=-1", http.StatusBadRequest, 0, 0},
		{"not a number", "?limit=ten", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockAdminService{ReturnLogs: []model.DebugLogEntry{}}
			h := handler.NewAdminHandler(mock, testLogger())

			rr := httptest.NewRecorder()
			h.HandleDebugLogs(rr, newRequest(http.MethodGet, "/api/admin/debug-logs"+tt.query, "", staff))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantLimit, mock.CapturedOpts.Limit)
				assert.Equal(t, tt.wantOffset, mock.CapturedOpts.Offset)
			}
		})
	}
}

func TestAdminHandler_ResetAndRotate(t *testing.T) {
	mock := &MockAdminService{
		ReturnReset: service.ResetResult{CycleKey: "2026-02-20", Deleted: 12, StaffCode: "7310"},
		ReturnCode:  "5555",
	}
	h := handler.NewAdminHandler(mock, testLogger())

	rr := httptest.NewRecorder()
	h.HandleReset(rr, newRequest(http.MethodPost, "/api/admin/reset", "", staff))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"cycleKey":"2026-02-20","deleted":12,"staffCode":"7310"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.HandleRotateCode(rr, newRequest(http.MethodPost, "/api/admin/rotate-code", "", staff))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"staffCode":"5555"}`, rr.Body.String())
	assert.Equal(t, service.TriggerManual, mock.CapturedTrigger)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	handler.HandleHealth(stubPinger{}, testLogger())(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	handler.HandleHealth(stubPinger{err: errors.New("disk I/O error")}, testLogger())(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
