package handler_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/sakif/fortune-club/internal/auth"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
	"github.com/sakif/fortune-club/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newRequest builds a request carrying the given identity, as RequireAuth
// would have left it. An empty subject means no identity.
func newRequest(method, target, body string, id auth.Identity) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if id.Subject != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), id))
	}
	return req
}

var (
	patron = auth.Identity{Subject: "alice", Role: auth.RoleUser}
	staff  = auth.Identity{Subject: "admin", Role: auth.RoleAdmin}
	nobody = auth.Identity{}
)

// MockCheckInService records the last request and returns canned values.
type MockCheckInService struct {
	CapturedReq    service.CheckInRequest
	CapturedHandle string
	CapturedOther  string
	ReturnRes      *service.CheckInResult
	ReturnCheckin  *model.Checkin
	ReturnCands    []model.MatchCandidate
	ReturnErr      error
}

func (m *MockCheckInService) CheckIn(ctx context.Context, req service.CheckInRequest) (*service.CheckInResult, error) {
	m.CapturedReq = req
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnRes, nil
}

func (m *MockCheckInService) Current(ctx context.Context, handle string) (*model.Checkin, error) {
	m.CapturedHandle = handle
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnCheckin, nil
}

func (m *MockCheckInService) RecordMatch(ctx context.Context, handle, other string) error {
	m.CapturedHandle = handle
	m.CapturedOther = other
	return m.ReturnErr
}

func (m *MockCheckInService) MatchCandidates(ctx context.Context, handle string) ([]model.MatchCandidate, error) {
	m.CapturedHandle = handle
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnCands, nil
}

type MockFortuneService struct {
	CapturedHandle string
	ReturnRes      *service.OpenResult
	ReturnErr      error
}

func (m *MockFortuneService) Open(ctx context.Context, handle string) (*service.OpenResult, error) {
	m.CapturedHandle = handle
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnRes, nil
}

type MockCouponService struct {
	CapturedHandle string
	CapturedID     model.CouponIdentity
	ReturnList     []model.Coupon
	ReturnCoupon   *model.Coupon
	ReturnErr      error
}

func (m *MockCouponService) ListActive(ctx context.Context, handle string) ([]model.Coupon, error) {
	m.CapturedHandle = handle
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnList, nil
}

func (m *MockCouponService) MarkUsed(ctx context.Context, handle string, id model.CouponIdentity) (*model.Coupon, error) {
	m.CapturedHandle = handle
	m.CapturedID = id
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnCoupon, nil
}

type MockProfileService struct {
	CapturedHandle  string
	CapturedProfile model.Profile
	ReturnUser      *model.User
	ReturnColl      *service.Collection
	ReturnErr       error
	ResetCalls      int
}

func (m *MockProfileService) Get(ctx context.Context, handle string) (*model.User, error) {
	m.CapturedHandle = handle
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnUser, nil
}

func (m *MockProfileService) Update(ctx context.Context, handle string, p model.Profile) (*model.User, error) {
	m.CapturedHandle = handle
	m.CapturedProfile = p
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnUser, nil
}

func (m *MockProfileService) Collection(ctx context.Context, handle string) (*service.Collection, error) {
	m.CapturedHandle = handle
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnColl, nil
}

func (m *MockProfileService) ResetTestData(ctx context.Context, handle string) error {
	m.CapturedHandle = handle
	m.ResetCalls++
	return m.ReturnErr
}

type MockAdminService struct {
	CapturedPassword string
	CapturedPatch    model.AdminConfigPatch
	CapturedTrigger  string
	CapturedHandle   string
	CapturedOpts     repository.ListOptions

	ReturnToken    string
	ReturnConfig   model.AdminConfig
	ReturnCycleKey string
	ReturnCheckins []model.Checkin
	ReturnLogs     []model.DebugLogEntry
	ReturnReset    service.ResetResult
	ReturnCode     string
	ReturnErr      error
}

func (m *MockAdminService) Login(ctx context.Context, password string) (string, error) {
	m.CapturedPassword = password
	return m.ReturnToken, m.ReturnErr
}

func (m *MockAdminService) Config(ctx context.Context) (model.AdminConfig, error) {
	return m.ReturnConfig, m.ReturnErr
}

func (m *MockAdminService) PublicConfig(ctx context.Context) (model.PublicConfig, error) {
	return m.ReturnConfig.Public(), m.ReturnErr
}

func (m *MockAdminService) UpdateConfig(ctx context.Context, patch model.AdminConfigPatch) (model.AdminConfig, error) {
	m.CapturedPatch = patch
	return m.ReturnConfig, m.ReturnErr
}

func (m *MockAdminService) ListCheckins(ctx context.Context) (string, []model.Checkin, error) {
	return m.ReturnCycleKey, m.ReturnCheckins, m.ReturnErr
}

func (m *MockAdminService) DebugLogs(ctx context.Context, handle string, opts repository.ListOptions) ([]model.DebugLogEntry, error) {
	m.CapturedHandle = handle
	m.CapturedOpts = opts
	return m.ReturnLogs, m.ReturnErr
}

func (m *MockAdminService) ResetCycle(ctx context.Context) (service.ResetResult, error) {
	return m.ReturnReset, m.ReturnErr
}

func (m *MockAdminService) RotateStaffCode(ctx context.Context, trigger string) (string, error) {
	m.CapturedTrigger = trigger
	return m.ReturnCode, m.ReturnErr
}
