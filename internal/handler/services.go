package handler

import (
	"context"

	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
	"github.com/sakif/fortune-club/internal/service"
)

// The interfaces below are what the handlers need from the service layer.
// The *service types satisfy them; handler tests pass mocks.
//
// "ACCEPT INTERFACES, RETURN STRUCTS":
// The service package returns concrete types (*service.CheckInService).
// The handler package, which consumes them, declares the small interfaces it
// actually calls. Nothing in service knows these interfaces exist, and a
// handler test only has to mock the methods its handler uses.
//
// Each method mirrors the service signature exactly. Adding a method here
// without adding it to the service breaks the build at the checks below.

// CheckInService is the door and the match picker.
type CheckInService interface {
	CheckIn(ctx context.Context, req service.CheckInRequest) (*service.CheckInResult, error)
	Current(ctx context.Context, handle string) (*model.Checkin, error)
	RecordMatch(ctx context.Context, handle, other string) error
	MatchCandidates(ctx context.Context, handle string) ([]model.MatchCandidate, error)
}

// FortuneService opens the daily fortune.
type FortuneService interface {
	Open(ctx context.Context, handle string) (*service.OpenResult, error)
}

// CouponService lists and consumes the caller's coupons.
type CouponService interface {
	ListActive(ctx context.Context, handle string) ([]model.Coupon, error)
	MarkUsed(ctx context.Context, handle string, id model.CouponIdentity) (*model.Coupon, error)
}

// ProfileService serves the profile, the album and the tester reset.
type ProfileService interface {
	Get(ctx context.Context, handle string) (*model.User, error)
	Update(ctx context.Context, handle string, p model.Profile) (*model.User, error)
	Collection(ctx context.Context, handle string) (*service.Collection, error)
	ResetTestData(ctx context.Context, handle string) error
}

// AdminService backs both the staff routes and the public config read.
type AdminService interface {
	Login(ctx context.Context, password string) (string, error)
	Config(ctx context.Context) (model.AdminConfig, error)
	PublicConfig(ctx context.Context) (model.PublicConfig, error)
	UpdateConfig(ctx context.Context, patch model.AdminConfigPatch) (model.AdminConfig, error)
	ListCheckins(ctx context.Context) (string, []model.Checkin, error)
	DebugLogs(ctx context.Context, handle string, opts repository.ListOptions) ([]model.DebugLogEntry, error)
	ResetCycle(ctx context.Context) (service.ResetResult, error)
	RotateStaffCode(ctx context.Context, trigger string) (string, error)
}

// compile-time checks that the concrete services satisfy the interfaces
var (
	_ CheckInService = (*service.CheckInService)(nil)
	_ FortuneService = (*service.FortuneService)(nil)
	_ CouponService  = (*service.CouponService)(nil)
	_ ProfileService = (*service.ProfileService)(nil)
	_ AdminService   = (*service.AdminService)(nil)
)
