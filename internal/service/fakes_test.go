package service

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/auth"
	"github.com/sakif/fortune-club/internal/cycle"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================
//
// fakeStore implements every repository interface the services use, plus
// the Transactor the ledger needs. One mutex serialises everything, which
// is all RunInTx has to guarantee. The err* fields inject failures.

type checkinKey struct{ cycle, handle string }

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	checkins map[checkinKey]*model.Checkin
	coupons  map[string][]model.Coupon
	config   *model.AdminConfig
	logs     []model.DebugLogEntry

	errAddCoupon error
	errDebugLog  error
	errTx        error
	errGetConfig error
	saves        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]*model.User{},
		checkins: map[checkinKey]*model.Checkin{},
		coupons:  map[string][]model.Coupon{},
	}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Collection = slices.Clone(u.Collection)
	c.CollectionCounts = make(map[int]int, len(u.CollectionCounts))
	for k, v := range u.CollectionCounts {
		c.CollectionCounts[k] = v
	}
	return &c
}

func cloneCheckin(c *model.Checkin) *model.Checkin {
	out := *c
	if c.Fortune != nil {
		f := *c.Fortune
		out.Fortune = &f
	}
	return &out
}

// --- users ---

func (f *fakeStore) getUser(handle string) (*model.User, error) {
	u, ok := f.users[handle]
	if !ok {
		return nil, apperror.NotFound("user", handle)
	}
	return cloneUser(u), nil
}

func (f *fakeStore) GetUser(_ context.Context, handle string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getUser(handle)
}

func (f *fakeStore) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.Handle]; ok {
		return apperror.Conflict("user", u.Handle)
	}
	f.users[u.Handle] = cloneUser(u)
	return nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, handle string, p model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[handle]
	if !ok {
		return apperror.NotFound("user", handle)
	}
	u.Profile = p
	return nil
}

func (f *fakeStore) ResetUserData(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[handle]
	if !ok {
		return apperror.NotFound("user", handle)
	}
	u.Profile = model.Profile{}
	u.Collection = nil
	u.CollectionCounts = map[int]int{}
	delete(f.coupons, handle)
	return nil
}

// --- checkins ---

func (f *fakeStore) getCheckin(cycleKey, handle string) (*model.Checkin, error) {
	c, ok := f.checkins[checkinKey{cycleKey, handle}]
	if !ok {
		return nil, apperror.NotFound("checkin", cycleKey+"/"+handle)
	}
	return cloneCheckin(c), nil
}

func (f *fakeStore) GetCheckin(_ context.Context, cycleKey, handle string) (*model.Checkin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCheckin(cycleKey, handle)
}

func (f *fakeStore) CreateCheckin(_ context.Context, c *model.Checkin) (*model.Checkin, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := checkinKey{c.CycleKey, c.Handle}
	if existing, ok := f.checkins[k]; ok {
		return cloneCheckin(existing), false, nil
	}
	f.checkins[k] = cloneCheckin(c)
	return cloneCheckin(c), true, nil
}

func (f *fakeStore) ListCheckins(_ context.Context, cycleKey string, _ repository.ListOptions) ([]model.Checkin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Checkin{}
	for k, c := range f.checkins {
		if k.cycle == cycleKey {
			out = append(out, *cloneCheckin(c))
		}
	}
	slices.SortFunc(out, func(a, b model.Checkin) int { return a.CheckedInAt.Compare(b.CheckedInAt) })
	return out, nil
}

func (f *fakeStore) DeleteCheckins(_ context.Context, cycleKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.checkins {
		if k.cycle == cycleKey {
			delete(f.checkins, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SetMatch(_ context.Context, cycleKey, handle, other string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkins[checkinKey{cycleKey, handle}]
	if !ok {
		return apperror.NotFound("checkin", cycleKey+"/"+handle)
	}
	c.MatchedWith = other
	return nil
}

func (f *fakeStore) ListCandidates(_ context.Context, cycleKey, exclude string) ([]model.MatchCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.MatchCandidate{}
	for k, c := range f.checkins {
		u, ok := f.users[k.handle]
		if k.cycle != cycleKey || k.handle == exclude || !ok {
			continue
		}
		out = append(out, model.MatchCandidate{Handle: u.Handle, Profile: u.Profile, CheckedInAt: c.CheckedInAt})
	}
	slices.SortFunc(out, func(a, b model.MatchCandidate) int { return a.CheckedInAt.Compare(b.CheckedInAt) })
	return out, nil
}

// --- coupons ---

func (f *fakeStore) AddCoupon(_ context.Context, c *model.Coupon) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errAddCoupon != nil {
		return f.errAddCoupon
	}
	for _, existing := range f.coupons[c.Handle] {
		if existing.Identity() == c.Identity() {
			return apperror.Conflict("coupon", c.Ref)
		}
	}
	f.coupons[c.Handle] = append(f.coupons[c.Handle], *c)
	return nil
}

func (f *fakeStore) ListCoupons(_ context.Context, handle string) ([]model.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.coupons[handle]), nil
}

func (f *fakeStore) DeleteExpiredCoupons(_ context.Context, handle string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.coupons[handle])
	f.coupons[handle] = slices.DeleteFunc(f.coupons[handle], func(c model.Coupon) bool {
		return !c.ExpiresAt.After(now)
	})
	return int64(before - len(f.coupons[handle])), nil
}

func (f *fakeStore) findCoupon(handle string, id model.CouponIdentity) *model.Coupon {
	for i := range f.coupons[handle] {
		c := &f.coupons[handle][i]
		if c.Type == id.Type && c.Ref == id.Ref && c.CreatedAt.Equal(id.CreatedAt) {
			return c
		}
	}
	return nil
}

func (f *fakeStore) MarkCouponUsed(_ context.Context, handle string, id model.CouponIdentity, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.findCoupon(handle, id)
	if c == nil {
		return false, apperror.NotFound("coupon", id.Ref)
	}
	if c.UsedAt != nil {
		return false, nil
	}
	t := now
	c.UsedAt = &t
	return true, nil
}

func (f *fakeStore) GetCoupon(_ context.Context, handle string, id model.CouponIdentity) (*model.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.findCoupon(handle, id)
	if c == nil {
		return nil, apperror.NotFound("coupon", id.Ref)
	}
	out := *c
	return &out, nil
}

// --- config ---

func (f *fakeStore) GetConfig(context.Context) (*model.AdminConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errGetConfig != nil {
		return nil, f.errGetConfig
	}
	if f.config == nil {
		return nil, apperror.NotFound("config", "admin")
	}
	c := *f.config
	return &c, nil
}

func (f *fakeStore) InitConfig(_ context.Context, def model.AdminConfig) (*model.AdminConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.config == nil {
		f.config = &def
	}
	c := *f.config
	return &c, nil
}

func (f *fakeStore) SaveConfig(_ context.Context, cfg model.AdminConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config = &cfg
	f.saves++
	return nil
}

// --- debug logs ---

func (f *fakeStore) AppendDebugLog(_ context.Context, e *model.DebugLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errDebugLog != nil {
		return f.errDebugLog
	}
	f.logs = append(f.logs, *e)
	return nil
}

func (f *fakeStore) ListDebugLogs(_ context.Context, handle string, _ repository.ListOptions) ([]model.DebugLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.DebugLogEntry{}
	for _, e := range f.logs {
		if handle == "" || e.Handle == handle {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- transactions ---

func (f *fakeStore) RunInTx(ctx context.Context, fn func(context.Context, repository.LedgerTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errTx != nil {
		return f.errTx
	}

	// Work on copies so a returned error leaves the store untouched.
	tx := &fakeTx{
		users:    map[string]*model.User{},
		checkins: map[checkinKey]*model.Checkin{},
		store:    f,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for h, u := range tx.users {
		f.users[h] = u
	}
	for k, c := range tx.checkins {
		f.checkins[k] = c
	}
	return nil
}

type fakeTx struct {
	store    *fakeStore
	users    map[string]*model.User
	checkins map[checkinKey]*model.Checkin
}

func (t *fakeTx) GetUser(_ context.Context, handle string) (*model.User, error) {
	if u, ok := t.users[handle]; ok {
		return cloneUser(u), nil
	}
	return t.store.getUser(handle)
}

func (t *fakeTx) GetCheckin(_ context.Context, cycleKey, handle string) (*model.Checkin, error) {
	if c, ok := t.checkins[checkinKey{cycleKey, handle}]; ok {
		return cloneCheckin(c), nil
	}
	return t.store.getCheckin(cycleKey, handle)
}

func (t *fakeTx) PutCheckin(_ context.Context, c *model.Checkin) error {
	t.checkins[checkinKey{c.CycleKey, c.Handle}] = cloneCheckin(c)
	return nil
}

func (t *fakeTx) SetCollectionCount(ctx context.Context, handle string, cardID, count int, _ time.Time) error {
	u, err := t.GetUser(ctx, handle)
	if err != nil {
		return err
	}
	if !u.HasCollectible(cardID) {
		u.Collection = append(u.Collection, cardID)
	}
	u.CollectionCounts[cardID] = count
	t.users[handle] = u
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

var testNow = time.Date(2026, 2, 20, 22, 0, 0, 0, time.FixedZone("KST", 9*60*60))

const testCycle = "2026-02-20"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClock(now *time.Time) *cycle.Clock {
	c := cycle.Default()
	c.Now = func() time.Time { return *now }
	return c
}

func testTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("service-test-secret-0123456789")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// staticConfig is a ConfigProvider returning a fixed document.
type staticConfig struct {
	cfg model.AdminConfig
	err error
}

func (s *staticConfig) Config(context.Context) (model.AdminConfig, error) {
	return s.cfg, s.err
}

func seedUser(t *testing.T, store *fakeStore, handle string) {
	t.Helper()
	err := store.CreateUser(context.Background(), &model.User{
		Handle:           handle,
		CredentialHash:   "unused",
		CollectionCounts: map[int]int{},
		CreatedAt:        testNow,
	})
	if err != nil {
		t.Fatalf("seeding user %s: %v", handle, err)
	}
}

func ptr[T any](v T) *T { return &v }
