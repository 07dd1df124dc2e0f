// Staff operations.
//
// THE CONFIG DOCUMENT:
// Everything staff can tune lives in one admin_config row, stored as JSON:
// staff code, geofence, coupon catalog, card weights and bonus texts, coupon
// timer. There is no per-field table; UpdateConfig reads the whole document,
// applies the patch and writes it back.
//
// CONFIG CACHING:
//
//	Config() ──▶ cache (Redis or in-process) ──hit──▶ snapshot
//	               │ miss or error
//	               ▼
//	             SQLite ──▶ write back to cache with TTL
//
// Every write deletes the cache key, so the next read goes to SQLite. A
// cache outage degrades to one SQLite read per request; it never fails a
// check-in.
//
// CYCLE RESET:
// ResetCycle deletes the current cycle's check-ins and rotates the staff
// code. Collections, coupons and credentials belong to the patron, not the
// cycle, and survive a reset. The cron scheduler calls RotateStaffCode at
// each rollover; the old cycle's check-ins simply stop matching the key.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/auth"
	"github.com/sakif/fortune-club/internal/cache"
	"github.com/sakif/fortune-club/internal/cycle"
	"github.com/sakif/fortune-club/internal/metrics"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
	"github.com/sakif/fortune-club/internal/reward"
)

const (
	configCacheKey = "admin:config"

	MaxCouponTimerMinutes = 24 * 60

	// TriggerManual labels rotations requested by staff.
	TriggerManual = "manual"
)

// AdminDeps groups the AdminService collaborators.
type AdminDeps struct {
	Configs   repository.ConfigRepository
	Checkins  repository.CheckinRepository
	DebugLogs repository.DebugLogRepository
	Cache     cache.Cache
	CacheTTL  time.Duration
	Clock     *cycle.Clock
	Tokens    *auth.TokenService
	// AdminPassword is compared in constant time by Login.
	AdminPassword string
	// StaffCodes generates new staff codes. Defaults to RandomStaffCode.
	StaffCodes func() string
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// AdminService owns the admin config document and the staff-only
// operations. It also implements ConfigProvider for the patron services.
type AdminService struct {
	configs   repository.ConfigRepository
	checkins  repository.CheckinRepository
	debugLogs repository.DebugLogRepository
	cache     cache.Cache
	cacheTTL  time.Duration
	clock     *cycle.Clock
	tokens    *auth.TokenService
	password  string
	codes     func() string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewAdminService fills in the optional collaborators: a random staff code
// generator and an in-process cache.
func NewAdminService(d AdminDeps) *AdminService {
	codes := d.StaffCodes
	if codes == nil {
		codes = RandomStaffCode
	}
	c := d.Cache
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &AdminService{
		configs:   d.Configs,
		checkins:  d.Checkins,
		debugLogs: d.DebugLogs,
		cache:     c,
		cacheTTL:  d.CacheTTL,
		clock:     d.Clock,
		tokens:    d.Tokens,
		password:  d.AdminPassword,
		codes:     codes,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// Config returns the current admin config, creating the default document on
// first use. Reads go through the cache; a cache failure falls back to the
// store.
func (s *AdminService) Config(ctx context.Context) (model.AdminConfig, error) {
	// Step 1: try the cache.
	var cfg model.AdminConfig
	err := cache.GetJSON(ctx, s.cache, configCacheKey, &cfg)
	if err == nil {
		return normalizeConfig(cfg), nil
	}
	// A miss is normal. Anything else means Redis is unhappy; log it and
	// keep serving from SQLite.
	if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("config cache read failed", slog.String("error", err.Error()))
	}

	// Step 2: the store is the source of truth.
	cfg, err = s.load(ctx)
	if err != nil {
		return model.AdminConfig{}, err
	}

	// Step 3: fill the cache for the next request.
	if err := cache.SetJSON(ctx, s.cache, configCacheKey, cfg, s.cacheTTL); err != nil {
		s.logger.Warn("config cache write failed", slog.String("error", err.Error()))
	}
	return cfg, nil
}

// load reads the stored document, bypassing the cache.
func (s *AdminService) load(ctx context.Context) (model.AdminConfig, error) {
	stored, err := s.configs.GetConfig(ctx)
	// First boot: seed the defaults. InitConfig never overwrites, so if
	// another request seeded first we get its document back.
	if errors.Is(err, apperror.ErrNotFound) {
		stored, err = s.configs.InitConfig(ctx, model.DefaultAdminConfig(s.codes(), s.clock.CurrentTime()))
		if err == nil {
			s.logger.Info("admin config initialised with defaults")
		}
	}
	if err != nil {
		return model.AdminConfig{}, fmt.Errorf("service/admin: loading config: %w", err)
	}
	return normalizeConfig(*stored), nil
}

// normalizeConfig replaces nil maps and slices so the JSON shape is stable
// and callers can range without nil checks.
func normalizeConfig(cfg model.AdminConfig) model.AdminConfig {
	if cfg.CardSettings == nil {
		cfg.CardSettings = map[int]model.CardSetting{}
	}
	if cfg.Coupons == nil {
		cfg.Coupons = []model.CouponOffer{}
	}
	return cfg
}

// save writes cfg and invalidates the cache. An invalidation failure is only
// logged; the entry expires with its TTL.
func (s *AdminService) save(ctx context.Context, cfg model.AdminConfig) error {
	if err := s.configs.SaveConfig(ctx, cfg); err != nil {
		return fmt.Errorf("service/admin: saving config: %w", err)
	}
	if err := s.cache.Delete(ctx, configCacheKey); err != nil {
		s.logger.Warn("config cache invalidation failed", slog.String("error", err.Error()))
	}
	return nil
}

// UpdateConfig validates patch and merges it into the stored document.
// Concurrent updates are last-writer-wins.
func (s *AdminService) UpdateConfig(ctx context.Context, patch model.AdminConfigPatch) (model.AdminConfig, error) {
	// Validate before reading anything, so a bad patch costs no I/O.
	if err := validatePatch(patch); err != nil {
		return model.AdminConfig{}, err
	}

	// Read from the store, not the cache, so the merge starts from the
	// latest saved document.
	current, err := s.load(ctx)
	if err != nil {
		return model.AdminConfig{}, err
	}

	updated := patch.Apply(current)
	if err := s.save(ctx, updated); err != nil {
		return model.AdminConfig{}, err
	}

	s.logger.Info("admin config updated",
		slog.Int("coupons", len(updated.Coupons)),
		slog.Int("card_settings", len(updated.CardSettings)),
		slog.Int("coupon_timer_minutes", updated.CouponTimerMinutes),
	)
	return updated, nil
}

// validatePatch checks only the fields the patch sets.
//
// PROBABILITY RULES:
// Each catalog coupon has p in [0, 1) and the catalog sums to at most 1; the
// remainder is the chance of no coupon. Card weights are relative, so any
// non-negative finite number is accepted and the draw normalises them.
func validatePatch(p model.AdminConfigPatch) error {
	if p.Geofence != nil {
		g := p.Geofence
		// !(x > 0) is also true for NaN, which a plain x <= 0 would let by.
		if !(g.RadiusMeters > 0) || math.IsInf(g.RadiusMeters, 0) {
			return apperror.ValidationFailed("geofence.radiusMeters", "radius must be greater than 0")
		}
		if g.Lat < -90 || g.Lat > 90 || g.Lng < -180 || g.Lng > 180 {
			return apperror.ValidationFailed("geofence", "coordinates out of range")
		}
	}

	if p.Coupons != nil {
		coupons := *p.Coupons
		if len(coupons) > model.MaxCatalogCoupons {
			return apperror.ValidationFailed("coupons",
				fmt.Sprintf("at most %d coupons may be configured", model.MaxCatalogCoupons))
		}
		// Coupon ids become coupon refs, so they must be unique.
		seen := make(map[string]bool, len(coupons))
		var total float64
		for _, c := range coupons {
			if c.ID == "" || c.Name == "" {
				return apperror.ValidationFailed("coupons", "every coupon needs an id and a name")
			}
			if seen[c.ID] {
				return apperror.ValidationFailed("coupons", fmt.Sprintf("duplicate coupon id %q", c.ID))
			}
			seen[c.ID] = true
			if math.IsNaN(c.Probability) || c.Probability < 0 || c.Probability >= 1 {
				return apperror.ValidationFailed("coupons",
					fmt.Sprintf("coupon %q probability must be in [0, 1)", c.ID))
			}
			total += c.Probability
		}
		if total > 1 {
			return apperror.ValidationFailed("coupons", "coupon probabilities must not sum above 1")
		}
	}

	// Card settings are keyed by catalog id, 0 through CardCount-1.
	for id, setting := range p.CardSettings {
		if !reward.ValidCardID(id) {
			return apperror.ValidationFailed("cardSettings", fmt.Sprintf("unknown card id %d", id))
		}
		if pr := setting.Probability; pr != nil && (math.IsNaN(*pr) || math.IsInf(*pr, 0) || *pr < 0) {
			return apperror.ValidationFailed("cardSettings",
				fmt.Sprintf("card %d probability must be a non-negative number", id))
		}
	}

	if m := p.CouponTimerMinutes; m != nil && (*m < 1 || *m > MaxCouponTimerMinutes) {
		return apperror.ValidationFailed("couponTimerMinutes",
			fmt.Sprintf("coupon timer must be between 1 and %d minutes", MaxCouponTimerMinutes))
	}
	return nil
}

// PublicConfig returns the settings unauthenticated clients may see.
func (s *AdminService) PublicConfig(ctx context.Context) (model.PublicConfig, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return model.PublicConfig{}, err
	}
	return cfg.Public(), nil
}

// ListCheckins returns every check-in of the current cycle.
func (s *AdminService) ListCheckins(ctx context.Context) (string, []model.Checkin, error) {
	// The cycle key goes back with the list so the admin page can label it.
	key := s.clock.Current()
	checkins, err := s.checkins.ListCheckins(ctx, key, repository.ListOptions{})
	if err != nil {
		return key, nil, fmt.Errorf("service/admin: listing checkins: %w", err)
	}
	return key, checkins, nil
}

// DebugLogs lists fortune diagnostics, newest first. An empty handle lists
// every patron.
func (s *AdminService) DebugLogs(ctx context.Context, handle string, opts repository.ListOptions) ([]model.DebugLogEntry, error) {
	// Debug logging is optional wiring; without it the list is empty.
	if s.debugLogs == nil {
		return []model.DebugLogEntry{}, nil
	}
	entries, err := s.debugLogs.ListDebugLogs(ctx, handle, opts)
	if err != nil {
		return nil, fmt.Errorf("service/admin: listing debug logs: %w", err)
	}
	return entries, nil
}

// ResetResult reports what ResetCycle did.
type ResetResult struct {
	CycleKey  string `json:"cycleKey"`
	Deleted   int64  `json:"deleted"`
	StaffCode string `json:"staffCode"`
}

// ResetCycle deletes every check-in of the current cycle and rotates the
// staff code. Collections, coupons, profiles and credentials are untouched.
func (s *AdminService) ResetCycle(ctx context.Context) (ResetResult, error) {
	key := s.clock.Current()
	deleted, err := s.checkins.DeleteCheckins(ctx, key)
	if err != nil {
		return ResetResult{}, fmt.Errorf("service/admin: deleting checkins for %s: %w", key, err)
	}

	// Everyone who checked in will check in again, so yesterday's code
	// must stop working.
	code, err := s.RotateStaffCode(ctx, TriggerManual)
	if err != nil {
		return ResetResult{}, err
	}

	s.logger.Info("cycle reset",
		slog.String("cycle_key", key),
		slog.Int64("deleted", deleted),
	)
	return ResetResult{CycleKey: key, Deleted: deleted, StaffCode: code}, nil
}

// RotateStaffCode stores a fresh staff code and returns it. trigger labels
// the metric and log line ("schedule" or "manual").
func (s *AdminService) RotateStaffCode(ctx context.Context, trigger string) (string, error) {
	// load, not Config: a stale cached copy would write back old settings.
	cfg, err := s.load(ctx)
	if err != nil {
		return "", err
	}

	cfg.DailyStaffCode = s.codes()
	cfg.LastCodeUpdate = s.clock.CurrentTime()
	if err := s.save(ctx, cfg); err != nil {
		return "", err
	}

	// The code itself is never logged.
	s.metrics.StaffCodeRotated(trigger)
	s.logger.Info("staff code rotated",
		slog.String("trigger", trigger),
		slog.String("cycle_key", s.clock.Current()),
	)
	return cfg.DailyStaffCode, nil
}

// Login exchanges the admin password for an admin token.
//
// subtle.ConstantTimeCompare takes the same time for a near miss as for a
// wild guess. An empty configured password disables staff login.
func (s *AdminService) Login(_ context.Context, password string) (string, error) {
	if s.password == "" || subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) != 1 {
		s.logger.Warn("admin login rejected")
		return "", apperror.Unauthorized("wrong admin password")
	}

	token, err := s.tokens.GenerateAdmin()
	if err != nil {
		return "", fmt.Errorf("service/admin: issuing admin token: %w", err)
	}
	return token, nil
}
