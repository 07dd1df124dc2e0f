// Coupon lifecycle.
//
//	issued ──(patron shows it to staff)──▶ used
//	   │
//	   └──(expiresAt passes)──▶ pruned on the next listing
//
// COUPON IDENTITY:
// A coupon has no surrogate id on the wire. It is named by the triple
// (type, ref, createdAt): "fortune/shot at 22:03:17.123". The client echoes
// the triple back to mark it used, and the store matches createdAt to the
// millisecond, which is why FortuneService truncates it at issue time.
//
// LAZY EXPIRY:
// No job sweeps expired coupons. ListActive deletes them before listing and
// also filters the result by the same instant, so a coupon that expires
// between the two statements is still never shown.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/cycle"
	"github.com/sakif/fortune-club/internal/metrics"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
)

// CouponService lists and consumes coupons. Expiry is enforced lazily: each
// listing first prunes what has expired.
type CouponService struct {
	coupons repository.CouponRepository
	clock   *cycle.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewCouponService(coupons repository.CouponRepository, clock *cycle.Clock, m *metrics.Metrics, logger *slog.Logger) *CouponService {
	return &CouponService{coupons: coupons, clock: clock, metrics: m, logger: logger}
}

// ListActive prunes handle's expired coupons and returns the rest in
// issuance order.
func (s *CouponService) ListActive(ctx context.Context, handle string) ([]model.Coupon, error) {
	now := s.clock.CurrentTime()

	pruned, err := s.coupons.DeleteExpiredCoupons(ctx, handle, now)
	if err != nil {
		return nil, fmt.Errorf("service/coupon: pruning coupons for %s: %w", handle, err)
	}
	if pruned > 0 {
		s.logger.Debug("expired coupons pruned", slog.String("handle", handle), slog.Int64("count", pruned))
	}

	all, err := s.coupons.ListCoupons(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("service/coupon: listing coupons for %s: %w", handle, err)
	}

	// Same instant as the prune above.
	active := make([]model.Coupon, 0, len(all))
	for _, c := range all {
		if c.ActiveAt(now) {
			active = append(active, c)
		}
	}
	return active, nil
}

// MarkUsed stamps the coupon as used. Marking an already used coupon is a
// no-op that returns the coupon with its original UsedAt.
func (s *CouponService) MarkUsed(ctx context.Context, handle string, id model.CouponIdentity) (*model.Coupon, error) {
	id.Ref = strings.TrimSpace(id.Ref)
	switch {
	case !id.Type.Valid():
		return nil, apperror.ValidationFailed("type", "coupon type must be fortune or collection")
	case id.Ref == "":
		return nil, apperror.ValidationFailed("ref", "coupon ref is required")
	case id.CreatedAt.IsZero():
		return nil, apperror.ValidationFailed("createdAt", "coupon createdAt is required")
	}

	updated, err := s.coupons.MarkCouponUsed(ctx, handle, id, s.clock.CurrentTime())
	if err != nil {
		return nil, fmt.Errorf("service/coupon: marking coupon used: %w", err)
	}
	if updated {
		s.metrics.CouponUsed()
		s.logger.Info("coupon used",
			slog.String("handle", handle),
			slog.String("type", string(id.Type)),
			slog.String("ref", id.Ref),
		)
	}

	// Re-read so a second tap returns the original UsedAt.
	c, err := s.coupons.GetCoupon(ctx, handle, id)
	if err != nil {
		return nil, fmt.Errorf("service/coupon: reading coupon: %w", err)
	}
	return c, nil
}
