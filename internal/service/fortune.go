// Fortune opening.
//
// THE OPEN PIPELINE:
//
//  1. config snapshot      probabilities, coupon catalog, timer
//  2. draw                 message, card, coupon offer, horoscope
//  3. ledger.Open          one transaction: checks, fortune, collection
//  4. issue coupons        fortune coupon and first-card bonus, best effort
//
// Steps 1-3 decide the response. If any of them fails, nothing is stored and
// the patron can press the button again. Step 4 runs only after the commit
// and never fails the request: a coupon that could not be stored is logged,
// counted in the side-effect metric and left out of OpenResult.Coupons.
//
// WHY DRAW BEFORE THE TRANSACTION?
// The draw is pure computation over the snapshot. Doing it outside the
// transaction keeps the write lock short, and a busy retry inside RunInTx
// commits the same draw instead of rolling a new one.
//
// DEBUG LOGS:
// Each phase appends a row to fortune_debug_logs so staff can answer "why
// did I not get a coupon?" from /api/admin/debug-logs. Debug log failures are
// swallowed; the diagnostics never decide an outcome.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sakif/fortune-club/internal/cycle"
	"github.com/sakif/fortune-club/internal/ledger"
	"github.com/sakif/fortune-club/internal/metrics"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
	"github.com/sakif/fortune-club/internal/reward"
)

// Debug log phases of one open.
const (
	phaseDraw   = "draw"
	phaseCommit = "commit"
	phaseCoupon = "coupon_issue"
)

// FortuneDeps groups the FortuneService collaborators.
type FortuneDeps struct {
	Users     repository.UserRepository
	Coupons   repository.CouponRepository
	DebugLogs repository.DebugLogRepository
	Config    ConfigProvider
	Ledger    *ledger.Ledger
	Drawer    *reward.Drawer
	Clock     *cycle.Clock
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// FortuneService runs the daily fortune open: draw, atomic commit, then
// best-effort coupon issuance.
type FortuneService struct {
	users     repository.UserRepository
	coupons   repository.CouponRepository
	debugLogs repository.DebugLogRepository
	config    ConfigProvider
	ledger    *ledger.Ledger
	drawer    *reward.Drawer
	clock     *cycle.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewFortuneService(d FortuneDeps) *FortuneService {
	return &FortuneService{
		users:     d.Users,
		coupons:   d.Coupons,
		debugLogs: d.DebugLogs,
		config:    d.Config,
		ledger:    d.Ledger,
		drawer:    d.Drawer,
		clock:     d.Clock,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// OpenResult is the ledger outcome plus what happened after the commit.
// Coupons lists the coupons actually issued; a coupon that failed to issue is
// absent even though the fortune shows the offer.
type OpenResult struct {
	// EMBEDDING:
	// ledger.Outcome's fields (Opened, Reason, Checkin...) are promoted, so
	// they encode at the top level of the JSON next to CycleKey.
	ledger.Outcome
	CycleKey string         `json:"cycleKey"`
	Card     *reward.Card   `json:"card,omitempty"`
	Coupons  []model.Coupon `json:"coupons"`
}

// Open draws and commits handle's fortune for the current cycle.
//
// Refusals (not checked in, already opened) come back as an OpenResult with
// Opened false. An error means nothing was committed and the caller may
// retry.
func (s *FortuneService) Open(ctx context.Context, handle string) (*OpenResult, error) {
	// One config snapshot for the whole open: the draw and the coupon
	// timer use the same document even if staff save mid-request.
	cfg, err := s.config.Config(ctx)
	if err != nil {
		s.metrics.FortuneOpen(outcomeError)
		return nil, err
	}

	// The profile feeds the message pool and the horoscope.
	user, err := s.users.GetUser(ctx, handle)
	if err != nil {
		s.metrics.FortuneOpen(outcomeError)
		return nil, fmt.Errorf("service/fortune: fetching user %s: %w", handle, err)
	}

	// Draw outside the transaction; see WHY DRAW BEFORE THE TRANSACTION?
	key := s.clock.Current()
	draw := s.drawer.Draw(reward.Request{Profile: user.Profile, Config: cfg, CycleKey: key})
	s.debug(ctx, handle, "info", phaseDraw, map[string]any{
		"cycleKey":      key,
		"collectibleId": draw.CollectibleID,
		"couponOffer":   offerID(draw.Coupon),
		"horoscope":     draw.Horoscope != nil,
	})

	// The one atomic step. Either the check-in, snapshot and collection all
	// change together or none of them do.
	outcome, err := s.ledger.Open(ctx, handle, key, draw)
	if err != nil {
		s.metrics.FortuneOpen(outcomeError)
		s.debug(ctx, handle, "error", phaseCommit, map[string]any{"cycleKey": key, "error": err.Error()})
		s.logger.Error("fortune commit failed",
			slog.String("handle", handle),
			slog.String("cycle_key", key),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/fortune: %w", err)
	}

	// On a refusal the Checkin is the stored record, so an ALREADY_OPENED
	// reply still shows today's card.
	result := &OpenResult{Outcome: outcome, CycleKey: key, Coupons: []model.Coupon{}}
	if outcome.Checkin != nil && outcome.Checkin.Fortune != nil {
		if card, ok := reward.CardByID(outcome.Checkin.Fortune.CollectibleID); ok {
			result.Card = &card
		}
	}

	if !outcome.Opened {
		s.metrics.FortuneOpen(string(outcome.Reason))
		s.debug(ctx, handle, "info", phaseCommit, map[string]any{"cycleKey": key, "reason": string(outcome.Reason)})
		return result, nil
	}

	s.metrics.FortuneOpen(outcomeOpened)
	s.debug(ctx, handle, "info", phaseCommit, map[string]any{
		"cycleKey":  key,
		"firstTime": outcome.FirstTimeCollectible,
	})
	s.logger.Info("fortune opened",
		slog.String("handle", handle),
		slog.String("cycle_key", key),
		slog.Int("collectible_id", draw.CollectibleID),
		slog.Bool("first_time", outcome.FirstTimeCollectible),
	)

	// The fortune is committed. Nothing below may fail the request, and a
	// client disconnect must not stop issuance.
	result.Coupons = s.issueCoupons(context.WithoutCancel(ctx), handle, cfg, draw, outcome.FirstTimeCollectible)
	return result, nil
}

// issueCoupons appends the draw coupon and the first-acquisition bonus.
// Failures are logged and the coupon is skipped.
//
// createdAt is part of the coupon identity and the store keeps milliseconds,
// so it is truncated here; the value returned to the client is then exactly
// the one MarkUsed will look up.
func (s *FortuneService) issueCoupons(ctx context.Context, handle string, cfg model.AdminConfig, draw model.FortuneResult, firstTime bool) []model.Coupon {
	now := s.clock.CurrentTime().Truncate(time.Millisecond)
	expires := now.Add(cfg.CouponValidity())

	// At most two coupons: the draw's catalog coupon and the card bonus.
	var pending []model.Coupon
	if offer := draw.Coupon; offer != nil {
		pending = append(pending, model.Coupon{
			Type:      model.CouponTypeFortune,
			Ref:       offer.ID,
			Name:      offer.Name,
			Text:      offer.Text,
			Handle:    handle,
			CreatedAt: now,
			ExpiresAt: expires,
		})
	}
	// The bonus is only for the first copy of a card, and only when staff
	// wrote bonus text for it.
	if firstTime {
		if bonus := cfg.CardSettings[draw.CollectibleID].BonusText; bonus != "" {
			card, _ := reward.CardByID(draw.CollectibleID)
			pending = append(pending, model.Coupon{
				Type:      model.CouponTypeCollection,
				Ref:       strconv.Itoa(draw.CollectibleID),
				Name:      card.Name,
				Text:      bonus,
				Handle:    handle,
				CreatedAt: now,
				ExpiresAt: expires,
			})
		}
	}

	issued := make([]model.Coupon, 0, len(pending))
	for i := range pending {
		// Copy: AddCoupon takes a pointer and we append the value after.
		c := pending[i]
		if err := s.coupons.AddCoupon(ctx, &c); err != nil {
			s.metrics.SideEffectFailed(phaseCoupon)
			s.logger.Warn("coupon issue failed",
				slog.String("handle", handle),
				slog.String("type", string(c.Type)),
				slog.String("ref", c.Ref),
				slog.String("error", err.Error()),
			)
			s.debug(ctx, handle, "warn", phaseCoupon, map[string]any{
				"type": string(c.Type), "ref": c.Ref, "error": err.Error(),
			})
			continue
		}
		s.metrics.CouponIssued(string(c.Type))
		s.debug(ctx, handle, "info", phaseCoupon, map[string]any{
			"type": string(c.Type), "ref": c.Ref, "expiresAt": c.ExpiresAt.Format(time.RFC3339),
		})
		issued = append(issued, c)
	}
	return issued
}

// debug appends a diagnostic entry. Failures are swallowed.
func (s *FortuneService) debug(ctx context.Context, handle, level, phase string, details map[string]any) {
	if s.debugLogs == nil {
		return
	}
	err := s.debugLogs.AppendDebugLog(context.WithoutCancel(ctx), &model.DebugLogEntry{
		Handle:    handle,
		Level:     level,
		Step:      "open_fortune",
		Phase:     phase,
		Details:   details,
		CreatedAt: s.clock.CurrentTime(),
	})
	if err != nil {
		s.metrics.SideEffectFailed("debug_log")
		s.logger.Debug("debug log append failed", slog.String("error", err.Error()))
	}
}

func offerID(o *model.CouponOffer) string {
	if o == nil {
		return ""
	}
	return o.ID
}
