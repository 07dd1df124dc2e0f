package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/fortune-club/internal/model"
)

// CouponHandler lists and consumes the caller's coupons. A patron can only
// ever see or use their own; the handle always comes from the token.
type CouponHandler struct {
	svc    CouponService
	logger *slog.Logger
}

func NewCouponHandler(svc CouponService, logger *slog.Logger) *CouponHandler {
	return &CouponHandler{svc: svc, logger: logger}
}

// couponListResponse wraps the list in an object so fields can be added
// later without breaking clients that expect an object.
type couponListResponse struct {
	Coupons []model.Coupon `json:"coupons"`
}

// HandleList handles GET /api/coupons.
func (h *CouponHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	handle, ok := requireHandle(w, r)
	if !ok {
		return
	}

	// ListActive prunes expired coupons before returning, so what the patron
	// sees is always redeemable.
	coupons, err := h.svc.ListActive(r.Context(), handle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, couponListResponse{Coupons: coupons})
}

// HandleUse handles POST /api/coupons/use. The body is the coupon identity:
// {"type": "fortune", "ref": "shot", "createdAt": "..."}.
//
// STATUS CODES:
//
//	200  coupon returned with usedAt set (also on a repeat call)
//	400  malformed body, unknown type, missing ref or createdAt
//	404  no such coupon for this patron
//
// The bartender taps "used" on the patron's phone, so the route is on the
// patron's token, not a staff one.
func (h *CouponHandler) HandleUse(w http.ResponseWriter, r *http.Request) {
	handle, ok := requireHandle(w, r)
	if !ok {
		return
	}

	// createdAt is echoed back exactly as ListActive emitted it. Identities
	// compare at millisecond precision.
	var id model.CouponIdentity
	if err := decodeJSON(w, r, &id); err != nil {
		writeError(w, err)
		return
	}

	c, err := h.svc.MarkUsed(r.Context(), handle, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
