package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/auth"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
	"github.com/sakif/fortune-club/internal/service"
)

// maxDebugLogLimit bounds one page of /api/admin/debug-logs.
const maxDebugLogLimit = 500

// AdminHandler serves the staff console and the public config endpoint.
//
// TWO AUDIENCES, ONE SERVICE:
// Every route except HandleLogin and HandlePublicConfig sits behind
// RequireAdmin in server.go, so these methods never check the role
// themselves. HandlePublicConfig is the one place patrons read the config,
// and it goes through AdminService.PublicConfig, which drops the staff code.
type AdminHandler struct {
	svc    AdminService
	logger *slog.Logger
}

func NewAdminHandler(svc AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

// loginRequest is the only staff input that arrives without a token.
type loginRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// HandleLogin handles POST /api/admin/login. The token is returned in the
// body for scripts and set as a cookie for the browser console.
func (h *AdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	// A wrong password is a 401 from the service. The route is also
	// rate-limited per IP in server.go, which bounds guessing.
	token, err := h.svc.Login(r.Context(), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	// MaxAge matches the token lifetime so the cookie never outlives it.
	setSessionCookie(w, r, token, int(auth.DefaultAdminTTL.Seconds()))
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// HandleGetConfig handles GET /api/admin/config. The response includes the
// staff code.
func (h *AdminHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Config(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandleUpdateConfig handles PUT /api/admin/config with a partial document.
//
// PATCH SEMANTICS:
// Absent fields keep their stored value. A present "coupons" array replaces
// the whole catalog; "cardSettings" entries are merged by card id. The
// response is the full document after the merge.
func (h *AdminHandler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch model.AdminConfigPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	cfg, err := h.svc.UpdateConfig(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// checkinListResponse names the cycle so staff can tell a fresh night from
// a list that simply has not been reset.
type checkinListResponse struct {
	CycleKey string          `json:"cycleKey"`
	Checkins []model.Checkin `json:"checkins"`
}

// HandleListCheckins handles GET /api/admin/checkins.
func (h *AdminHandler) HandleListCheckins(w http.ResponseWriter, r *http.Request) {
	key, checkins, err := h.svc.ListCheckins(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkinListResponse{CycleKey: key, Checkins: checkins})
}

// HandleDebugLogs handles GET /api/admin/debug-logs?handle=&limit=&offset=.
func (h *AdminHandler) HandleDebugLogs(w http.ResponseWriter, r *http.Request) {
	// r.URL.Query() parses the query string into a url.Values map. Get
	// returns "" for a missing key, which listOptions treats as unset.
	q := r.URL.Query()
	opts, err := listOptions(q.Get("limit"), q.Get("offset"))
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.svc.DebugLogs(r.Context(), q.Get("handle"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// listOptions parses the paging query parameters. Empty means "not set":
// the field stays zero and the store applies its default page.
func listOptions(limit, offset string) (repository.ListOptions, error) {
	var opts repository.ListOptions
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > maxDebugLogLimit {
			return opts, apperror.ValidationFailed("limit", "limit must be between 1 and "+strconv.Itoa(maxDebugLogLimit))
		}
		opts.Limit = n
	}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return opts, apperror.ValidationFailed("offset", "offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	return opts, nil
}

// HandleReset handles POST /api/admin/reset. The response carries the new
// staff code so the console can show it right away.
func (h *AdminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ResetCycle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type staffCodeResponse struct {
	StaffCode string `json:"staffCode"`
}

// HandleRotateCode handles POST /api/admin/rotate-code. The scheduler
// rotates at each rollover; this is for a code that leaked mid-night.
func (h *AdminHandler) HandleRotateCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.RotateStaffCode(r.Context(), service.TriggerManual)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, staffCodeResponse{StaffCode: code})
}

// HandlePublicConfig handles GET /api/config/public. The staff code is never
// part of this response.
func (h *AdminHandler) HandlePublicConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.PublicConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
