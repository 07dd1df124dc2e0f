// Package handler is the HTTP layer.
//
// WHAT IS A HANDLER?
// A handler turns one HTTP request into one service call and writes the
// result back. It is the only layer that knows about status codes, cookies,
// JSON bodies and URL parameters.
//
// HANDLER RESPONSIBILITIES:
//
//  1. Identify the caller (requireHandle reads what RequireAuth stored)
//  2. Decode and bound the input (decodeJSON, listOptions)
//  3. Call exactly one service method
//  4. Map the result or the error to a response (writeJSON, writeError)
//
// No business rule lives here. "Is the staff code right?" is a service
// question; "was the body valid JSON?" is a handler question.
//
// WHY A STRUCT?
// Each handler group is a struct holding its service interface and a
// logger. server.go builds it once and registers its methods as routes;
// tests build it with a Mock* service (mocks_test.go).
package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/fortune-club/internal/auth"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/service"
)

// CheckInHandler serves the door check-in, the patron's current record and
// the matching endpoints.
type CheckInHandler struct {
	svc    CheckInService
	logger *slog.Logger
}

func NewCheckInHandler(svc CheckInService, logger *slog.Logger) *CheckInHandler {
	return &CheckInHandler{svc: svc, logger: logger}
}

// checkInRequest is the wire shape. lat and lng are omitted, not zero, when
// the browser denied location access.
type checkInRequest struct {
	Handle     string   `json:"handle"`
	Credential string   `json:"credential"`
	StaffCode  string   `json:"staffCode"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
}

type checkInResponse struct {
	Checkin   *model.Checkin `json:"checkin"`
	IsNewUser bool           `json:"isNewUser"`
	Token     string         `json:"token"`
}

// HandleCheckIn handles POST /api/checkin. On success the session token is
// returned in the body and set as a cookie.
func (h *CheckInHandler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.CheckIn(r.Context(), service.CheckInRequest{
		Handle:     req.Handle,
		Credential: req.Credential,
		StaffCode:  req.StaffCode,
		Lat:        req.Lat,
		Lng:        req.Lng,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	setSessionCookie(w, r, res.Token, int(auth.DefaultUserTTL.Seconds()))
	writeJSON(w, http.StatusOK, checkInResponse{
		Checkin:   res.Checkin,
		IsNewUser: res.IsNewUser,
		Token:     res.Token,
	})
}

// HandleCurrent handles GET /api/checkin.
func (h *CheckInHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	handle, ok := requireHandle(w, r)
	if !ok {
		return
	}

	c, err := h.svc.Current(r.Context(), handle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type candidatesResponse struct {
	Candidates []model.MatchCandidate `json:"candidates"`
}

// HandleCandidates handles GET /api/checkin/candidates.
func (h *CheckInHandler) HandleCandidates(w http.ResponseWriter, r *http.Request) {
	handle, ok := requireHandle(w, r)
	if !ok {
		return
	}

	candidates, err := h.svc.MatchCandidates(r.Context(), handle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidatesResponse{Candidates: candidates})
}

type matchRequest struct {
	MatchedWith string `json:"matchedWith"`
}

// HandleMatch handles PUT /api/checkin/match.
func (h *CheckInHandler) HandleMatch(w http.ResponseWriter, r *http.Request) {
	handle, ok := requireHandle(w, r)
	if !ok {
		return
	}

	var req matchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.RecordMatch(r.Context(), handle, req.MatchedWith); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
