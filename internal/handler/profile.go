package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/fortune-club/internal/model"
)

// ProfileHandler serves the profile, the collection album and the tester
// reset.
//
// Every route here acts on the caller. There is no {handle} in any path, so
// one patron can never read or edit another's profile by changing a URL.
type ProfileHandler struct {
	svc    ProfileService
	logger *slog.Logger
}

func NewProfileHandler(svc ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger}
}

// HandleGet handles GET /api/profile.
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	handle, ok := requireHandle(w, r)
	if !ok {
		return
	}

	// model.User hides CredentialHash via its json:"-" tag, so the user can
	// be written as-is.
	u, err := h.svc.Get(r.Context(), handle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleUpdate handles PUT /api/profile. The body replaces the whole
// profile; omitted fields are cleared.
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	handle, ok := requireHandle(w, r)
	if !ok {
		return
	}

	// decodeJSON rejects unknown fields and bodies over the size cap.
	var p model.Profile
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, err)
		return
	}

	u, err := h.svc.Update(r.Context(), handle, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleCollection handles GET /api/collection.
//
// The response carries the owned cards with counts plus the full catalog, so
// the client can draw the empty album slots.
func (h *ProfileHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	handle, ok := requireHandle(w, r)
	if !ok {
		return
	}

	c, err := h.svc.Collection(r.Context(), handle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleReset handles POST /api/profile/reset for test accounts. Ordinary
// patrons get 403 from the service.
func (h *ProfileHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	handle, ok := requireHandle(w, r)
	if !ok {
		return
	}

	if err := h.svc.ResetTestData(r.Context(), handle); err != nil {
		writeError(w, err)
		return
	}
	// 204: the reset succeeded and there is nothing to return.
	w.WriteHeader(http.StatusNoContent)
}
