package handler

import (
	"log/slog"
	"net/http"
)

// FortuneHandler serves the daily open. It has one route and no input
// besides the caller's identity.
type FortuneHandler struct {
	svc    FortuneService
	logger *slog.Logger
}

// NewFortuneHandler wires the handler to its service.
func NewFortuneHandler(svc FortuneService, logger *slog.Logger) *FortuneHandler {
	return &FortuneHandler{svc: svc, logger: logger}
}

// HandleOpen handles POST /api/fortune.
//
// A refused open (not checked in, already opened) is a normal 200 response
// with "opened": false and a "reason"; only store failures are errors.
func (h *FortuneHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	handle, ok := requireHandle(w, r)
	if !ok {
		return
	}

	// POST, not GET: opening changes state and must never be repeated by a
	// prefetch or a cache.
	res, err := h.svc.Open(r.Context(), handle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
