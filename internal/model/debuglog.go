package model

import "time"

// DebugLogEntry is an append-only diagnostic event for the fortune flow.
//
// Step names the flow (open_fortune) and Phase the stage within it: draw,
// commit or coupon_issue. Details holds whatever the stage found useful and is
// stored as JSON text.
type DebugLogEntry struct {
	ID        string         `json:"id"`
	Handle    string         `json:"handle"`
	Level     string         `json:"level"`
	Step      string         `json:"step"`
	Phase     string         `json:"phase"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
