package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
)

// compile-time check that *DB implements repository.DebugLogRepository
var _ repository.DebugLogRepository = (*DB)(nil)

// DEBUG LOG TABLE:
// fortune_debug_logs is append-only. Nothing updates or deletes a row, and
// writes never share a transaction with the ledger, so a failed append can
// never roll back an open. Staff read it newest first from the admin API.

// AppendDebugLog stores e, assigning an xid and timestamp when missing.
//
// WHY xid?
// Entries need an id staff can quote, and xid sorts by creation time, so
// "created_at DESC, id DESC" stays stable for entries written in the same
// millisecond.
func (db *DB) AppendDebugLog(ctx context.Context, e *model.DebugLogEntry) error {
	if e.ID == "" {
		e.ID = xid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	// details is nil (SQL NULL) when there is nothing to say, otherwise the
	// map as JSON text. SQLite has no JSON column type; TEXT is the idiom.
	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("sqlite: encoding debug log details: %w", err)
		}
		details = string(b)
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO fortune_debug_logs (id, handle, level, step, phase, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Handle, e.Level, e.Step, e.Phase, details, millis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting debug log: %w", err)
	}
	return nil
}

// ListDebugLogs returns the newest entries first. An empty handle lists all.
func (db *DB) ListDebugLogs(ctx context.Context, handle string, opts repository.ListOptions) ([]model.DebugLogEntry, error) {
	// The handler already clamps the limit. This default only matters to
	// callers that pass a zero ListOptions.
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	// One query serves both the filtered and the unfiltered list: with an
	// empty handle the first half of the WHERE is true for every row.
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, handle, level, step, phase, details, created_at FROM fortune_debug_logs
		 WHERE (? = '' OR handle = ?)
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		handle, handle, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing debug logs: %w", err)
	}
	// rows holds a connection from the pool until it is closed.
	defer rows.Close()

	// Non-nil so an empty result encodes as [] rather than null.
	entries := []model.DebugLogEntry{}
	for rows.Next() {
		var (
			e         model.DebugLogEntry
			details   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Handle, &e.Level, &e.Step, &e.Phase, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning debug log row: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("sqlite: decoding debug log details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	// rows.Next returns false on error too; rows.Err tells the two apart.
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating debug log rows: %w", err)
	}
	return entries, nil
}
