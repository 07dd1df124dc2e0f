package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
)

// compile-time check that *DB implements repository.ConfigRepository
var _ repository.ConfigRepository = (*DB)(nil)

// ONE ROW, ONE DOCUMENT:
// admin_config holds a single row (id = 1) with the whole AdminConfig as
// JSON. Staff edit the config as one document, so it is stored as one and
// a save replaces it atomically. InitConfig seeds it on first boot and never
// overwrites what staff saved.

// GetConfig decodes the stored admin config document.
func (db *DB) GetConfig(ctx context.Context) (*model.AdminConfig, error) {
	var doc string
	err := db.conn.QueryRowContext(ctx, `SELECT doc FROM admin_config WHERE id = 1`).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("config", "admin")
		}
		return nil, fmt.Errorf("sqlite: reading admin config: %w", err)
	}

	var cfg model.AdminConfig
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		return nil, fmt.Errorf("sqlite: decoding admin config: %w", err)
	}
	// A document saved without card settings decodes to a nil map; callers
	// index it freely, so hand back an empty one.
	if cfg.CardSettings == nil {
		cfg.CardSettings = map[int]model.CardSetting{}
	}
	return &cfg, nil
}

// InitConfig writes def only when no document exists yet and returns
// whatever is stored afterwards. Two processes booting at once both end up
// with the same document.
func (db *DB) InitConfig(ctx context.Context, def model.AdminConfig) (*model.AdminConfig, error) {
	doc, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encoding admin config: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO admin_config (id, doc, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		string(doc), millis(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: initializing admin config: %w", err)
	}
	return db.GetConfig(ctx)
}

// SaveConfig replaces the whole document; the last writer wins.
//
// UPSERT:
// "INSERT ... ON CONFLICT (id) DO UPDATE" writes the row whether or not
// InitConfig ran first. excluded.doc refers to the value the INSERT tried
// to write.
func (db *DB) SaveConfig(ctx context.Context, cfg model.AdminConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("sqlite: encoding admin config: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO admin_config (id, doc, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		string(doc), millis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving admin config: %w", err)
	}
	return nil
}
