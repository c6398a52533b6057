package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoCursor is returned by Read when no checkpoint has ever been written;
// the ingress handler treats it as a cold start and never backfills.
var ErrNoCursor = errors.New("history cursor not initialized")

// CursorRepo stores the Gmail history checkpoint. A single row; the upsert
// takes GREATEST so concurrent notifications can never move it backwards.
type CursorRepo struct{ db *sql.DB }

// NewCursorRepo creates the cursor repository.
func NewCursorRepo(db *sql.DB) *CursorRepo { return &CursorRepo{db: db} }

// Read returns the last fully processed history id.
func (r *CursorRepo) Read(ctx context.Context) (uint64, error) {
	var id uint64
	err := r.db.QueryRowContext(ctx,
		`SELECT history_id FROM gmail_cursor WHERE id = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNoCursor
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return id, nil
}

// Advance moves the cursor forward to historyID. Writes that would move it
// backwards are absorbed by GREATEST.
func (r *CursorRepo) Advance(ctx context.Context, historyID uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gmail_cursor (id, history_id, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET history_id = GREATEST(gmail_cursor.history_id, EXCLUDED.history_id),
		    updated_at = NOW()
	`, historyID)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}
