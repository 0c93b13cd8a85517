package database

import (
	"context"
	"fmt"
)

// Confirmation is one row of the confirmation audit trail.
type Confirmation struct {
	ID         int64  `json:"id"`
	RequestID  string `json:"requestId"`
	ExternalID string `json:"externalId"`
	Title      string `json:"title"`
	MediaType  string `json:"mediaType"`
	Outcome    string `json:"outcome"`
	Detail     string `json:"detail"`
	CreatedAt  string `json:"createdAt"`
}

// RecordConfirmation appends one confirmation outcome to the audit
// table. The table is write-only from the application's point of view;
// season state is tracked in season_records.
func (db *DB) RecordConfirmation(ctx context.Context, requestID, externalID, title, mediaType, outcome, detail string) error {
	query := `
		INSERT INTO confirmations (request_id, external_id, title, media_type, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := db.conn.ExecContext(ctx, query, requestID, externalID, title, mediaType, outcome, detail); err != nil {
		return fmt.Errorf("recording confirmation: %w", err)
	}
	return nil
}

// ListConfirmations returns recent confirmation outcomes, newest first.
func (db *DB) ListConfirmations(ctx context.Context, limit, offset int) ([]Confirmation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, request_id, external_id, title, media_type, outcome, COALESCE(detail, ''), created_at
		FROM confirmations
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing confirmations: %w", err)
	}
	defer rows.Close()

	var out []Confirmation
	for rows.Next() {
		var c Confirmation
		if err := rows.Scan(&c.ID, &c.RequestID, &c.ExternalID, &c.Title, &c.MediaType, &c.Outcome, &c.Detail, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning confirmation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
