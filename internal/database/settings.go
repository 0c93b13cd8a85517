package database

import (
	"context"
	"database/sql"
	"errors"
)

// ErrSettingNotFound is returned when a settings key does not exist.
var ErrSettingNotFound = errors.New("setting not found")

// Setting keys used by the credential lifecycle.
const (
	SettingAccessToken  = "debrid.access_token"
	SettingRefreshToken = "debrid.refresh_token"
	SettingSecretSalt   = "crypto.salt"
	SettingNeedsSetup   = "system.needs_setup"
)

// GetSetting returns the value stored under key.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSettingNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting upserts a settings value.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	return err
}

// DeleteSetting removes a settings key. Missing keys are not an error.
func (db *DB) DeleteSetting(ctx context.Context, key string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	return err
}
