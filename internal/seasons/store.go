// Package seasons tracks per-season confirmation state for shows whose
// packs do not cover every aired episode.
package seasons

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bridgearr/bridgearr/internal/database"
)

// ErrRecordNotFound is returned when no record exists for a show and
// season.
var ErrRecordNotFound = errors.New("season record not found")

// Record is the persisted confirmation state of one show season.
type Record struct {
	ID                int64
	ShowTitle         string
	ShowID            int64
	ExternalID        string
	SeasonNumber      int
	EpisodeCount      int
	AiredEpisodes     int
	ConfirmedEpisodes []int
	FailedEpisodes    []int
	IsDiscrepant      bool
	LastChecked       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Store persists season records.
type Store struct {
	db *database.DB
}

// NewStore creates a season record store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts or refreshes a record keyed by show title and season
// number. Episode progress lists are preserved on conflict; counts and
// the discrepancy flag are overwritten.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO season_records (
			show_title, show_id, external_id, season_number,
			episode_count, aired_episodes, confirmed_episodes,
			failed_episodes, is_discrepant
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (show_title, season_number) DO UPDATE SET
			show_id = excluded.show_id,
			external_id = excluded.external_id,
			episode_count = excluded.episode_count,
			aired_episodes = excluded.aired_episodes,
			is_discrepant = excluded.is_discrepant,
			updated_at = datetime('now')
	`

	confirmed, err := marshalEpisodes(rec.ConfirmedEpisodes)
	if err != nil {
		return err
	}
	failed, err := marshalEpisodes(rec.FailedEpisodes)
	if err != nil {
		return err
	}

	_, err = s.db.Conn().ExecContext(ctx, query,
		rec.ShowTitle, rec.ShowID, rec.ExternalID, rec.SeasonNumber,
		rec.EpisodeCount, rec.AiredEpisodes, confirmed, failed,
		boolToInt(rec.IsDiscrepant),
	)
	if err != nil {
		return fmt.Errorf("upserting season record: %w", err)
	}
	return nil
}

// Get returns the record for a show season.
func (s *Store) Get(ctx context.Context, showTitle string, season int) (*Record, error) {
	query := selectColumns + ` WHERE show_title = ? AND season_number = ?`
	rec, err := scanRecord(s.db.Conn().QueryRowContext(ctx, query, showTitle, season))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// Discrepant returns all records whose seasons still need episode
// level attention.
func (s *Store) Discrepant(ctx context.Context) ([]*Record, error) {
	query := selectColumns + ` WHERE is_discrepant = 1 ORDER BY show_title, season_number`
	rows, err := s.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing discrepant seasons: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateProgress replaces a record's episode progress after a
// confirmation pass. Failed episodes are replaced wholesale; carrying
// stale failures forward would recheck episodes that no longer exist
// in the aired range.
func (s *Store) UpdateProgress(ctx context.Context, id int64, aired, count int, confirmed, failed []int, discrepant bool) error {
	confirmedJSON, err := marshalEpisodes(confirmed)
	if err != nil {
		return err
	}
	failedJSON, err := marshalEpisodes(failed)
	if err != nil {
		return err
	}

	query := `
		UPDATE season_records SET
			aired_episodes = ?,
			episode_count = ?,
			confirmed_episodes = ?,
			failed_episodes = ?,
			is_discrepant = ?,
			last_checked = datetime('now'),
			updated_at = datetime('now')
		WHERE id = ?
	`
	_, err = s.db.Conn().ExecContext(ctx, query,
		aired, count, confirmedJSON, failedJSON, boolToInt(discrepant), id)
	if err != nil {
		return fmt.Errorf("updating season progress: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, show_title, show_id, external_id, season_number,
		episode_count, aired_episodes, confirmed_episodes,
		failed_episodes, is_discrepant,
		COALESCE(last_checked, ''), created_at, updated_at
	FROM season_records
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec         Record
		confirmed   string
		failed      string
		discrepant  int
		lastChecked string
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(
		&rec.ID, &rec.ShowTitle, &rec.ShowID, &rec.ExternalID,
		&rec.SeasonNumber, &rec.EpisodeCount, &rec.AiredEpisodes,
		&confirmed, &failed, &discrepant, &lastChecked, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(confirmed), &rec.ConfirmedEpisodes); err != nil {
		return nil, fmt.Errorf("decoding confirmed episodes: %w", err)
	}
	if err := json.Unmarshal([]byte(failed), &rec.FailedEpisodes); err != nil {
		return nil, fmt.Errorf("decoding failed episodes: %w", err)
	}
	rec.IsDiscrepant = discrepant != 0
	rec.LastChecked = parseSQLiteTime(lastChecked)
	rec.CreatedAt = parseSQLiteTime(createdAt)
	rec.UpdatedAt = parseSQLiteTime(updatedAt)
	return &rec, nil
}

func marshalEpisodes(episodes []int) (string, error) {
	if episodes == nil {
		episodes = []int{}
	}
	data, err := json.Marshal(episodes)
	if err != nil {
		return "", fmt.Errorf("encoding episode list: %w", err)
	}
	return string(data), nil
}

func parseSQLiteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
