// SPDX-License-Identifier: MIT

// Package store persists listener state that outlives sessions: playlists,
// ratings, and per-track play statistics. SQLite-backed, schema-versioned
// via PRAGMA user_version.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/persistence/sqlite"
)

const schemaVersion = 1

// StateStore is the SQLite-backed state database.
type StateStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database and runs migrations.
func Open(path string) (*StateStore, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("state store: open: %w", err)
	}
	s := &StateStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state store: migration failed: %w", err)
	}
	return s, nil
}

func (s *StateStore) Close() error { return s.db.Close() }

func (s *StateStore) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS playlists (
		playlist_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS playlist_items (
		playlist_id TEXT NOT NULL REFERENCES playlists(playlist_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		track_id TEXT NOT NULL,
		PRIMARY KEY (playlist_id, position)
	);

	CREATE TABLE IF NOT EXISTS ratings (
		track_id TEXT PRIMARY KEY,
		rating INTEGER NOT NULL,
		rated_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS play_stats (
		track_id TEXT PRIMARY KEY,
		play_count INTEGER NOT NULL DEFAULT 0,
		last_played_ms INTEGER NOT NULL,
		listened_ms INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Playlist is a stored playlist with its ordered track IDs.
type Playlist struct {
	ID      string
	Name    string
	Tracks  []string
	Created time.Time
}

// SavePlaylist inserts or replaces a playlist and its items in one
// transaction.
func (s *StateStore) SavePlaylist(ctx context.Context, p Playlist) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	created := p.Created
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO playlists (playlist_id, name, created_at_ms) VALUES (?, ?, ?)`,
		p.ID, p.Name, created.UnixMilli()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM playlist_items WHERE playlist_id = ?`, p.ID); err != nil {
		return err
	}
	for i, trackID := range p.Tracks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO playlist_items (playlist_id, position, track_id) VALUES (?, ?, ?)`,
			p.ID, i, trackID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetPlaylist loads a playlist with its items in order.
func (s *StateStore) GetPlaylist(ctx context.Context, id string) (*Playlist, error) {
	var p Playlist
	var createdMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT playlist_id, name, created_at_ms FROM playlists WHERE playlist_id = ?`, id).
		Scan(&p.ID, &p.Name, &createdMs)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("store.get_playlist", "playlist %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	p.Created = time.UnixMilli(createdMs)

	rows, err := s.db.QueryContext(ctx,
		`SELECT track_id FROM playlist_items WHERE playlist_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var trackID string
		if err := rows.Scan(&trackID); err != nil {
			return nil, err
		}
		p.Tracks = append(p.Tracks, trackID)
	}
	return &p, rows.Err()
}

// SetRating persists a 0..5 rating for a track.
func (s *StateStore) SetRating(ctx context.Context, trackID string, rating int) error {
	if rating < 0 || rating > 5 {
		return fault.InvalidArgument("store.set_rating", "rating %d out of range 0..5", rating)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ratings (track_id, rating, rated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(track_id) DO UPDATE SET rating = excluded.rating, rated_at_ms = excluded.rated_at_ms`,
		trackID, rating, time.Now().UnixMilli())
	return err
}

// GetRating returns the stored rating for a track, or -1 when unrated.
func (s *StateStore) GetRating(ctx context.Context, trackID string) (int, error) {
	var rating int
	err := s.db.QueryRowContext(ctx,
		`SELECT rating FROM ratings WHERE track_id = ?`, trackID).Scan(&rating)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return rating, nil
}

// RecordPlay finalizes one listen of a track: bumps the play count, stamps
// last played, and accumulates listened milliseconds, in one transaction.
// Called from the track-committed path; failures are the caller's to log,
// never to block playback on.
func (s *StateStore) RecordPlay(ctx context.Context, trackID string, listened time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO play_stats (track_id, play_count, last_played_ms, listened_ms)
		 VALUES (?, 1, ?, ?)
		 ON CONFLICT(track_id) DO UPDATE SET
			play_count = play_count + 1,
			last_played_ms = excluded.last_played_ms,
			listened_ms = listened_ms + excluded.listened_ms`,
		trackID, time.Now().UnixMilli(), listened.Milliseconds()); err != nil {
		return err
	}
	return tx.Commit()
}

// PlayStats is the accumulated listen record for one track.
type PlayStats struct {
	TrackID    string
	PlayCount  int
	LastPlayed time.Time
	ListenedMs int64
}

// GetPlayStats returns the stats row for a track, or nil when never played.
func (s *StateStore) GetPlayStats(ctx context.Context, trackID string) (*PlayStats, error) {
	var ps PlayStats
	var lastMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT track_id, play_count, last_played_ms, listened_ms FROM play_stats WHERE track_id = ?`,
		trackID).Scan(&ps.TrackID, &ps.PlayCount, &lastMs, &ps.ListenedMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ps.LastPlayed = time.UnixMilli(lastMs)
	return &ps, nil
}

// LogRecordPlayError is the standard non-fatal handling for RecordPlay
// failures on the audio path.
func LogRecordPlayError(trackID string, err error) {
	if err == nil {
		return
	}
	logger := log.WithComponent("store")
	logger.Warn().
		Str(log.FieldTrackID, trackID).
		Err(err).
		Msg("failed to record play stats")
}
