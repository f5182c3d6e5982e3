// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/persistence/sqlite"
)

// Store reads the track catalog database. The daemon never writes to it; an
// external analysis pipeline produces the file and the watcher triggers a
// reload when it changes.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the catalog database read-only.
func Open(path string) (*Store, error) {
	db, err := sqlite.Open(path, sqlite.ReadOnlyConfig())
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the on-disk location of the catalog database.
func (s *Store) Path() string { return s.path }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// LoadTracks reads every catalog row. Rows with malformed identifiers or
// unparsable feature JSON are skipped with a warning rather than failing the
// whole load.
func (s *Store) LoadTracks(ctx context.Context) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, title, artist, album, year, cover_url, duration_ms, path, features
		FROM tracks`)
	if err != nil {
		return nil, fmt.Errorf("catalog: query tracks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	logger := log.WithComponent("catalog")
	var out []Track
	skipped := 0
	for rows.Next() {
		var (
			id, title, artist, album, cover, path string
			year                                  int
			durationMs                            int64
			featJSON                              sql.NullString
		)
		if err := rows.Scan(&id, &title, &artist, &album, &year, &cover, &durationMs, &path, &featJSON); err != nil {
			return nil, fmt.Errorf("catalog: scan track: %w", err)
		}
		id = NormalizeID(id)
		if id == "" {
			skipped++
			continue
		}
		t := Track{
			ID:       id,
			Title:    title,
			Artist:   artist,
			Album:    album,
			Year:     year,
			CoverURL: cover,
			Duration: time.Duration(durationMs) * time.Millisecond,
			Path:     path,
		}
		if featJSON.Valid && featJSON.String != "" {
			if err := json.Unmarshal([]byte(featJSON.String), &t.Features); err != nil {
				logger.Warn().Err(err).Str(log.FieldTrackID, id).Msg("unparsable feature vector, loading without features")
				t.Features = nil
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate tracks: %w", err)
	}
	if skipped > 0 {
		logger.Warn().Int("skipped", skipped).Msg("catalog rows with malformed identifiers skipped")
	}
	if len(out) == 0 {
		return nil, fault.New(fault.KindUnavailable, "catalog.load", "catalog is empty")
	}
	logger.Info().Int("tracks", len(out)).Str("path", s.path).Msg("catalog loaded")
	return out, nil
}
