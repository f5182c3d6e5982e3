// SPDX-License-Identifier: MIT

// Package catalog loads the track catalog from SQLite and offers fuzzy
// search over it. Tracks are immutable once loaded; the feature index holds
// pointers into the same slice.
package catalog

import (
	"strings"
	"time"
)

// Track is an immutable catalog record keyed by a 32-hex content hash.
// Feature components may be missing for a track; a missing component makes
// the track ineligible for searches that require it.
type Track struct {
	ID       string
	Title    string
	Artist   string
	Album    string
	Year     int
	CoverURL string
	Duration time.Duration
	Path     string

	// Features maps named acoustic/statistical dimensions (bpm,
	// spectral_centroid, energy, onset_rate, pca<N>, latent<N>) to values.
	Features map[string]float64
}

// Feature returns the named component and whether the track carries it.
func (t *Track) Feature(name string) (float64, bool) {
	v, ok := t.Features[name]
	return v, ok
}

// HasFeatures reports whether the track carries every named component.
func (t *Track) HasFeatures(names ...string) bool {
	for _, n := range names {
		if _, ok := t.Features[n]; !ok {
			return false
		}
	}
	return true
}

// ArtistKey returns the lowercase artist key used by the explorer's
// dampening filter.
func (t *Track) ArtistKey() string {
	return strings.ToLower(strings.TrimSpace(t.Artist))
}

// AlbumKey returns the lowercase "artist|album" key used by the explorer's
// dampening filter.
func (t *Track) AlbumKey() string {
	return t.ArtistKey() + "|" + strings.ToLower(strings.TrimSpace(t.Album))
}

// ValidID reports whether s is a well-formed track identifier: exactly 32
// lowercase hex characters.
func ValidID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// NormalizeID lowercases an identifier so mixed-case deep links and commit
// bodies resolve. Returns "" when the result is not a valid id.
func NormalizeID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !ValidID(s) {
		return ""
	}
	return s
}
