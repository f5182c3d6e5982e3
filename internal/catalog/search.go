// SPDX-License-Identifier: MIT

package catalog

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// SearchResult pairs a track with its fuzzy-match score (higher is better).
type SearchResult struct {
	Track *Track
	Score float64
}

// Search ranks tracks against the query over title, artist and album.
// The primary score is a normalized Levenshtein similarity on the best-
// matching field; Jaro-Winkler breaks near-ties so prefix matches surface
// first. Substring hits get a floor score so short queries behave like the
// search box users expect.
func Search(tracks []Track, query string, limit int) []SearchResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return nil
	}

	results := make([]SearchResult, 0, 32)
	for i := range tracks {
		t := &tracks[i]
		score := fieldScore(q, t.Title)
		if s := fieldScore(q, t.Artist); s > score {
			score = s
		}
		if s := fieldScore(q, t.Album); s > score {
			score = s
		}
		if score < 0.45 {
			continue
		}
		results = append(results, SearchResult{Track: t, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Track.ID < results[j].Track.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func fieldScore(q, field string) float64 {
	f := strings.ToLower(strings.TrimSpace(field))
	if f == "" {
		return 0
	}
	if f == q {
		return 1
	}
	var score float64
	if strings.Contains(f, q) {
		// Substring hit: floor plus a bonus for covering more of the field.
		score = 0.6 + 0.3*float64(len(q))/float64(len(f))
	}
	dist := matchr.Levenshtein(q, f)
	longer := len(q)
	if len(f) > longer {
		longer = len(f)
	}
	lev := 1 - float64(dist)/float64(longer)
	// Jaro-Winkler as a tiebreak weight, not a gate.
	jw := matchr.JaroWinkler(q, f, true)
	if s := 0.8*lev + 0.2*jw; s > score {
		score = s
	}
	return score
}
