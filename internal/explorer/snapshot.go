// SPDX-License-Identifier: MIT

package explorer

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/feature"
)

// SampleTrack is a stripped track view: display metadata plus distance, no
// raw feature vectors or PCA coordinates.
type SampleTrack struct {
	Identifier string  `json:"identifier"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album,omitempty"`
	Year       int     `json:"year,omitempty"`
	CoverURL   string  `json:"coverUrl,omitempty"`
	DurationMs int64   `json:"durationMs"`
	Distance   float64 `json:"distance"`
}

// Direction is one named axis with its candidate samples.
type Direction struct {
	Key               string        `json:"key"`
	SampleTracks      []SampleTrack `json:"sampleTracks"`
	DiversityScore    float64       `json:"diversityScore"`
	TrackCount        int           `json:"trackCount"`
	HasOpposite       bool          `json:"hasOpposite"`
	OppositeDirection string        `json:"oppositeDirection,omitempty"`
	OppositeSamples   []SampleTrack `json:"oppositeSamples,omitempty"`
	IsOutlier         bool          `json:"isOutlier"`

	// prioritized counts the leading samples that survived the dampening
	// filter; the recommended pick only draws from these.
	prioritized int
}

// NextPick is the recommended next track with the direction it came from.
type NextPick struct {
	DirectionKey string      `json:"directionKey"`
	Track        SampleTrack `json:"track"`
}

// Snapshot is an immutable neighborhood view. It is never mutated after
// Snapshot() returns; sessions keep the pointer for deck promotion.
type Snapshot struct {
	CurrentTrack SampleTrack          `json:"currentTrack"`
	Directions   map[string]Direction `json:"directions"`
	NextTrack    *NextPick            `json:"nextTrack"`

	Epoch      uint64 `json:"-"`
	Resolution string `json:"-"`

	// refs maps every offered identifier back to its full catalog record,
	// so deck promotion can reach the mixer without touching the index.
	refs map[string]*catalog.Track
}

// TrackRef resolves an offered identifier to its full catalog record. It
// only knows tracks this snapshot actually offered.
func (s *Snapshot) TrackRef(trackID string) (*catalog.Track, bool) {
	t, ok := s.refs[trackID]
	return t, ok
}

// Contains reports whether the snapshot offers the given track in any
// direction. Used by the deck-promotion fast path.
func (s *Snapshot) Contains(trackID string) (string, bool) {
	for key, dir := range s.Directions {
		for _, st := range dir.SampleTracks {
			if st.Identifier == trackID {
				return key, true
			}
		}
		for _, st := range dir.OppositeSamples {
			if st.Identifier == trackID {
				return key, true
			}
		}
	}
	return "", false
}

// RankedCandidates returns the recommended pick followed by the remaining
// candidates in deterministic preference order (diversity desc, key asc,
// sample order), deduplicated. The engine walks this list when a decode
// fails and it needs the next-best target.
func (s *Snapshot) RankedCandidates() []NextPick {
	var out []NextPick
	seen := make(map[string]struct{})
	push := func(key string, st SampleTrack) {
		if _, dup := seen[st.Identifier]; dup {
			return
		}
		seen[st.Identifier] = struct{}{}
		out = append(out, NextPick{DirectionKey: key, Track: st})
	}
	if s.NextTrack != nil {
		push(s.NextTrack.DirectionKey, s.NextTrack.Track)
	}
	keys := make([]string, 0, len(s.Directions))
	for key := range s.Directions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		di, dj := s.Directions[keys[i]], s.Directions[keys[j]]
		if di.DiversityScore != dj.DiversityScore {
			return di.DiversityScore > dj.DiversityScore
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		for _, st := range s.Directions[key].SampleTracks {
			push(key, st)
		}
	}
	return out
}

// decodeSnapshot rebuilds a snapshot from cached JSON, resolving every
// offered identifier against the current index so deck promotion keeps
// working. Returns nil when anything fails to resolve; the caller then
// recomputes.
func decodeSnapshot(raw []byte, ix *feature.Index, resolution string) *Snapshot {
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s.Epoch = ix.Epoch()
	s.Resolution = resolution
	s.refs = make(map[string]*catalog.Track)
	add := func(id string) bool {
		if _, ok := s.refs[id]; ok {
			return true
		}
		t, err := ix.GetTrack(id)
		if err != nil {
			return false
		}
		s.refs[id] = t
		return true
	}
	if !add(s.CurrentTrack.Identifier) {
		return nil
	}
	for _, dir := range s.Directions {
		for _, st := range dir.SampleTracks {
			if !add(st.Identifier) {
				return nil
			}
		}
		for _, st := range dir.OppositeSamples {
			if !add(st.Identifier) {
				return nil
			}
		}
	}
	if s.NextTrack != nil && !add(s.NextTrack.Track.Identifier) {
		return nil
	}
	return &s
}

// Filters narrows snapshot candidates. ExcludeIDs drops tracks outright
// (history, playlist already-played); Dampen pushes matching artist/album
// keys behind fresh material without removing them.
type Filters struct {
	ExcludeIDs map[string]struct{}
	Dampen     map[string]struct{}
}

// Hash returns a stable digest of the filter set for cache keys.
func (f Filters) Hash() string {
	parts := make([]string, 0, len(f.ExcludeIDs)+len(f.Dampen))
	for id := range f.ExcludeIDs {
		parts = append(parts, "x:"+id)
	}
	for key := range f.Dampen {
		parts = append(parts, "d:"+key)
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:8])
}

func (f Filters) excluded(id string) bool {
	_, ok := f.ExcludeIDs[id]
	return ok
}

func (f Filters) dampened(t *catalog.Track) bool {
	if len(f.Dampen) == 0 {
		return false
	}
	if _, ok := f.Dampen[t.ArtistKey()]; ok {
		return true
	}
	_, ok := f.Dampen[t.AlbumKey()]
	return ok
}

func sampleOf(t *catalog.Track, distance float64) SampleTrack {
	return SampleTrack{
		Identifier: t.ID,
		Title:      t.Title,
		Artist:     t.Artist,
		Album:      t.Album,
		Year:       t.Year,
		CoverURL:   t.CoverURL,
		DurationMs: t.Duration.Milliseconds(),
		Distance:   distance,
	}
}
