// SPDX-License-Identifier: MIT

// Package feature holds the in-memory feature index: the whole catalog as a
// flat vector store with identifier lookup, radius-limited and direction-
// constrained nearest-neighbor queries. An Index is immutable after Build;
// catalog reloads build a fresh one and swap it in atomically upstream.
package feature

import (
	"math"
	"sort"
	"strings"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
)

// Hit pairs a track with its distance from the query origin.
type Hit struct {
	Track    *catalog.Track
	Distance float64
}

// Index is the read-only vector store. Distances operate on z-scored
// components so every dimension contributes on a comparable scale.
type Index struct {
	tracks []catalog.Track
	byID   map[string]*catalog.Track
	epoch  uint64

	mean   map[string]float64
	stddev map[string]float64
	dims   []string
}

// Build constructs an index over the given tracks. The epoch identifies the
// catalog generation for cache keys.
func Build(tracks []catalog.Track, epoch uint64) *Index {
	ix := &Index{
		tracks: tracks,
		byID:   make(map[string]*catalog.Track, len(tracks)),
		epoch:  epoch,
		mean:   make(map[string]float64),
		stddev: make(map[string]float64),
	}
	counts := make(map[string]int)
	for i := range tracks {
		t := &tracks[i]
		ix.byID[t.ID] = t
		for dim, v := range t.Features {
			ix.mean[dim] += v
			counts[dim]++
		}
	}
	for dim, sum := range ix.mean {
		ix.mean[dim] = sum / float64(counts[dim])
	}
	for i := range tracks {
		for dim, v := range tracks[i].Features {
			d := v - ix.mean[dim]
			ix.stddev[dim] += d * d
		}
	}
	for dim, ss := range ix.stddev {
		sd := math.Sqrt(ss / float64(counts[dim]))
		if sd < 1e-9 {
			sd = 1 // constant dimension: z-score collapses to 0 deltas anyway
		}
		ix.stddev[dim] = sd
	}
	for dim := range ix.mean {
		ix.dims = append(ix.dims, dim)
	}
	sort.Strings(ix.dims)

	metrics.IndexTracks.Set(float64(len(tracks)))
	return ix
}

// Epoch returns the catalog generation this index was built from.
func (ix *Index) Epoch() uint64 { return ix.epoch }

// Len returns the number of indexed tracks.
func (ix *Index) Len() int { return len(ix.tracks) }

// Tracks exposes the backing slice for read-only iteration (search, stats).
func (ix *Index) Tracks() []catalog.Track { return ix.tracks }

// GetTrack resolves an identifier.
func (ix *Index) GetTrack(id string) (*catalog.Track, error) {
	t, ok := ix.byID[strings.ToLower(id)]
	if !ok {
		return nil, fault.NotFound("index.get", "unknown track %q", id)
	}
	return t, nil
}

// z converts a raw component value to standard units.
func (ix *Index) z(dim string, v float64) float64 {
	return (v - ix.mean[dim]) / ix.stddev[dim]
}

// distance computes the weighted Euclidean distance between two tracks over
// the required dimensions. ok is false when either side lacks a required
// component.
func (ix *Index) distance(a, b *catalog.Track, dims []string, weights map[string]float64) (float64, bool) {
	var sum float64
	for _, dim := range dims {
		av, aok := a.Features[dim]
		bv, bok := b.Features[dim]
		if !aok || !bok {
			return 0, false
		}
		w := 1.0
		if weights != nil {
			if ww, ok := weights[dim]; ok {
				w = ww
			}
		}
		d := (ix.z(dim, av) - ix.z(dim, bv)) * w
		sum += d * d
	}
	return math.Sqrt(sum), true
}

// requiredDims picks the query dimensions: the weight keys when weights are
// given, otherwise every component the origin carries.
func (ix *Index) requiredDims(origin *catalog.Track, weights map[string]float64) []string {
	if len(weights) > 0 {
		dims := make([]string, 0, len(weights))
		for dim := range weights {
			dims = append(dims, dim)
		}
		sort.Strings(dims)
		return dims
	}
	dims := make([]string, 0, len(origin.Features))
	for dim := range origin.Features {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	return dims
}

// RadiusSearch returns tracks within radius of the origin in the weighted
// feature space, ascending by distance, self excluded. Tracks missing a
// required component are skipped.
func (ix *Index) RadiusSearch(originID string, radius float64, weights map[string]float64, limit int) ([]Hit, error) {
	origin, err := ix.GetTrack(originID)
	if err != nil {
		return nil, err
	}
	if radius < 0 || limit <= 0 {
		return nil, nil
	}
	dims := ix.requiredDims(origin, weights)
	return ix.collect(origin, dims, weights, radius, limit), nil
}

func (ix *Index) collect(origin *catalog.Track, dims []string, weights map[string]float64, radius float64, limit int) []Hit {
	hits := make([]Hit, 0, limit)
	for i := range ix.tracks {
		t := &ix.tracks[i]
		if t.ID == origin.ID {
			continue
		}
		d, ok := ix.distance(origin, t, dims, weights)
		if !ok || d > radius {
			continue
		}
		hits = append(hits, Hit{Track: t, Distance: d})
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Track.ID < hits[j].Track.ID
	})
}
