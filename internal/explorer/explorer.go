// SPDX-License-Identifier: MIT

// Package explorer computes neighborhood snapshots: for a source track, the
// named directions a listener could steer toward, each with a short ranked
// candidate list, plus one recommended next pick. Snapshots are pure values;
// computing one never mutates the session or the index.
package explorer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/justinTNT/tsnotfyi-sub002/internal/cache"
	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/config"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/feature"
	"github.com/justinTNT/tsnotfyi-sub002/internal/latent"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
	"github.com/justinTNT/tsnotfyi-sub002/internal/telemetry"
)

// Explorer owns the snapshot pipeline. The index getter returns the current
// immutable index so catalog reloads take effect without restarting.
type Explorer struct {
	index  func() *feature.Index
	latent *latent.Client
	cache  cache.Cache
	sf     singleflight.Group
	cfg    config.ExplorerSettings
}

// New builds an explorer. latentClient may be nil (pure non-latent catalog).
func New(index func() *feature.Index, latentClient *latent.Client, snapCache cache.Cache, cfg config.ExplorerSettings) *Explorer {
	if snapCache == nil {
		snapCache = cache.NewNoOpCache()
	}
	return &Explorer{index: index, latent: latentClient, cache: snapCache, cfg: cfg}
}

// Snapshot computes (or serves from cache) the neighborhood view for the
// source track. cached reports whether the result came from the cache, for
// the X-Cache response header. Identical concurrent requests share one
// computation.
func (e *Explorer) Snapshot(ctx context.Context, sourceID, resolution string, filters Filters) (snap *Snapshot, cached bool, err error) {
	ix := e.index()
	source, err := ix.GetTrack(sourceID)
	if err != nil {
		return nil, false, fault.NotFound("explorer.snapshot", "source %q not found", sourceID)
	}
	resolution = NormalizeResolution(resolution)

	key := fmt.Sprintf("snap:%d:%s:%s:%s", ix.Epoch(), source.ID, resolution, filters.Hash())
	if v, ok := e.cache.Get(key); ok {
		switch stored := v.(type) {
		case *Snapshot:
			metrics.IncSnapshotCacheHit()
			return stored, true, nil
		case []byte:
			// A serializing backend hands JSON back; the key pins the
			// epoch, so refs rebuild cleanly against the current index.
			if s := decodeSnapshot(stored, ix, resolution); s != nil {
				metrics.IncSnapshotCacheHit()
				return s, true, nil
			}
		}
	}

	v, err, _ := e.sf.Do(key, func() (any, error) {
		ctx, span := telemetry.Tracer("explorer").Start(ctx, "explorer.snapshot")
		span.SetAttributes(telemetry.SnapshotAttributes(source.ID, resolution, false)...)
		defer span.End()

		start := time.Now()
		s, err := e.compute(ctx, ix, source, resolution, filters)
		if err != nil {
			span.SetAttributes(telemetry.ErrorAttributes(fault.KindOf(err).String())...)
			return nil, err
		}
		metrics.ObserveSnapshot(time.Since(start))
		e.cache.Set(key, s, e.cfg.CacheTTL)
		return s, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Snapshot), false, nil
}

func (e *Explorer) compute(ctx context.Context, ix *feature.Index, source *catalog.Track, resolution string, filters Filters) (*Snapshot, error) {
	latentUp := e.latent != nil && e.latent.Healthy()
	dirCfg := ix.CalibratedDirectionConfig(source.ID, e.cfg.SampleCount*4)

	raw := make(map[string][]feature.Hit)
	for _, key := range ix.DirectionKeys() {
		if isLatentKey(key) && !latentUp {
			continue // family silently skipped while the backend is down
		}
		var hits []feature.Hit
		var err error
		if feature.IsOutlier(key) {
			hits, err = ix.OutlierSearch(source.ID, dirCfg.OrthoRadius*3, dirCfg.Limit)
		} else {
			hits, err = ix.DirectionSearch(source.ID, key, dirCfg)
		}
		if err != nil {
			return nil, err
		}
		if isLatentKey(key) && len(hits) > 0 {
			hits = e.rerankByFlow(ctx, source, key, hits)
			if hits == nil {
				// Backend dropped mid-snapshot: skip the family from here on.
				latentUp = false
				continue
			}
		}
		if len(hits) > 0 {
			raw[key] = hits
		}
	}

	snap := &Snapshot{
		CurrentTrack: sampleOf(source, 0),
		Directions:   make(map[string]Direction, len(raw)),
		Epoch:        ix.Epoch(),
		Resolution:   resolution,
		refs:         map[string]*catalog.Track{source.ID: source},
	}
	for _, hits := range raw {
		for _, h := range hits {
			snap.refs[h.Track.ID] = h.Track
		}
	}

	for key, hits := range raw {
		dir := e.buildDirection(key, hits, filters)
		if len(dir.SampleTracks) == 0 {
			continue
		}
		opp := feature.Opposite(key)
		if oppHits, ok := raw[opp]; ok && opp != "" {
			dir.HasOpposite = true
			dir.OppositeDirection = opp
			dir.OppositeSamples = e.sampleSlice(oppHits, filters)
		}
		snap.Directions[key] = dir
	}

	snap.NextTrack = recommend(snap)
	return snap, nil
}

// buildDirection applies filters and computes the diversity score. Excluded
// candidates drop; dampened artists/albums sort behind fresh material.
func (e *Explorer) buildDirection(key string, hits []feature.Hit, filters Filters) Direction {
	prioritized := make([]SampleTrack, 0, e.cfg.SampleCount)
	dampened := make([]SampleTrack, 0, e.cfg.SampleCount)
	kept := make([]feature.Hit, 0, len(hits))
	for _, h := range hits {
		if filters.excluded(h.Track.ID) {
			continue
		}
		kept = append(kept, h)
		if filters.dampened(h.Track) {
			dampened = append(dampened, sampleOf(h.Track, h.Distance))
		} else {
			prioritized = append(prioritized, sampleOf(h.Track, h.Distance))
		}
	}

	samples := append(prioritized, dampened...)
	if len(samples) > e.cfg.SampleCount {
		samples = samples[:e.cfg.SampleCount]
	}
	nPrior := len(prioritized)
	if nPrior > len(samples) {
		nPrior = len(samples)
	}

	return Direction{
		Key:            key,
		SampleTracks:   samples,
		DiversityScore: diversity(kept),
		TrackCount:     len(kept),
		IsOutlier:      feature.IsOutlier(key),
		prioritized:    nPrior,
	}
}

func (e *Explorer) sampleSlice(hits []feature.Hit, filters Filters) []SampleTrack {
	out := make([]SampleTrack, 0, e.cfg.SampleCount)
	for _, h := range hits {
		if filters.excluded(h.Track.ID) {
			continue
		}
		out = append(out, sampleOf(h.Track, h.Distance))
		if len(out) == e.cfg.SampleCount {
			break
		}
	}
	return out
}

// diversity scores a candidate list: the ratio of distinct artists weighted
// by the mean candidate distance spread. Deterministic for a fixed list.
func diversity(hits []feature.Hit) float64 {
	if len(hits) == 0 {
		return 0
	}
	artists := make(map[string]struct{}, len(hits))
	var sum float64
	for _, h := range hits {
		artists[h.Track.ArtistKey()] = struct{}{}
		sum += h.Distance
	}
	ratio := float64(len(artists)) / float64(len(hits))
	spread := math.Min(1, sum/float64(len(hits))/4)
	return ratio * (0.5 + 0.5*spread)
}

// recommend picks the highest-diversity direction that still has prioritized
// candidates; lexical key order breaks ties so repeated snapshots repeat.
func recommend(snap *Snapshot) *NextPick {
	keys := make([]string, 0, len(snap.Directions))
	for key := range snap.Directions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	best := ""
	bestScore := -1.0
	for _, key := range keys {
		dir := snap.Directions[key]
		if dir.prioritized == 0 {
			continue
		}
		if dir.DiversityScore > bestScore {
			best, bestScore = key, dir.DiversityScore
		}
	}
	if best == "" {
		// Everything is dampened: fall back to any direction at all.
		for _, key := range keys {
			if len(snap.Directions[key].SampleTracks) > 0 {
				best = key
				break
			}
		}
	}
	if best == "" {
		return nil
	}
	return &NextPick{DirectionKey: best, Track: snap.Directions[best].SampleTracks[0]}
}

// rerankByFlow asks the latent backend where the direction leads from the
// source and reorders candidates by proximity to that target. Returns nil
// when the backend is unavailable so the caller can drop the family.
func (e *Explorer) rerankByFlow(ctx context.Context, source *catalog.Track, key string, hits []feature.Hit) []feature.Hit {
	dim, sign := latentAxis(key)
	base := latent.Vector{}
	for name, v := range source.Features {
		if strings.HasPrefix(name, "latent") {
			base[name] = v
		}
	}
	target, err := e.latent.Flow(ctx, base, latent.Vector{dim: sign}, 1.0)
	if err != nil {
		if fault.IsKind(err, fault.KindBackendUnavailable) {
			logger := log.WithComponent("explorer")
			logger.Warn().Err(err).Str(log.FieldDirection, key).
				Msg("latent backend unavailable, dropping latent directions")
			return nil
		}
		return hits
	}

	ranked := make([]feature.Hit, len(hits))
	copy(ranked, hits)
	sort.SliceStable(ranked, func(i, j int) bool {
		return latentDistance(ranked[i].Track, target) < latentDistance(ranked[j].Track, target)
	})
	return ranked
}

func latentDistance(t *catalog.Track, target latent.Vector) float64 {
	var sum float64
	for dim, tv := range target {
		if v, ok := t.Features[dim]; ok {
			d := v - tv
			sum += d * d
		}
	}
	return math.Sqrt(sum)
}

func isLatentKey(key string) bool { return strings.HasPrefix(key, "latent") }

func latentAxis(key string) (string, float64) {
	if strings.HasSuffix(key, "_negative") {
		return strings.TrimSuffix(key, "_negative"), -1
	}
	return strings.TrimSuffix(key, "_positive"), +1
}

// NormalizeResolution folds the legacy zoom names (microscope, magnifying,
// binoculars) into adaptive. Only adaptive has behavior; every mode is
// accepted rather than erroring so old clients keep working.
func NormalizeResolution(mode string) string {
	return "adaptive"
}
