// SPDX-License-Identifier: MIT

package feature

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
)

// OutlierKey is the pseudo-direction for statistical anomalies.
const OutlierKey = "outlier"

// axis is a signed projection onto one named dimension.
type axis struct {
	dim  string
	sign float64
}

// Semantic aliases for the core acoustic axes. PCA and latent axes use the
// generated <component>_<polarity> form.
var coreAxes = map[string]axis{
	"faster":   {"bpm", +1},
	"slower":   {"bpm", -1},
	"brighter": {"spectral_centroid", +1},
	"darker":   {"spectral_centroid", -1},
	"harder":   {"energy", +1},
	"softer":   {"energy", -1},
	"busier":   {"onset_rate", +1},
	"sparser":  {"onset_rate", -1},
}

var coreOpposites = map[string]string{
	"faster": "slower", "slower": "faster",
	"brighter": "darker", "darker": "brighter",
	"harder": "softer", "softer": "harder",
	"busier": "sparser", "sparser": "busier",
}

// Opposite returns the canonical opposite of a direction key. The outlier
// pseudo-direction has none.
func Opposite(key string) string {
	if opp, ok := coreOpposites[key]; ok {
		return opp
	}
	switch {
	case strings.HasSuffix(key, "_positive"):
		return strings.TrimSuffix(key, "_positive") + "_negative"
	case strings.HasSuffix(key, "_negative"):
		return strings.TrimSuffix(key, "_negative") + "_positive"
	}
	return ""
}

// IsOutlier reports whether the key names the outlier pseudo-direction.
func IsOutlier(key string) bool { return key == OutlierKey }

// axisFor resolves a direction key to its signed axis.
func axisFor(key string) (axis, bool) {
	if ax, ok := coreAxes[key]; ok {
		return ax, true
	}
	base, sign := key, 0.0
	switch {
	case strings.HasSuffix(key, "_positive"):
		base, sign = strings.TrimSuffix(key, "_positive"), +1
	case strings.HasSuffix(key, "_negative"):
		base, sign = strings.TrimSuffix(key, "_negative"), -1
	default:
		return axis{}, false
	}
	if !strings.HasPrefix(base, "pca") && !strings.HasPrefix(base, "latent") {
		return axis{}, false
	}
	return axis{dim: base, sign: sign}, true
}

// DirectionKeys lists the direction keys this index can serve: every core
// alias, PCA axis and latent axis whose dimension at least one track carries,
// plus the outlier pseudo-direction. Sorted for stable iteration.
func (ix *Index) DirectionKeys() []string {
	keys := make([]string, 0, 2*len(ix.dims)+len(coreAxes))
	for key, ax := range coreAxes {
		if _, ok := ix.mean[ax.dim]; ok {
			keys = append(keys, key)
		}
	}
	for _, dim := range ix.dims {
		if strings.HasPrefix(dim, "pca") || strings.HasPrefix(dim, "latent") {
			keys = append(keys, dim+"_positive", dim+"_negative")
		}
	}
	keys = append(keys, OutlierKey)
	sort.Strings(keys)
	return keys
}

// DirectionConfig bounds a direction-constrained query.
type DirectionConfig struct {
	// MinDelta is the minimum projection advance along the axis, in
	// standard units. Keeps the search strictly monotonic.
	MinDelta float64
	// OrthoRadius bounds the Euclidean distance over the non-axis
	// components, in standard units.
	OrthoRadius float64
	Limit       int
}

// DefaultDirectionConfig matches the adaptive resolution's starting point.
func DefaultDirectionConfig(limit int) DirectionConfig {
	return DirectionConfig{MinDelta: 0.15, OrthoRadius: 2.0, Limit: limit}
}

// DirectionSearch returns tracks strictly further along the named axis than
// the origin, within the orthogonal radius, ascending by combined distance.
// It never returns the origin or points behind it.
func (ix *Index) DirectionSearch(originID, directionKey string, cfg DirectionConfig) ([]Hit, error) {
	origin, err := ix.GetTrack(originID)
	if err != nil {
		return nil, err
	}
	ax, ok := axisFor(directionKey)
	if !ok {
		return nil, fault.InvalidArgument("index.direction", "unknown direction key %q", directionKey)
	}
	ov, ok := origin.Features[ax.dim]
	if !ok {
		// The origin cannot anchor this axis; the direction simply has no
		// candidates rather than being an error.
		return nil, nil
	}
	if cfg.Limit <= 0 {
		return nil, nil
	}

	oz := ix.z(ax.dim, ov)
	hits := make([]Hit, 0, cfg.Limit)
	for i := range ix.tracks {
		t := &ix.tracks[i]
		if t.ID == origin.ID {
			continue
		}
		cv, ok := t.Features[ax.dim]
		if !ok {
			continue
		}
		delta := ax.sign * (ix.z(ax.dim, cv) - oz)
		if delta < cfg.MinDelta {
			continue
		}
		ortho, ok := ix.orthoDistance(origin, t, ax.dim)
		if !ok || ortho > cfg.OrthoRadius {
			continue
		}
		hits = append(hits, Hit{Track: t, Distance: math.Sqrt(delta*delta + ortho*ortho)})
	}
	sortHits(hits)
	if len(hits) > cfg.Limit {
		hits = hits[:cfg.Limit]
	}
	return hits, nil
}

// orthoDistance measures distance over the components shared by both tracks,
// excluding the axis dimension. Candidates sharing nothing but the axis are
// rejected: there is no basis to call them neighbors.
func (ix *Index) orthoDistance(a, b *catalog.Track, axisDim string) (float64, bool) {
	var sum float64
	shared := 0
	for dim, av := range a.Features {
		if dim == axisDim {
			continue
		}
		bv, ok := b.Features[dim]
		if !ok {
			continue
		}
		d := ix.z(dim, av) - ix.z(dim, bv)
		sum += d * d
		shared++
	}
	if shared == 0 {
		return 0, false
	}
	// Normalize by dimension count so sparse and dense vectors compare.
	return math.Sqrt(sum / float64(shared)), true
}

// OutlierSearch returns statistical anomalies near the origin: tracks whose
// mean squared z-score across their components exceeds the threshold,
// ordered by distance from the origin.
func (ix *Index) OutlierSearch(originID string, radius float64, limit int) ([]Hit, error) {
	origin, err := ix.GetTrack(originID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	const zThreshold = 2.5
	hits := make([]Hit, 0, limit)
	for i := range ix.tracks {
		t := &ix.tracks[i]
		if t.ID == origin.ID || len(t.Features) == 0 {
			continue
		}
		var zz float64
		for dim, v := range t.Features {
			z := ix.z(dim, v)
			zz += z * z
		}
		if math.Sqrt(zz/float64(len(t.Features))) < zThreshold {
			continue
		}
		d, ok := ix.orthoDistance(origin, t, "")
		if !ok || d > radius {
			continue
		}
		hits = append(hits, Hit{Track: t, Distance: d})
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// String renders an axis for diagnostics.
func (a axis) String() string {
	if a.sign >= 0 {
		return fmt.Sprintf("+%s", a.dim)
	}
	return fmt.Sprintf("-%s", a.dim)
}
