// SPDX-License-Identifier: MIT

package feature

// Calibrated search adapts the query radius to local density: dense regions
// shrink the radius, sparse regions grow it, so every origin yields roughly
// the same candidate count regardless of where it sits in the space.

const (
	calibrateStartRadius = 1.5
	calibrateMaxRadius   = 8.0
	calibrateMaxRounds   = 6
)

// CalibratedSearch runs a radius search whose radius is adapted from local
// density until the hit count lands in [limit, 3*limit] or the radius bounds
// are exhausted. Resolution currently knows one meaningful mode, "adaptive";
// anything else behaves the same (legacy zoom names are aliased upstream).
func (ix *Index) CalibratedSearch(originID, resolution string, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	radius := calibrateStartRadius
	var hits []Hit
	var err error
	for round := 0; round < calibrateMaxRounds; round++ {
		hits, err = ix.RadiusSearch(originID, radius, nil, 3*limit)
		if err != nil {
			return nil, err
		}
		if len(hits) >= limit && len(hits) < 3*limit {
			break
		}
		if len(hits) < limit {
			if radius >= calibrateMaxRadius {
				break
			}
			radius *= 1.7
			if radius > calibrateMaxRadius {
				radius = calibrateMaxRadius
			}
			continue
		}
		// Too many: tighten, but never below a useful floor.
		if radius <= calibrateStartRadius/4 {
			break
		}
		radius /= 1.7
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// CalibratedDirectionConfig derives a direction config from the same local
// density estimate so direction queries stay balanced across origins.
func (ix *Index) CalibratedDirectionConfig(originID string, limit int) DirectionConfig {
	cfg := DefaultDirectionConfig(limit)
	near, err := ix.RadiusSearch(originID, calibrateStartRadius, nil, 4*limit)
	if err != nil {
		return cfg
	}
	switch {
	case len(near) >= 4*limit:
		// Dense neighborhood: tighten so directions differentiate.
		cfg.OrthoRadius = 1.2
	case len(near) < limit:
		// Sparse neighborhood: open up or directions come back empty.
		cfg.OrthoRadius = 3.5
		cfg.MinDelta = 0.05
	}
	return cfg
}
