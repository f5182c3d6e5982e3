// SPDX-License-Identifier: MIT

package feature

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
)

func testID(n int) string { return fmt.Sprintf("%032x", n) }

func testTrack(n int, features map[string]float64) catalog.Track {
	return catalog.Track{
		ID:       testID(n),
		Title:    fmt.Sprintf("track %d", n),
		Artist:   fmt.Sprintf("artist %d", n%4),
		Duration: 3 * time.Minute,
		Features: features,
	}
}

// gridIndex builds a small catalog spread along bpm and energy so radius and
// direction queries have predictable structure.
func gridIndex(t *testing.T) *Index {
	t.Helper()
	var tracks []catalog.Track
	n := 0
	for bpm := 80.0; bpm <= 160.0; bpm += 10 {
		for energy := 0.1; energy <= 0.9; energy += 0.2 {
			tracks = append(tracks, testTrack(n, map[string]float64{
				"bpm":    bpm,
				"energy": energy,
			}))
			n++
		}
	}
	return Build(tracks, 1)
}

func TestGetTrack(t *testing.T) {
	ix := gridIndex(t)

	got, err := ix.GetTrack(testID(0))
	require.NoError(t, err)
	require.Equal(t, testID(0), got.ID)

	_, err = ix.GetTrack("ffffffffffffffffffffffffffffffff")
	require.Error(t, err)
	require.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestRadiusSearchExcludesSelfAndSortsAscending(t *testing.T) {
	ix := gridIndex(t)

	hits, err := ix.RadiusSearch(testID(12), 3.0, nil, 20)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	for i, h := range hits {
		require.NotEqual(t, testID(12), h.Track.ID, "self must be excluded")
		require.GreaterOrEqual(t, h.Distance, 0.0)
		if i > 0 {
			require.GreaterOrEqual(t, h.Distance, hits[i-1].Distance, "ascending order")
		}
	}
}

func TestRadiusSearchHonorsLimit(t *testing.T) {
	ix := gridIndex(t)
	hits, err := ix.RadiusSearch(testID(12), 100.0, nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 5)
}

func TestRadiusSearchSkipsTracksMissingComponents(t *testing.T) {
	tracks := []catalog.Track{
		testTrack(0, map[string]float64{"bpm": 120, "energy": 0.5}),
		testTrack(1, map[string]float64{"bpm": 121, "energy": 0.5}),
		testTrack(2, map[string]float64{"bpm": 122}), // no energy
	}
	ix := Build(tracks, 1)

	hits, err := ix.RadiusSearch(testID(0), 50.0, nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, testID(1), hits[0].Track.ID)
}

func TestDirectionSearchIsMonotonic(t *testing.T) {
	ix := gridIndex(t)
	origin, err := ix.GetTrack(testID(20))
	require.NoError(t, err)
	originBPM := origin.Features["bpm"]

	hits, err := ix.DirectionSearch(testID(20), "faster", DefaultDirectionConfig(50))
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		require.Greater(t, h.Track.Features["bpm"], originBPM,
			"faster must only return strictly higher bpm")
	}

	slower, err := ix.DirectionSearch(testID(20), "slower", DefaultDirectionConfig(50))
	require.NoError(t, err)
	for _, h := range slower {
		require.Less(t, h.Track.Features["bpm"], originBPM)
	}
}

func TestDirectionSearchPcaAxes(t *testing.T) {
	var tracks []catalog.Track
	for i := 0; i < 10; i++ {
		tracks = append(tracks, testTrack(i, map[string]float64{
			"pca0": float64(i),
			"bpm":  120,
		}))
	}
	ix := Build(tracks, 1)

	hits, err := ix.DirectionSearch(testID(4), "pca0_positive", DefaultDirectionConfig(10))
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		require.Greater(t, h.Track.Features["pca0"], 4.0)
	}

	_, err = ix.DirectionSearch(testID(4), "sideways_maybe", DefaultDirectionConfig(10))
	require.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))
}

func TestDirectionSearchOriginWithoutAxisYieldsNothing(t *testing.T) {
	tracks := []catalog.Track{
		testTrack(0, map[string]float64{"energy": 0.5}),
		testTrack(1, map[string]float64{"bpm": 130, "energy": 0.5}),
	}
	ix := Build(tracks, 1)

	hits, err := ix.DirectionSearch(testID(0), "faster", DefaultDirectionConfig(10))
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestCalibratedSearchBalancesCount(t *testing.T) {
	ix := gridIndex(t)

	// Corner origin (sparse neighborhood) and center origin (dense) should
	// both come back with a usable candidate count.
	corner, err := ix.CalibratedSearch(testID(0), "adaptive", 8)
	require.NoError(t, err)
	center, err := ix.CalibratedSearch(testID(22), "adaptive", 8)
	require.NoError(t, err)

	require.NotEmpty(t, corner)
	require.NotEmpty(t, center)
	require.LessOrEqual(t, len(corner), 8)
	require.LessOrEqual(t, len(center), 8)
}

func TestOpposite(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"faster", "slower"},
		{"darker", "brighter"},
		{"pca2_positive", "pca2_negative"},
		{"latent0_negative", "latent0_positive"},
		{"outlier", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Opposite(tt.key), tt.key)
	}
}

func TestDirectionKeysReflectLoadedDims(t *testing.T) {
	tracks := []catalog.Track{
		testTrack(0, map[string]float64{"bpm": 120, "pca0": 0.3}),
		testTrack(1, map[string]float64{"bpm": 130, "pca0": -0.2}),
	}
	ix := Build(tracks, 1)
	keys := ix.DirectionKeys()

	require.Contains(t, keys, "faster")
	require.Contains(t, keys, "slower")
	require.Contains(t, keys, "pca0_positive")
	require.Contains(t, keys, "pca0_negative")
	require.Contains(t, keys, OutlierKey)
	require.NotContains(t, keys, "brighter", "no spectral_centroid in this catalog")
	require.NotContains(t, keys, "latent0_positive")
}

func TestOutlierSearch(t *testing.T) {
	var tracks []catalog.Track
	for i := 0; i < 30; i++ {
		tracks = append(tracks, testTrack(i, map[string]float64{
			"bpm":    120 + float64(i%3),
			"energy": 0.5,
		}))
	}
	// One genuine anomaly far outside the cluster.
	tracks = append(tracks, testTrack(99, map[string]float64{
		"bpm":    250,
		"energy": 0.5,
	}))
	ix := Build(tracks, 1)

	hits, err := ix.OutlierSearch(testID(0), 100.0, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, testID(99), hits[0].Track.ID)
}
