// SPDX-License-Identifier: MIT

package catalog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func searchFixture() []Track {
	mk := func(n int, title, artist, album string) Track {
		return Track{
			ID:     fmt.Sprintf("%032x", n),
			Title:  title,
			Artist: artist,
			Album:  album,
		}
	}
	return []Track{
		mk(1, "Roygbiv", "Boards of Canada", "Music Has the Right to Children"),
		mk(2, "Olson", "Boards of Canada", "Music Has the Right to Children"),
		mk(3, "Windowlicker", "Aphex Twin", "Windowlicker"),
		mk(4, "Avril 14th", "Aphex Twin", "Drukqs"),
		mk(5, "Kid A", "Radiohead", "Kid A"),
		mk(6, "Idioteque", "Radiohead", "Kid A"),
	}
}

func TestSearchExactTitleRanksFirst(t *testing.T) {
	results := Search(searchFixture(), "Windowlicker", 10)
	require.NotEmpty(t, results)
	require.Equal(t, "Windowlicker", results[0].Track.Title)
	require.Equal(t, 1.0, results[0].Score)
}

func TestSearchMatchesArtistAndAlbumFields(t *testing.T) {
	results := Search(searchFixture(), "aphex twin", 10)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, "Aphex Twin", r.Track.Artist)
	}

	results = Search(searchFixture(), "kid a", 10)
	require.NotEmpty(t, results)
	require.Equal(t, "Kid A", results[0].Track.Album)
}

func TestSearchSubstringHits(t *testing.T) {
	results := Search(searchFixture(), "boards", 10)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, "Boards of Canada", r.Track.Artist)
	}
}

func TestSearchToleratesTypos(t *testing.T) {
	results := Search(searchFixture(), "idioteqeu", 10)
	require.NotEmpty(t, results)
	require.Equal(t, "Idioteque", results[0].Track.Title)
}

func TestSearchLimitAndScoreOrder(t *testing.T) {
	results := Search(searchFixture(), "kid a", 1)
	require.Len(t, results, 1)

	all := Search(searchFixture(), "kid a", 10)
	for i := 1; i < len(all); i++ {
		require.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}
}

func TestSearchEmptyQueryOrLimit(t *testing.T) {
	require.Nil(t, Search(searchFixture(), "", 10))
	require.Nil(t, Search(searchFixture(), "   ", 10))
	require.Nil(t, Search(searchFixture(), "kid", 0))
}

func TestSearchNoiseQueryReturnsNothing(t *testing.T) {
	require.Empty(t, Search(searchFixture(), "zzzzqqqqxxxx", 10))
}
