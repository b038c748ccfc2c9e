// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/brrdex/internal/testdb"
)

type searchFixtures struct {
	tvEpisode  *Torrent
	tvPack     *Torrent
	movie      *Torrent
	music      *Torrent
	unicodeTV  *Torrent
	aliceOwned *Torrent
	alice      *User
	bob        *User
}

func newSearchFixtures(t *testing.T, store *TorrentStore, users *UserStore) *searchFixtures {
	t.Helper()

	ctx := t.Context()
	f := &searchFixtures{}
	var err error

	_, f.alice, err = users.Create(ctx, "alice")
	require.NoError(t, err)
	_, f.bob, err = users.Create(ctx, "bob")
	require.NoError(t, err)

	f.tvEpisode = testTorrent(t, "Show S01E02 1080p WEB-DL", CategoryTV)
	f.tvEpisode.Season = intPtr(1)
	f.tvEpisode.Episode = intPtr(2)
	f.tvEpisode.TMDBID = intPtr(999)
	f.tvEpisode, err = store.Create(ctx, f.tvEpisode)
	require.NoError(t, err)

	f.tvPack = testTorrent(t, "Show S01 1080p WEB-DL", CategoryTV)
	f.tvPack.Season = intPtr(1)
	f.tvPack, err = store.Create(ctx, f.tvPack)
	require.NoError(t, err)

	f.movie = testTorrent(t, "Some Movie 2020 2160p", CategoryMovies)
	f.movie.IMDBID = intPtr(370)
	f.movie, err = store.Create(ctx, f.movie)
	require.NoError(t, err)

	f.music = testTorrent(t, "AC/DC - Back in Black (1980) FLAC", CategoryAudio)
	f.music.Artist = strPtr("AC/DC")
	f.music.Album = strPtr("Back in Black")
	f.music, err = store.Create(ctx, f.music)
	require.NoError(t, err)

	f.unicodeTV = testTorrent(t, "Shōgun S02 2160p", CategoryTV)
	f.unicodeTV.Season = intPtr(2)
	f.unicodeTV, err = store.Create(ctx, f.unicodeTV)
	require.NoError(t, err)

	f.aliceOwned = testTorrent(t, "Alice Upload 1080p", CategoryMovies)
	f.aliceOwned.AddedByUserID = &f.alice.ID
	f.aliceOwned, err = store.Create(ctx, f.aliceOwned)
	require.NoError(t, err)

	return f
}

func resultIDs(r *SearchResult) []int {
	ids := make([]int, 0, len(r.Torrents))
	for _, t := range r.Torrents {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestTorrentStore_Search(t *testing.T) {
	t.Parallel()

	t.Run("text match survives normalization", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		res, err := store.Search(t.Context(), SearchFilter{
			Kind:   SearchKindSearch,
			Query:  "Shogun",
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		require.Len(t, res.Torrents, 1)
		assert.Equal(t, f.unicodeTV.ID, res.Torrents[0].ID)
		assert.Equal(t, 1, res.Total)
	})

	t.Run("plain search spans all categories", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		res, err := store.Search(t.Context(), SearchFilter{
			Kind:   SearchKindSearch,
			Query:  "1080p",
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]int{f.tvEpisode.ID, f.tvPack.ID, f.aliceOwned.ID},
			resultIDs(res))
	})

	t.Run("season without episode matches packs only", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		res, err := store.Search(t.Context(), SearchFilter{
			Kind:   SearchKindTV,
			Season: intPtr(1),
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		require.Len(t, res.Torrents, 1)
		assert.Equal(t, f.tvPack.ID, res.Torrents[0].ID)
	})

	t.Run("season and episode match the exact episode", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		res, err := store.Search(t.Context(), SearchFilter{
			Kind:    SearchKindTV,
			Season:  intPtr(1),
			Episode: intPtr(2),
			UserID:  f.bob.ID,
			Limit:   100,
		})
		require.NoError(t, err)
		require.Len(t, res.Torrents, 1)
		assert.Equal(t, f.tvEpisode.ID, res.Torrents[0].ID)
	})

	t.Run("tv search without season ignores episode param", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		res, err := store.Search(t.Context(), SearchFilter{
			Kind:    SearchKindTV,
			Episode: intPtr(5),
			UserID:  f.bob.ID,
			Limit:   100,
		})
		require.NoError(t, err)
		// Music rows are excluded by the taxonomy, everything else matches.
		assert.ElementsMatch(t,
			[]int{f.tvEpisode.ID, f.tvPack.ID, f.movie.ID, f.unicodeTV.ID, f.aliceOwned.ID},
			resultIDs(res))
	})

	t.Run("movie search excludes episodic and music rows", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		res, err := store.Search(t.Context(), SearchFilter{
			Kind:   SearchKindMovie,
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int{f.movie.ID, f.aliceOwned.ID}, resultIDs(res))
	})

	t.Run("music search matches normalized artist and album", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)
		ctx := t.Context()

		res, err := store.Search(ctx, SearchFilter{
			Kind:   SearchKindMusic,
			Artist: "AC/DC",
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		require.Len(t, res.Torrents, 1)
		assert.Equal(t, f.music.ID, res.Torrents[0].ID)

		res, err = store.Search(ctx, SearchFilter{
			Kind:   SearchKindMusic,
			Artist: "AC/DC",
			Album:  "back in black",
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		require.Len(t, res.Torrents, 1)

		res, err = store.Search(ctx, SearchFilter{
			Kind:   SearchKindMusic,
			Artist: "Nirvana",
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		assert.Empty(t, res.Torrents)
	})

	t.Run("own uploads hidden unless requested", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)
		ctx := t.Context()

		res, err := store.Search(ctx, SearchFilter{
			Kind:   SearchKindSearch,
			Query:  "Alice Upload",
			UserID: f.alice.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		assert.Empty(t, res.Torrents)

		res, err = store.Search(ctx, SearchFilter{
			Kind:       SearchKindSearch,
			Query:      "Alice Upload",
			UserID:     f.alice.ID,
			IncludeOwn: true,
			Limit:      100,
		})
		require.NoError(t, err)
		assert.Len(t, res.Torrents, 1)

		res, err = store.Search(ctx, SearchFilter{
			Kind:   SearchKindSearch,
			Query:  "Alice Upload",
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		assert.Len(t, res.Torrents, 1)
	})

	t.Run("rows without uploader stay visible", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		// unicodeTV has no uploader; alice must still see it.
		res, err := store.Search(t.Context(), SearchFilter{
			Kind:   SearchKindSearch,
			Query:  "Shogun",
			UserID: f.alice.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		assert.Len(t, res.Torrents, 1)
	})

	t.Run("category filter", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		res, err := store.Search(t.Context(), SearchFilter{
			Kind:       SearchKindSearch,
			Categories: []int{CategoryMovies, CategoryAudio},
			UserID:     f.bob.ID,
			Limit:      100,
		})
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]int{f.movie.ID, f.music.ID, f.aliceOwned.ID},
			resultIDs(res))
	})

	t.Run("external ids combine with OR", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		res, err := store.Search(t.Context(), SearchFilter{
			Kind:   SearchKindSearch,
			IMDBID: 370,
			TMDBID: 999,
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int{f.movie.ID, f.tvEpisode.ID}, resultIDs(res))
	})

	t.Run("newest rows come first", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		res, err := store.Search(t.Context(), SearchFilter{
			Kind:   SearchKindSearch,
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		require.NotEmpty(t, res.Torrents)

		ids := resultIDs(res)
		for i := 1; i < len(ids); i++ {
			first, second := res.Torrents[i-1], res.Torrents[i]
			if first.AddedOn.Equal(second.AddedOn) {
				assert.Greater(t, first.ID, second.ID)
			} else {
				assert.True(t, first.AddedOn.After(second.AddedOn))
			}
		}
	})

	t.Run("total counts all matches regardless of page", func(t *testing.T) {
		t.Parallel()

		db := testdb.Open(t, "models")
		store := NewTorrentStore(db)
		ctx := t.Context()

		_, err := db.ExecContext(ctx, `
			INSERT INTO torrents (name, normalized_name, size, files, category, hash_v2)
			SELECT 'Bulk Item ' || n, 'bulkitem' || n, 1024, 1, 2000, printf('%064x', n)
			FROM (WITH RECURSIVE seq(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM seq WHERE n < 1001) SELECT n FROM seq)
		`)
		require.NoError(t, err)

		res, err := store.Search(ctx, SearchFilter{Kind: SearchKindSearch, Limit: 10, Offset: 20, UserID: 1})
		require.NoError(t, err)
		assert.Len(t, res.Torrents, 10)
		assert.Equal(t, 1001, res.Total)

		// Limits beyond the cap are clamped to exactly 1000 rows.
		res, err = store.Search(ctx, SearchFilter{Kind: SearchKindSearch, Limit: 5000, UserID: 1})
		require.NoError(t, err)
		assert.Len(t, res.Torrents, 1000)
		assert.Equal(t, 1001, res.Total)
	})

	t.Run("offset beyond matches yields empty page", func(t *testing.T) {
		t.Parallel()

		store, users := newTorrentStore(t)
		f := newSearchFixtures(t, store, users)

		res, err := store.Search(t.Context(), SearchFilter{
			Kind:   SearchKindSearch,
			Query:  "Shogun",
			Offset: 50,
			UserID: f.bob.ID,
			Limit:  100,
		})
		require.NoError(t, err)
		assert.Empty(t, res.Torrents)
		assert.Zero(t, res.Total)
	})
}
