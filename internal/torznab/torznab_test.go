// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"encoding/xml"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/brrdex/internal/models"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

// requireWellFormed walks every token so malformed output fails loudly.
func requireWellFormed(t *testing.T, doc string) {
	t.Helper()

	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
	}
}

func TestRenderCaps(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	require.NoError(t, RenderCaps(&sb, "BrrDex"))
	out := sb.String()

	requireWellFormed(t, out)
	assert.True(t, strings.HasPrefix(out, xml.Header))

	assert.Contains(t, out, `<server version="1.0" title="BrrDex">`)
	assert.Contains(t, out, `<limits default="100" max="1000">`)

	assert.Contains(t, out, `<category id="2000" name="Movies">`)
	assert.Contains(t, out, `<category id="3000" name="Audio">`)
	assert.Contains(t, out, `<category id="5000" name="TV">`)

	assert.Contains(t, out, `<search available="yes" supportedParams="q">`)
	assert.Contains(t, out, `<tv-search available="yes" supportedParams="q,season,ep,imdbid,tmdbid,tvdbid">`)
	assert.Contains(t, out, `<movie-search available="yes" supportedParams="q,imdbid,tmdbid">`)
	assert.Contains(t, out, `<music-search available="yes" supportedParams="q,artist,album">`)
	assert.Contains(t, out, `<book-search available="no">`)
}

func TestRenderFeed(t *testing.T) {
	t.Parallel()

	episode := &models.Torrent{
		ID:       1,
		Name:     "Some Show S02E05 1080p WEB-DL",
		Season:   intPtr(2),
		Episode:  intPtr(5),
		TVDBID:   intPtr(121361),
		Size:     4 << 30,
		Files:    2,
		Category: models.CategoryTV,
		HashV2:   strings.Repeat("ab", 32),
		Grabs:    7,
		AddedOn:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	album := &models.Torrent{
		ID:       2,
		Name:     "Artist & Friends - Greatest Hits FLAC",
		Artist:   strPtr("artistfriends"),
		Album:    strPtr("greatesthits"),
		Size:     900 << 20,
		Files:    14,
		Category: models.CategoryAudio,
		HashV1:   strings.Repeat("cd", 20),
		Grabs:    0,
		AddedOn:  time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC),
	}

	feed := Feed{
		Title:  "BrrDex",
		Link:   "https://indexer.example.com/api",
		Offset: 20,
		Total:  137,
		Items: []Item{
			{Torrent: episode, Seeders: 12, Leechers: 3, GrabURL: "https://indexer.example.com/api/v2/grab?infohash=" + episode.HashV2 + "&at=tok1"},
			{Torrent: album, Seeders: 0, Leechers: 1, GrabURL: "https://indexer.example.com/api/v2/grab?infohash=" + album.HashV1 + "&at=tok2"},
		},
	}

	var sb strings.Builder
	require.NoError(t, RenderFeed(&sb, feed))
	out := sb.String()

	requireWellFormed(t, out)
	assert.Contains(t, out, `<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">`)
	assert.Contains(t, out, `<title>BrrDex</title>`)
	assert.Contains(t, out, `<link>https://indexer.example.com/api</link>`)
	assert.Contains(t, out, `<torznab:response offset="20" total="137">`)

	// guid is the lowercased site slug plus the preferred info hash
	assert.Contains(t, out, `<guid isPermaLink="false">brrdex-`+episode.HashV2+`</guid>`)
	assert.Contains(t, out, `<guid isPermaLink="false">brrdex-`+album.HashV1+`</guid>`)

	// text content and attribute values are escaped
	assert.Contains(t, out, `<title>Artist &amp; Friends - Greatest Hits FLAC</title>`)
	assert.Contains(t, out, `&amp;at=tok1`)
	assert.NotContains(t, out, `&at=tok1`)

	assert.Contains(t, out, `<pubDate>Fri, 01 Mar 2024 12:00:00 GMT</pubDate>`)
	assert.Contains(t, out, `<enclosure url="https://indexer.example.com/api/v2/grab?infohash=`+episode.HashV2+`&amp;at=tok1" length="4294967296" type="application/x-bittorrent">`)
	assert.Contains(t, out, `<size>4294967296</size>`)
	assert.Contains(t, out, `<category>5000</category>`)

	assert.Contains(t, out, `<torznab:attr name="seeders" value="12">`)
	assert.Contains(t, out, `<torznab:attr name="leechers" value="3">`)
	assert.Contains(t, out, `<torznab:attr name="peers" value="15">`)
	assert.Contains(t, out, `<torznab:attr name="grabs" value="7">`)
	assert.Contains(t, out, `<torznab:attr name="infohash" value="`+episode.HashV2+`">`)

	assert.Contains(t, out, `<torznab:attr name="season" value="2">`)
	assert.Contains(t, out, `<torznab:attr name="episode" value="5">`)
	assert.Contains(t, out, `<torznab:attr name="tvdbid" value="121361">`)
	assert.Contains(t, out, `<torznab:attr name="artist" value="artistfriends">`)
	assert.Contains(t, out, `<torznab:attr name="album" value="greatesthits">`)

	// optional attrs only appear on rows that carry the field
	assert.Equal(t, 1, strings.Count(out, `name="artist"`))
	assert.Equal(t, 1, strings.Count(out, `name="season"`))
	assert.Zero(t, strings.Count(out, `name="imdbid"`))
}

func TestRenderFeed_Empty(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	require.NoError(t, RenderFeed(&sb, Feed{Title: "BrrDex", Link: "https://indexer.example.com/api"}))
	out := sb.String()

	requireWellFormed(t, out)
	assert.Contains(t, out, `<torznab:response offset="0" total="0">`)
	assert.NotContains(t, out, "<item>")
}
