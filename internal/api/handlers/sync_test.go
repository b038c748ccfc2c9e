// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/torrentfile"
)

func syncRequest(t *testing.T, user *models.User, entries []models.LibraryEntry) *http.Request {
	t.Helper()

	body, err := json.Marshal(entries)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/sync", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return asUser(req, user)
}

func decodeSync(t *testing.T, w *httptest.ResponseRecorder) []int64 {
	t.Helper()

	var resp struct {
		MissingIDs []int64 `json:"missing_ids"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.MissingIDs
}

func seedCatalogTorrent(t *testing.T, torrents *models.TorrentStore, name string, owner *int) *models.Torrent {
	t.Helper()

	_, hashV1, hashV2 := buildTorrent(t, name)
	season, episode := torrentfile.SeasonEpisode(name)

	created, err := torrents.Create(t.Context(), &models.Torrent{
		Name:          name,
		Season:        season,
		Episode:       episode,
		Size:          1 << 20,
		Files:         1,
		Category:      models.CategoryTV,
		HashV1:        hashV1,
		HashV2:        hashV2,
		HashV2Trunc:   hashV2[:40],
		AddedByUserID: owner,
	})
	require.NoError(t, err)
	return created
}

func TestHandleSync_ReportsMissing(t *testing.T) {
	t.Parallel()

	torrents, users := newTestStores(t)
	_, user := newTestUser(t, users, "sync-client")

	known := seedCatalogTorrent(t, torrents, "Show.S01E01.1080p.WEB-DL.x264-GROUP", nil)

	h := NewSyncHandler(torrents, 0)
	w := httptest.NewRecorder()
	h.HandleSync(w, syncRequest(t, user, []models.LibraryEntry{
		{ID: 11, InfoHash: known.HashV2, Name: known.Name},
		{ID: 22, InfoHash: strings.Repeat("e", 64), Name: "Untracked.Torrent"},
	}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{22}, decodeSync(t, w))
}

func TestHandleSync_MirrorsLibraryWithoutInfohashes(t *testing.T) {
	t.Parallel()

	torrents, users := newTestStores(t)
	_, user := newTestUser(t, users, "hashless-client")

	h := NewSyncHandler(torrents, 0)
	w := httptest.NewRecorder()
	h.HandleSync(w, syncRequest(t, user, []models.LibraryEntry{
		{ID: 1, Name: "First"},
		{ID: 2, Name: "Second"},
		{ID: 3, Name: "Third"},
	}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{1, 2, 3}, decodeSync(t, w))
}

func TestHandleSync_RenamesCallerOwnedRows(t *testing.T) {
	t.Parallel()

	torrents, users := newTestStores(t)
	_, user := newTestUser(t, users, "renaming-client")

	owned := seedCatalogTorrent(t, torrents, "Show.S02E03.720p.HDTV.x264-OLD", &user.ID)

	h := NewSyncHandler(torrents, 0)
	w := httptest.NewRecorder()
	h.HandleSync(w, syncRequest(t, user, []models.LibraryEntry{
		{ID: 7, InfoHash: owned.HashV2, Name: "Show.S02E03.720p.HDTV.x264-NEW"},
	}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeSync(t, w))

	stored, err := torrents.GetByID(t.Context(), owned.ID)
	require.NoError(t, err)
	assert.Equal(t, "Show.S02E03.720p.HDTV.x264-NEW", stored.Name)
}

func TestHandleSync_BatchesLargeLibraries(t *testing.T) {
	t.Parallel()

	torrents, users := newTestStores(t)
	_, user := newTestUser(t, users, "bulk-client")

	known := seedCatalogTorrent(t, torrents, "Show.S05E05.1080p.WEB-DL.x264-GROUP", nil)

	// Batch size 2 forces multiple round trips over five entries.
	entries := []models.LibraryEntry{
		{ID: 1, InfoHash: known.HashV2, Name: known.Name},
		{ID: 2, InfoHash: strings.Repeat("a", 64), Name: "A"},
		{ID: 3, InfoHash: strings.Repeat("b", 64), Name: "B"},
		{ID: 4, InfoHash: strings.Repeat("c", 64), Name: "C"},
		{ID: 5, InfoHash: strings.Repeat("d", 64), Name: "D"},
	}

	h := NewSyncHandler(torrents, 2)
	w := httptest.NewRecorder()
	h.HandleSync(w, syncRequest(t, user, entries))

	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []int64{2, 3, 4, 5}, decodeSync(t, w))
}

func TestHandleSync_EmptyLibrary(t *testing.T) {
	t.Parallel()

	torrents, users := newTestStores(t)
	_, user := newTestUser(t, users, "empty-client")

	h := NewSyncHandler(torrents, 0)
	w := httptest.NewRecorder()
	h.HandleSync(w, syncRequest(t, user, []models.LibraryEntry{}))

	require.Equal(t, http.StatusOK, w.Code)
	// The key is present as an empty array, never null.
	assert.JSONEq(t, `{"missing_ids":[]}`, w.Body.String())
}

func TestHandleSync_InvalidBody(t *testing.T) {
	t.Parallel()

	torrents, users := newTestStores(t)
	_, user := newTestUser(t, users, "broken-client")

	req := httptest.NewRequest(http.MethodPost, "/api/v2/sync", strings.NewReader("{not json"))
	h := NewSyncHandler(torrents, 0)
	w := httptest.NewRecorder()
	h.HandleSync(w, asUser(req, user))

	require.Equal(t, http.StatusBadRequest, w.Code)
}
