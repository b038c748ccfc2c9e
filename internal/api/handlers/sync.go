// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/api/middleware"
	"github.com/autobrr/brrdex/internal/models"
)

const defaultSyncBatchSize = 5000

// SyncHandler reconciles a client's local torrent library against the
// catalog and reports what the catalog does not track.
type SyncHandler struct {
	torrents  *models.TorrentStore
	batchSize int
}

func NewSyncHandler(torrents *models.TorrentStore, batchSize int) *SyncHandler {
	if batchSize <= 0 {
		batchSize = defaultSyncBatchSize
	}
	return &SyncHandler{torrents: torrents, batchSize: batchSize}
}

// HandleSync takes the client's library as a JSON array and answers with the
// entry ids the catalog has no row for. Entries without an infohash cannot
// be matched; when none carry one, the whole library is reported missing so
// the client re-uploads everything.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var entries []models.LibraryEntry
	if !DecodeJSON(w, r, &entries) {
		return
	}

	valid := make([]models.LibraryEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.InfoHash) != "" {
			valid = append(valid, e)
		}
	}

	missing := make([]int64, 0, len(entries))
	if len(valid) == 0 {
		for _, e := range entries {
			missing = append(missing, e.ID)
		}
	}

	for start := 0; start < len(valid); start += h.batchSize {
		end := min(start+h.batchSize, len(valid))

		ids, err := h.torrents.MatchLibrary(r.Context(), user.ID, valid[start:end])
		if err != nil {
			log.Error().Err(err).Str("user", user.Label).Msg("Failed to sync client library")
			RespondError(w, http.StatusInternalServerError, "Failed to sync library")
			return
		}
		missing = append(missing, ids...)
	}

	log.Debug().
		Str("user", user.Label).
		Int("entries", len(entries)).
		Int("missing", len(missing)).
		Msg("Client library sync")

	RespondJSON(w, http.StatusOK, map[string]any{"missing_ids": missing})
}
