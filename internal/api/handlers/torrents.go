// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/api/middleware"
	"github.com/autobrr/brrdex/internal/auth"
	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/torrentfile"
)

// Multipart uploads larger than this spill to disk while parsing.
const maxUploadMemory = 32 << 20

const duplicateUploadMessage = "Torrent with same hash exists, updated name in database"

// TorrentsHandler covers the torrent file lifecycle exposed to clients:
// uploading metadata into the catalog, grabbing the stored .torrent back
// out, and validating that an infohash is tracked.
type TorrentsHandler struct {
	torrents    *models.TorrentStore
	users       *models.UserStore
	tokens      *auth.TokenIssuer
	torrentsDir string
}

func NewTorrentsHandler(torrents *models.TorrentStore, users *models.UserStore, tokens *auth.TokenIssuer, torrentsDir string) *TorrentsHandler {
	return &TorrentsHandler{
		torrents:    torrents,
		users:       users,
		tokens:      tokens,
		torrentsDir: torrentsDir,
	}
}

// HandleUpload ingests a multipart torrent upload. The metainfo is parsed
// server-side, so hashes, size and file counts always come from the file
// rather than the form.
func (h *TorrentsHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid upload request")
		return
	}

	category, err := strconv.Atoi(r.FormValue("category"))
	if err != nil || !models.ValidCategory(category) {
		log.Warn().Str("user", user.Label).Str("category", r.FormValue("category")).Msg("Upload with invalid category")
		RespondError(w, http.StatusBadRequest, "Invalid category")
		return
	}

	name := strings.TrimSpace(r.FormValue("torrent_name"))
	if name == "" {
		RespondError(w, http.StatusBadRequest, "Missing torrent name")
		return
	}

	file, header, err := r.FormFile("torrent_file")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Missing torrent file")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(header.Filename, ".torrent") {
		log.Warn().Str("user", user.Label).Str("filename", header.Filename).Msg("Upload of non-torrent file")
		RespondError(w, http.StatusBadRequest, "File must be torrent file")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid torrent file")
		return
	}

	meta, err := torrentfile.Parse(data)
	if err != nil {
		log.Warn().Err(err).Str("user", user.Label).Str("filename", header.Filename).Msg("Failed to parse uploaded torrent")
		RespondError(w, http.StatusBadRequest, "Invalid torrent file")
		return
	}

	season, episode := torrentfile.SeasonEpisode(name)

	t := &models.Torrent{
		Name:          name,
		Season:        season,
		Episode:       episode,
		IMDBID:        formIMDBID(r.FormValue("imdbid")),
		TMDBID:        formIntPtr(r.FormValue("tmdbid")),
		TVDBID:        formIntPtr(r.FormValue("tvdbid")),
		Artist:        formStringPtr(r.FormValue("artist")),
		Album:         formStringPtr(r.FormValue("album")),
		Size:          meta.Size,
		Files:         meta.Files,
		Category:      category,
		HashV1:        meta.HashV1,
		HashV2:        meta.HashV2,
		HashV2Trunc:   meta.HashV2Trunc,
		AddedByUserID: &user.ID,
	}

	existing, err := h.torrents.FindByEitherHash(r.Context(), meta.HashV1, meta.HashV2)
	if err == nil {
		h.resolveDuplicate(w, r, user, existing, t)
		return
	}
	if !errors.Is(err, models.ErrTorrentNotFound) {
		log.Error().Err(err).Msg("Failed to check for duplicate torrent")
		RespondError(w, http.StatusInternalServerError, "Failed to store torrent")
		return
	}

	// The file lands before the row so a crash never leaves a row pointing
	// at nothing; an orphaned file is adopted or ignored by reconciliation.
	t.TorrentPath = filepath.Join(h.torrentsDir, meta.HashV2+".torrent")
	if err := os.WriteFile(t.TorrentPath, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", t.TorrentPath).Msg("Failed to store torrent file")
		RespondError(w, http.StatusInternalServerError, "Failed to store torrent file")
		return
	}

	if _, err := h.torrents.Create(r.Context(), t); err != nil {
		if errors.Is(err, models.ErrTorrentDuplicate) {
			// Lost an insert race; the winner owns the row and the
			// identically named file.
			log.Debug().Str("user", user.Label).Str("name", name).Msg("Concurrent duplicate upload")
			RespondError(w, http.StatusConflict, duplicateUploadMessage)
			return
		}
		log.Error().Err(err).Str("user", user.Label).Str("name", name).Msg("Failed to insert torrent")
		RespondError(w, http.StatusInternalServerError, "Failed to store torrent")
		return
	}

	log.Info().Str("user", user.Label).Str("name", name).Str("infohash", meta.HashV2).Msg("Torrent uploaded")
	RespondText(w, http.StatusOK, "Successfully uploaded torrent")
}

// resolveDuplicate answers an upload whose hashes already exist. The original
// uploader may refresh the stored metadata; anyone else leaves the row alone.
// Both cases are a 409 so clients stop re-submitting.
func (h *TorrentsHandler) resolveDuplicate(w http.ResponseWriter, r *http.Request, user *models.User, existing, update *models.Torrent) {
	if existing.AddedByUserID != nil && *existing.AddedByUserID == user.ID {
		if err := h.torrents.UpdateMetadata(r.Context(), existing.ID, update); err != nil {
			log.Error().Err(err).Int("torrentID", existing.ID).Msg("Failed to update re-uploaded torrent")
			RespondError(w, http.StatusInternalServerError, "Failed to store torrent")
			return
		}
		log.Info().Str("user", user.Label).Str("name", update.Name).Msg("Torrent re-uploaded, metadata updated")
	} else {
		log.Debug().Str("user", user.Label).Str("name", update.Name).Msg("Duplicate torrent upload ignored")
	}

	RespondError(w, http.StatusConflict, duplicateUploadMessage)
}

// HandleGrab serves the stored .torrent for an infohash. Feed links carry a
// scoped access token; direct calls may use an API key instead.
func (h *TorrentsHandler) HandleGrab(w http.ResponseWriter, r *http.Request) {
	user := h.grabUser(w, r)
	if user == nil {
		return
	}

	infohash := strings.TrimSpace(r.URL.Query().Get("infohash"))
	if infohash == "" {
		RespondError(w, http.StatusBadRequest, "Missing infohash")
		return
	}

	t, err := h.torrents.GetByHash(r.Context(), infohash)
	if err != nil {
		if errors.Is(err, models.ErrTorrentNotFound) {
			log.Debug().Str("user", user.Label).Str("infohash", infohash).Msg("Grab for unknown torrent")
			RespondError(w, http.StatusNotFound, "Torrent not found")
			return
		}
		log.Error().Err(err).Str("infohash", infohash).Msg("Failed to look up torrent")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	path := t.TorrentPath
	if path == "" {
		path = filepath.Join(h.torrentsDir, t.HashV2+".torrent")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Reconciliation repairs or purges the row on its next pass.
			log.Error().Str("infohash", infohash).Str("path", path).Msg("Torrent file missing from disk")
			RespondError(w, http.StatusNotFound, "Torrent file missing")
			return
		}
		log.Error().Err(err).Str("path", path).Msg("Failed to read torrent file")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := h.torrents.IncrementGrabs(r.Context(), t.ID); err != nil {
		log.Error().Err(err).Int("torrentID", t.ID).Msg("Failed to increment torrent grabs")
	}
	if err := h.users.IncrementGrabs(r.Context(), user.ID); err != nil {
		log.Error().Err(err).Int("userID", user.ID).Msg("Failed to increment user grabs")
	}

	log.Info().Str("user", user.Label).Str("infohash", infohash).Str("name", t.Name).Msg("Torrent grabbed")

	w.Header().Set("Content-Type", "application/x-bittorrent")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.Write(data)
}

// HandleValidate reports whether an infohash is tracked in the catalog.
func (h *TorrentsHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	infohash := strings.TrimSpace(r.URL.Query().Get("infohash"))
	if infohash == "" {
		RespondError(w, http.StatusBadRequest, "Missing infohash")
		return
	}

	if _, err := h.torrents.GetByHash(r.Context(), infohash); err != nil {
		if errors.Is(err, models.ErrTorrentNotFound) {
			log.Debug().Str("user", user.Label).Str("infohash", infohash).Msg("Validation of unknown torrent")
			RespondError(w, http.StatusNotFound, "Torrent not found")
			return
		}
		log.Error().Err(err).Str("infohash", infohash).Msg("Failed to look up torrent")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Info().Str("user", user.Label).Str("infohash", infohash).Msg("Torrent validated")
	RespondText(w, http.StatusOK, "Torrent is valid")
}

// grabUser resolves grab authentication: a feed access token when present,
// an API key otherwise. Returns nil after writing the error response.
func (h *TorrentsHandler) grabUser(w http.ResponseWriter, r *http.Request) *models.User {
	if token := r.URL.Query().Get("at"); token != "" {
		userID, err := h.tokens.Verify(token, auth.ScopeGrab)
		if err != nil {
			log.Warn().Err(err).Msg("Grab with bad access token")
			RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return nil
		}

		user, err := h.users.GetByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, models.ErrUserNotFound) {
				log.Warn().Int("userID", userID).Msg("Grab token for unknown user")
				RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return nil
			}
			log.Error().Err(err).Msg("Failed to resolve grab token user")
			RespondError(w, http.StatusInternalServerError, "Internal server error")
			return nil
		}
		return user
	}

	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		RespondError(w, http.StatusUnauthorized, "API key missing")
		return nil
	}

	user, err := h.users.ValidateAPIKey(r.Context(), apiKey)
	if err != nil {
		if errors.Is(err, models.ErrInvalidAPIKey) {
			log.Warn().Msg("Grab with invalid API key")
			RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return nil
		}
		log.Error().Err(err).Msg("Failed to validate API key")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
		return nil
	}
	return user
}

// formIMDBID extracts the numeric part of an IMDB id form value, tolerating
// the tt-prefixed form clients usually send.
func formIMDBID(v string) *int {
	digits := digitsOnly(v)
	if digits == "" {
		return nil
	}
	id, err := strconv.Atoi(digits)
	if err != nil || id == 0 {
		return nil
	}
	return &id
}

func formIntPtr(v string) *int {
	id, err := strconv.Atoi(v)
	if err != nil || id == 0 {
		return nil
	}
	return &id
}

func formStringPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
