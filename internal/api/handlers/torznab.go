// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/api/middleware"
	"github.com/autobrr/brrdex/internal/auth"
	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/swarm"
	"github.com/autobrr/brrdex/internal/torznab"
)

// TorznabHandler serves the single /api endpoint Radarr, Sonarr and Lidarr
// talk to: capability probes plus the search taxonomies, rendered as
// torznab-flavored RSS with live swarm counts folded in.
type TorznabHandler struct {
	torrents    *models.TorrentStore
	aggregator  *swarm.Aggregator
	tokens      *auth.TokenIssuer
	externalURL string
	siteName    string
}

func NewTorznabHandler(torrents *models.TorrentStore, aggregator *swarm.Aggregator, tokens *auth.TokenIssuer, externalURL, siteName string) *TorznabHandler {
	return &TorznabHandler{
		torrents:    torrents,
		aggregator:  aggregator,
		tokens:      tokens,
		externalURL: strings.TrimSuffix(externalURL, "/"),
		siteName:    siteName,
	}
}

func (h *TorznabHandler) Handle(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	switch t := r.URL.Query().Get("t"); t {
	case "caps":
		log.Debug().Str("user", user.Label).Msg("Torznab capability request")
		w.Header().Set("Content-Type", "application/xml")
		if err := torznab.RenderCaps(w, h.siteName); err != nil {
			log.Error().Err(err).Msg("Failed to render capabilities")
		}

	case "search", "tvsearch", "movie", "music":
		h.handleSearch(w, r, user, models.SearchKind(t))

	default:
		log.Warn().Str("user", user.Label).Str("t", t).Msg("Unsupported torznab search type")
		RespondError(w, http.StatusBadRequest, "Unsupported search type")
	}
}

func (h *TorznabHandler) handleSearch(w http.ResponseWriter, r *http.Request, user *models.User, kind models.SearchKind) {
	start := time.Now()
	query := r.URL.Query()

	// A malformed external id must fail the request; dropping it would
	// silently run the search unfiltered.
	tmdbID, ok := queryExternalID(r, "tmdbid")
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid tmdbid")
		return
	}
	tvdbID, ok := queryExternalID(r, "tvdbid")
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid tvdbid")
		return
	}
	imdbID, ok := parseIMDBID(query.Get("imdbid"))
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid imdbid")
		return
	}

	page := ParsePagination(r, torznab.DefaultLimit, torznab.MaxLimit)
	filter := models.SearchFilter{
		Kind:       kind,
		Query:      query.Get("q"),
		Categories: parseCategories(query.Get("cat")),
		Season:     queryIntPtr(r, "season"),
		Episode:    queryIntPtr(r, "ep"),
		IMDBID:     imdbID,
		TMDBID:     tmdbID,
		TVDBID:     tvdbID,
		Artist:     query.Get("artist"),
		Album:      query.Get("album"),
		Limit:      page.Limit,
		Offset:     page.Offset,
		UserID:     user.ID,
		IncludeOwn: queryBool(r, "include_my_uploads"),
	}

	result, err := h.torrents.Search(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("user", user.Label).Msg("Torznab search failed")
		RespondError(w, http.StatusInternalServerError, "Failed to search torrents")
		return
	}

	// Swarm trouble degrades to zeroed counts; the page still renders.
	snap, err := h.aggregator.Snapshot(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch swarm stats, serving zeroed counts")
	}

	token := h.tokens.Mint(auth.ScopeGrab, user.ID)

	items := make([]torznab.Item, 0, len(result.Torrents))
	for _, t := range result.Torrents {
		counts := snap.Counts(t.ID)
		items = append(items, torznab.Item{
			Torrent:  t,
			Seeders:  counts.Seeders,
			Leechers: counts.Leechers,
			GrabURL:  fmt.Sprintf("%s/api/v2/grab?infohash=%s&at=%s", h.externalURL, t.InfoHash(), token),
		})
	}

	feed := torznab.Feed{
		Title:  h.siteName,
		Link:   h.externalURL + "/api",
		Offset: filter.Offset,
		Total:  result.Total,
		Items:  items,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := torznab.RenderFeed(w, feed); err != nil {
		log.Error().Err(err).Msg("Failed to render torznab feed")
		return
	}

	elapsed := time.Since(start)
	if kind == models.SearchKindSearch && strings.TrimSpace(filter.Query) == "" {
		log.Debug().
			Str("user", user.Label).
			Str("cat", query.Get("cat")).
			Int("results", len(items)).
			Dur("elapsed", elapsed).
			Msg("Torznab feed query")
		return
	}

	log.Info().
		Str("user", user.Label).
		Str("t", string(kind)).
		Str("q", filter.Query).
		Int("results", len(items)).
		Int("total", result.Total).
		Dur("elapsed", elapsed).
		Msg("Torznab search")
}

// parseCategories splits the cat parameter ("2000,5000"). Blank and
// non-numeric entries are dropped.
func parseCategories(csv string) []int {
	if csv == "" {
		return nil
	}

	var cats []int
	for _, part := range strings.Split(csv, ",") {
		if id, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			cats = append(cats, id)
		}
	}
	return cats
}
