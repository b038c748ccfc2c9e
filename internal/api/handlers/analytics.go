// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/api/middleware"
	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/swarm"
)

// AnalyticsHandler exposes the operator telemetry rollup monitoring systems
// poll as flat JSON.
type AnalyticsHandler struct {
	store      *swarm.Store
	aggregator *swarm.Aggregator
	torrents   *models.TorrentStore
	users      *models.UserStore
}

func NewAnalyticsHandler(store *swarm.Store, aggregator *swarm.Aggregator, torrents *models.TorrentStore, users *models.UserStore) *AnalyticsHandler {
	return &AnalyticsHandler{
		store:      store,
		aggregator: aggregator,
		torrents:   torrents,
		users:      users,
	}
}

// HandleAnalytics assembles SQL totals, request telemetry and the live swarm
// rollup into one object. A Redis outage degrades to an empty object with a
// 200 so pollers keep polling instead of alerting on the API itself.
func (h *AnalyticsHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	log.Debug().Str("user", user.Label).Msg("Analytics requested")

	totalTorrents, totalGrabs, err := h.torrents.Totals(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read torrent totals")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	downloaded, uploaded, err := h.users.TransferTotals(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read transfer totals")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	tele, err := h.store.Telemetry(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Telemetry unavailable, serving empty analytics")
		RespondJSON(w, http.StatusOK, map[string]any{})
		return
	}

	snap, err := h.aggregator.Snapshot(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Swarm snapshot unavailable, serving empty analytics")
		RespondJSON(w, http.StatusOK, map[string]any{})
		return
	}

	avg, lo, hi := requestTimeStats(tele.RequestTimes)

	RespondJSON(w, http.StatusOK, map[string]any{
		"requests":          tele.Requests,
		"bytes_sent":        tele.BytesSent,
		"bytes_received":    tele.BytesReceived,
		"unique_visitors":   tele.UniqueVisitors,
		"total_torrents":    totalTorrents,
		"seeding_torrents":  snap.SeedingTorrents(),
		"leeching_torrents": snap.LeechingTorrents(),
		"total_peers":       snap.TotalPeers,
		"total_grabs":       totalGrabs,
		"total_downloaded":  downloaded,
		"total_uploaded":    uploaded,
		"request_time_avg":  avg,
		"request_time_min":  lo,
		"request_time_max":  hi,
	})
}

// requestTimeStats reduces the rolling latency window to avg/min/max in
// milliseconds, all zero when no samples exist yet.
func requestTimeStats(samples []float64) (avg, lo, hi float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}

	lo, hi = samples[0], samples[0]
	var sum float64
	for _, s := range samples {
		sum += s
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return sum / float64(len(samples)), lo, hi
}
