// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/api/middleware"
	"github.com/autobrr/brrdex/internal/models"
)

// Clients that omit a port announce on the common BitTorrent default.
const defaultAnnouncePort = 6881

// UserHandler serves client check-ins and per-user counters.
type UserHandler struct {
	users            *models.UserStore
	minClientVersion string
	dialTimeout      time.Duration

	// dial is swapped out in tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewUserHandler builds the handler. An empty minClientVersion disables the
// version gate entirely.
func NewUserHandler(users *models.UserStore, minClientVersion string, dialTimeout time.Duration) *UserHandler {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &UserHandler{
		users:            users,
		minClientVersion: minClientVersion,
		dialTimeout:      dialTimeout,
		dial:             net.DialTimeout,
	}
}

// HandleCheckIn records a client heartbeat: it probes the announce address
// the client claims to be reachable on, gates the reported version against
// the configured minimum, and persists the lot. An outdated client still
// checks in; the response just tells it to update.
func (h *UserHandler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	version := strings.TrimSpace(r.URL.Query().Get("v"))

	announceIP := strings.TrimSpace(r.URL.Query().Get("announce_ip"))
	if announceIP == "" {
		announceIP = requestIP(r)
	}
	port := queryInt(r, "port")
	if port <= 0 {
		port = defaultAnnouncePort
	}
	publicUploads := queryBool(r, "public_uploads")

	addr := net.JoinHostPort(announceIP, strconv.Itoa(port))

	reachable := models.ReachableNo
	if conn, err := h.dial("tcp", addr, h.dialTimeout); err == nil {
		_ = conn.Close()
		reachable = models.ReachableYes
	}

	if reachable == models.ReachableYes {
		log.Info().Str("user", user.Label).Str("clientVersion", version).Str("addr", addr).Msg("Client checked in, announce address reachable")
	} else {
		log.Warn().Str("user", user.Label).Str("clientVersion", version).Str("addr", addr).Msg("Client checked in, announce address UNREACHABLE")
	}

	if err := h.users.CheckIn(r.Context(), user.ID, version, addr, reachable, publicUploads); err != nil {
		log.Error().Err(err).Int("userID", user.ID).Msg("Failed to record check-in")
		RespondError(w, http.StatusInternalServerError, "Failed to record check-in")
		return
	}

	resp := map[string]any{
		"user_label":   user.Label,
		"announce_ip":  announceIP,
		"is_reachable": reachable == models.ReachableYes,
	}
	if msg := h.outdatedMessage(version); msg != "" {
		resp["outdated_client"] = msg
	}
	RespondJSON(w, http.StatusOK, resp)
}

// HandleStats returns the caller's counters from a fresh row read, since the
// stats refresher may have updated them after authentication loaded the user.
func (h *UserHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	u, err := h.users.GetByID(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Int("userID", user.ID).Msg("Failed to load user stats")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"user":                 u.Label,
		"torrents_added_total": u.TorrentsUploaded,
		"currently_seeding":    u.Seeding,
		"currently_leeching":   u.Leeching,
		"grabs_total":          u.Grabs,
		"popularity":           u.Popularity,
		"total_download":       u.Downloaded,
		"total_upload":         u.Uploaded,
		"server_ratio":         u.Ratio(),
	})
}

// outdatedMessage compares the reported version against the configured
// minimum. Unparseable versions skip the gate rather than locking a client
// out on a formatting quirk.
func (h *UserHandler) outdatedMessage(version string) string {
	if h.minClientVersion == "" || version == "" {
		return ""
	}

	required, err := semver.NewVersion(h.minClientVersion)
	if err != nil {
		return ""
	}
	reported, err := semver.NewVersion(version)
	if err != nil {
		log.Debug().Str("clientVersion", version).Msg("Unparseable client version at check-in")
		return ""
	}

	if reported.LessThan(required) {
		return fmt.Sprintf("Client version %s is below the required minimum %s, please update", version, h.minClientVersion)
	}
	return ""
}

// requestIP is the peer address with any port stripped. RealIP middleware
// has already folded proxy headers into RemoteAddr.
func requestIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
