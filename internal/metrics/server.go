// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Server struct {
	server         *http.Server
	manager        *Manager
	basicAuthUsers map[string]string
}

// NewMetricsServer builds the standalone /metrics listener. basicAuthUsers
// is a comma-separated list of user:password pairs; entries without a colon
// are skipped. An empty list disables auth.
func NewMetricsServer(manager *Manager, host string, port int, basicAuthUsers string) *Server {
	users := make(map[string]string)
	for _, entry := range strings.Split(basicAuthUsers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, pass, ok := strings.Cut(entry, ":")
		if !ok {
			log.Warn().Str("entry", entry).Msg("Skipping malformed metrics basic auth entry")
			continue
		}
		users[name] = pass
	}

	s := &Server{
		manager:        manager,
		basicAuthUsers: users,
	}

	r := chi.NewRouter()
	r.Use(s.basicAuth)
	r.Handle("/metrics", promhttp.HandlerFor(manager.GetRegistry(), promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}

	return s
}

func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	return s.server.ListenAndServe()
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.basicAuthUsers) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		name, pass, ok := r.BasicAuth()
		if ok {
			expected, found := s.basicAuthUsers[name]
			if found && subtle.ConstantTimeCompare([]byte(pass), []byte(expected)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	})
}
