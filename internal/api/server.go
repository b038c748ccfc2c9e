// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	brotlienc "github.com/CAFxX/httpcompression/contrib/andybalholm/brotli"
	zstdenc "github.com/CAFxX/httpcompression/contrib/klauspost/zstd"
	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/api/handlers"
	"github.com/autobrr/brrdex/internal/api/middleware"
	"github.com/autobrr/brrdex/internal/auth"
	"github.com/autobrr/brrdex/internal/config"
	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/swarm"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	torrentStore *models.TorrentStore
	userStore    *models.UserStore
	swarmStore   *swarm.Store
	aggregator   *swarm.Aggregator
	tokens       *auth.TokenIssuer
}

type Dependencies struct {
	Config       *config.AppConfig
	Version      string
	TorrentStore *models.TorrentStore
	UserStore    *models.UserStore
	SwarmStore   *swarm.Store
	Aggregator   *swarm.Aggregator
	Tokens       *auth.TokenIssuer
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:       log.Logger.With().Str("module", "api").Logger(),
		config:       deps.Config,
		version:      deps.Version,
		torrentStore: deps.TorrentStore,
		userStore:    deps.UserStore,
		swarmStore:   deps.SwarmStore,
		aggregator:   deps.Aggregator,
		tokens:       deps.Tokens,
	}
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Msgf("Starting API server - Open: http://%s", host)

	s.server.Handler = s.Handler()

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// HTTP compression negotiating gzip, brotli and zstd. Fast encoder
	// levels; most responses are small XML/JSON.
	if compressor, err := newCompressor(); err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	r.Use(middleware.Telemetry(s.swarmStore, s.logger, s.config.Config.HighLatencyThreshold))

	cfg := s.config.Config

	healthHandler := handlers.NewHealthHandler()
	torznabHandler := handlers.NewTorznabHandler(s.torrentStore, s.aggregator, s.tokens, cfg.ExternalURL, cfg.SiteName)
	torrentsHandler := handlers.NewTorrentsHandler(s.torrentStore, s.userStore, s.tokens, cfg.TorrentsDir)
	userHandler := handlers.NewUserHandler(s.userStore, cfg.MinClientVersion, cfg.ClientDialTimeout)
	syncHandler := handlers.NewSyncHandler(s.torrentStore, cfg.SyncBatchSize)
	analyticsHandler := handlers.NewAnalyticsHandler(s.swarmStore, s.aggregator, s.torrentStore, s.userStore)

	// Torznab clients (Sonarr, Radarr, Lidarr) authenticate with ?apikey=
	// in the feed URL rather than a header.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyFromQuery("apikey"))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(s.userStore))
			r.Get("/", torznabHandler.Handle)
		})

		r.Route("/v2", func(r chi.Router) {
			r.Route("/health", healthHandler.Routes)

			// Grab resolves its own auth: feed access token or API key.
			r.Get("/grab", torrentsHandler.HandleGrab)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAPIKey(s.userStore))

				r.With(middleware.LatencyThreshold(2 * time.Second)).
					Post("/upload", torrentsHandler.HandleUpload)
				r.With(middleware.LatencyThreshold(5 * time.Second)).
					Post("/sync", syncHandler.HandleSync)

				r.Get("/validate", torrentsHandler.HandleValidate)
				r.Get("/user", userHandler.HandleCheckIn)
				r.Get("/user/stats", userHandler.HandleStats)
				r.Get("/analytics", analyticsHandler.HandleAnalytics)
			})
		})
	})

	return r
}

func newCompressor() (func(http.Handler) http.Handler, error) {
	brotliComp, err := brotlienc.New(brotli.WriterOptions{Quality: 3})
	if err != nil {
		return nil, err
	}

	zstdComp, err := zstdenc.New(zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}

	return httpcompression.Adapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Compressor(brotlienc.Encoding, 1, brotliComp),
		httpcompression.Compressor(zstdenc.Encoding, 2, zstdComp),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
}
