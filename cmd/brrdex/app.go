// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/brrdex/internal/api"
	"github.com/autobrr/brrdex/internal/auth"
	"github.com/autobrr/brrdex/internal/buildinfo"
	"github.com/autobrr/brrdex/internal/config"
	"github.com/autobrr/brrdex/internal/database"
	"github.com/autobrr/brrdex/internal/metrics"
	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/services/clientcheck"
	"github.com/autobrr/brrdex/internal/services/peerexpiry"
	"github.com/autobrr/brrdex/internal/services/reconciler"
	"github.com/autobrr/brrdex/internal/services/stalepurge"
	"github.com/autobrr/brrdex/internal/services/userstats"
	"github.com/autobrr/brrdex/internal/swarm"
)

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the indexer server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and torrent files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		cfg.Config.LogPath = app.logPath
	}
	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting brrdex")

	if err := os.MkdirAll(cfg.Config.TorrentsDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Config.TorrentsDir).Msg("Failed to create torrents directory")
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	torrentStore := models.NewTorrentStore(db)
	userStore := models.NewUserStore(db)

	redisClient := swarm.NewClient(cfg.Config.RedisAddr, cfg.Config.RedisPassword, cfg.Config.RedisDB)
	defer redisClient.Close()

	swarmStore := swarm.NewStore(redisClient)
	if err := swarmStore.Ping(context.Background()); err != nil {
		// Swarm stats degrade to zero counts until Redis comes back.
		log.Warn().Err(err).Str("addr", cfg.Config.RedisAddr).Msg("Swarm store unreachable at startup")
	}
	aggregator := swarm.NewAggregator(swarmStore, int64(cfg.Config.PeerSweepBatch))

	tokens, err := auth.NewTokenIssuer(cfg.TokenSecret(), cfg.Config.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize token issuer")
	}

	servicesCtx, cancelServices := context.WithCancel(context.Background())
	defer cancelServices()

	reconcileService := reconciler.New(reconciler.Config{
		Strategy:    cfg.Config.ReconcileStrategy,
		TorrentsDir: cfg.Config.TorrentsDir,
		Interval:    cfg.Config.ReconcileInterval,
		HashWorkers: cfg.Config.HashWorkers,
	}, torrentStore)
	reconcileService.Start(servicesCtx)
	defer reconcileService.Stop()

	expiryService := peerexpiry.New(peerexpiry.Config{
		Interval: cfg.Config.PeerSweepInterval,
		Timeout:  cfg.Config.PeerTimeout,
		Batch:    int64(cfg.Config.PeerSweepBatch),
	}, swarmStore)
	expiryService.Start(servicesCtx)
	defer expiryService.Stop()

	statsService := userstats.New(userstats.Config{
		Interval: cfg.Config.StatsRefreshInterval,
	}, userStore, aggregator)
	statsService.Start(servicesCtx)
	defer statsService.Stop()

	staleService := stalepurge.New(stalepurge.Config{
		Interval:  cfg.Config.StaleSweepInterval,
		Threshold: cfg.Config.StaleThreshold,
	}, torrentStore)
	staleService.Start(servicesCtx)
	defer staleService.Stop()

	checkService := clientcheck.New(clientcheck.Config{
		Interval:    cfg.Config.ClientCheckInterval,
		DialTimeout: cfg.Config.ClientDialTimeout,
	}, userStore)
	checkService.Start(servicesCtx)
	defer checkService.Stop()

	if cfg.Config.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	httpServer := api.NewServer(&api.Dependencies{
		Config:       cfg,
		Version:      buildinfo.Version,
		TorrentStore: torrentStore,
		UserStore:    userStore,
		SwarmStore:   swarmStore,
		Aggregator:   aggregator,
		Tokens:       tokens,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	if cfg.Config.MetricsEnabled {
		metricsManager := metrics.NewMetricsManager(torrentStore, userStore, aggregator)

		go func() {
			metricsServer := metrics.NewMetricsServer(
				metricsManager,
				cfg.Config.MetricsHost,
				cfg.Config.MetricsPort,
				cfg.Config.MetricsBasicAuthUsers,
			)
			errorChannel <- metricsServer.ListenAndServe()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errorChannel:
		log.Error().Err(err).Msg("Server failed")
	}

	cancelServices()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down HTTP server cleanly")
	}
}
