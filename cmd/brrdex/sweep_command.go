// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autobrr/brrdex/internal/config"
	"github.com/autobrr/brrdex/internal/database"
	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/services/peerexpiry"
	"github.com/autobrr/brrdex/internal/services/reconciler"
	"github.com/autobrr/brrdex/internal/services/stalepurge"
	"github.com/autobrr/brrdex/internal/swarm"
)

func RunSweepCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		strategy  string
		skipPeers bool
		skipStale bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run reconciliation, peer expiry and stale purge once, then exit",
		Long: `Run the maintenance sweeps a single time without starting the server.
Useful from cron or after restoring a backup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(configDir)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.SetDataDir(dataDir)
			}
			if strategy != "" {
				cfg.Config.ReconcileStrategy = strategy
			}

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return err
			}
			defer db.Close()

			torrentStore := models.NewTorrentStore(db)
			ctx := cmd.Context()

			reconcileService := reconciler.New(reconciler.Config{
				Strategy:    cfg.Config.ReconcileStrategy,
				TorrentsDir: cfg.Config.TorrentsDir,
				HashWorkers: cfg.Config.HashWorkers,
			}, torrentStore)

			result, err := reconcileService.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			cmd.Printf("Reconcile: examined=%d repaired=%d removed=%d orphans_removed=%d\n",
				result.Examined, result.Repaired, result.Removed, result.OrphansRemoved)

			if !skipPeers {
				redisClient := swarm.NewClient(cfg.Config.RedisAddr, cfg.Config.RedisPassword, cfg.Config.RedisDB)
				defer redisClient.Close()

				expiryService := peerexpiry.New(peerexpiry.Config{
					Timeout: cfg.Config.PeerTimeout,
					Batch:   int64(cfg.Config.PeerSweepBatch),
				}, swarm.NewStore(redisClient))

				expiry, err := expiryService.RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("peer expiry: %w", err)
				}
				cmd.Printf("Peer expiry: purged=%d\n", expiry.Purged)
			}

			if !skipStale {
				staleService := stalepurge.New(stalepurge.Config{
					Threshold: cfg.Config.StaleThreshold,
				}, torrentStore)

				stale, err := staleService.RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("stale purge: %w", err)
				}
				cmd.Printf("Stale purge: purged=%d\n", stale.Purged)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory path")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory override")
	cmd.Flags().StringVar(&strategy, "strategy", "", "reconcile strategy override (scan or hashed)")
	cmd.Flags().BoolVar(&skipPeers, "skip-peers", false, "skip the peer expiry sweep")
	cmd.Flags().BoolVar(&skipStale, "skip-stale", false, "skip the stale torrent purge")

	return cmd
}
