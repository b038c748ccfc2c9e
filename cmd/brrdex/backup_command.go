// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/autobrr/brrdex/internal/backups"
	"github.com/autobrr/brrdex/internal/buildinfo"
	"github.com/autobrr/brrdex/internal/config"
	"github.com/autobrr/brrdex/internal/database"
	"github.com/autobrr/brrdex/internal/models"
)

func RunBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Backup operations",
	}

	cmd.AddCommand(runBackupCreateCommand())
	return cmd
}

func runBackupCreateCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		outputDir string
		keep      int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a zip backup of the database and torrent files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(configDir)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.SetDataDir(dataDir)
			}
			if outputDir == "" {
				outputDir = filepath.Join(cfg.GetDataDir(), "backups")
			}

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return err
			}
			defer db.Close()

			svc := backups.NewService(backups.Config{
				Dir:  outputDir,
				Keep: keep,
			}, db, models.NewTorrentStore(db), buildinfo.Version)

			path, err := svc.CreateBackup(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("Backup created: %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory path")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory override")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for archives (default <data-dir>/backups)")
	cmd.Flags().IntVar(&keep, "keep", 0, "number of archives to retain, 0 keeps all")

	return cmd
}
