// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autobrr/brrdex/internal/buildinfo"
	"github.com/autobrr/brrdex/internal/config"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "brrdex",
		Short: "A private Torznab torrent indexer",
		Long: `brrdex - a private torrent indexer serving a Torznab-compatible
search API with upload ingestion, swarm statistics and catalog reconciliation.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunUserCommand())
	rootCmd.AddCommand(RunSweepCommand())
	rootCmd.AddCommand(RunBackupCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of brrdex",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.
The file is written to the config directory unless one already exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configDir == "" {
				configDir = config.GetDefaultConfigDir()
			}

			if _, err := config.New(configDir); err != nil {
				return err
			}

			cmd.Printf("Config file ready in %s\n", configDir)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific)")

	return command
}
