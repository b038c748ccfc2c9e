// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/autobrr/brrdex/internal/config"
	"github.com/autobrr/brrdex/internal/database"
	"github.com/autobrr/brrdex/internal/models"
)

func RunUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API-key users",
	}

	cmd.AddCommand(runUserCreateCommand())
	cmd.AddCommand(runUserListCommand())
	cmd.AddCommand(runUserResetKeyCommand())
	cmd.AddCommand(runUserDeleteCommand())
	return cmd
}

func runUserCreateCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		label     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user and print their API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if label == "" {
				return errors.New("--label is required")
			}

			db, userStore, err := openUserStore(configDir, dataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			rawKey, user, err := userStore.Create(cmd.Context(), label)
			if err != nil {
				if errors.Is(err, models.ErrDuplicateLabel) {
					cmd.Printf("User '%s' already exists\n", label)
					return nil
				}
				return err
			}

			cmd.Printf("User '%s' created successfully (id %d)\n", user.Label, user.ID)
			cmd.Printf("API key: %s\n", rawKey)
			cmd.Println("Store this key now, it cannot be shown again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory path")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory override")
	cmd.Flags().StringVar(&label, "label", "", "unique label for the user")

	return cmd
}

func runUserListCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, userStore, err := openUserStore(configDir, dataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			users, err := userStore.List(cmd.Context())
			if err != nil {
				return err
			}

			if len(users) == 0 {
				cmd.Println("No users")
				return nil
			}

			for _, user := range users {
				cmd.Printf("%d\t%s\tuploads=%d grabs=%d ratio=%.2f\n",
					user.ID, user.Label, user.TorrentsUploaded, user.Grabs, user.Ratio())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory path")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory override")

	return cmd
}

func runUserResetKeyCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		label     string
	)

	cmd := &cobra.Command{
		Use:   "reset-key",
		Short: "Rotate a user's API key and print the new one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if label == "" {
				return errors.New("--label is required")
			}

			db, userStore, err := openUserStore(configDir, dataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := userStore.GetByLabel(cmd.Context(), label)
			if err != nil {
				return err
			}

			rawKey, err := userStore.ResetAPIKey(cmd.Context(), user.ID)
			if err != nil {
				return err
			}

			cmd.Printf("API key for '%s' reset successfully\n", user.Label)
			cmd.Printf("New API key: %s\n", rawKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory path")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory override")
	cmd.Flags().StringVar(&label, "label", "", "label of the user")

	return cmd
}

func runUserDeleteCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		label     string
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if label == "" {
				return errors.New("--label is required")
			}

			db, userStore, err := openUserStore(configDir, dataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := userStore.GetByLabel(cmd.Context(), label)
			if err != nil {
				return err
			}

			if err := userStore.Delete(cmd.Context(), user.ID); err != nil {
				return err
			}

			cmd.Printf("User '%s' deleted\n", user.Label)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory path")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory override")
	cmd.Flags().StringVar(&label, "label", "", "label of the user")

	return cmd
}

func openUserStore(configDir, dataDir string) (*database.DB, *models.UserStore, error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, nil, err
	}
	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, err
	}

	return db, models.NewUserStore(db), nil
}
