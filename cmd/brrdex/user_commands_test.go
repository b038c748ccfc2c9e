// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/brrdex/internal/database"
	"github.com/autobrr/brrdex/internal/models"
)

func TestUserCreateCommandCreatesUser(t *testing.T) {
	ctx := context.Background()
	configDir := filepath.Join(t.TempDir(), "config")

	output := mustRunUserCommand(t, RunUserCommand(),
		"create",
		"--config-dir", configDir,
		"--label", "sonarr",
	)

	assert.Contains(t, output, "User 'sonarr' created successfully")
	assert.Contains(t, output, "API key: ")

	rawKey := extractAPIKey(t, output)
	require.Len(t, rawKey, 64)

	db := openDatabase(t, databasePath(configDir))
	t.Cleanup(func() { _ = db.Close() })

	userStore := models.NewUserStore(db)
	user, err := userStore.GetByLabel(ctx, "sonarr")
	require.NoError(t, err)
	assert.Equal(t, "sonarr", user.Label)
	assert.Equal(t, models.HashAPIKey(rawKey), user.APIKeyHash)
}

func TestUserCreateCommandSkipsDuplicateLabel(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "config")

	mustRunUserCommand(t, RunUserCommand(),
		"create", "--config-dir", configDir, "--label", "sonarr",
	)

	output := mustRunUserCommand(t, RunUserCommand(),
		"create", "--config-dir", configDir, "--label", "sonarr",
	)

	assert.Contains(t, output, "User 'sonarr' already exists")
}

func TestUserResetKeyCommandRotatesKey(t *testing.T) {
	ctx := context.Background()
	configDir := filepath.Join(t.TempDir(), "config")

	created := mustRunUserCommand(t, RunUserCommand(),
		"create", "--config-dir", configDir, "--label", "radarr",
	)
	oldKey := extractAPIKey(t, created)

	output := mustRunUserCommand(t, RunUserCommand(),
		"reset-key", "--config-dir", configDir, "--label", "radarr",
	)

	assert.Contains(t, output, "API key for 'radarr' reset successfully")
	newKey := extractAPIKey(t, output)
	assert.NotEqual(t, oldKey, newKey)

	db := openDatabase(t, databasePath(configDir))
	t.Cleanup(func() { _ = db.Close() })

	userStore := models.NewUserStore(db)

	_, err := userStore.ValidateAPIKey(ctx, oldKey)
	assert.ErrorIs(t, err, models.ErrInvalidAPIKey)

	user, err := userStore.ValidateAPIKey(ctx, newKey)
	require.NoError(t, err)
	assert.Equal(t, "radarr", user.Label)
}

func TestUserDeleteCommandRemovesUser(t *testing.T) {
	ctx := context.Background()
	configDir := filepath.Join(t.TempDir(), "config")

	mustRunUserCommand(t, RunUserCommand(),
		"create", "--config-dir", configDir, "--label", "prowlarr",
	)

	output := mustRunUserCommand(t, RunUserCommand(),
		"delete", "--config-dir", configDir, "--label", "prowlarr",
	)

	assert.Contains(t, output, "User 'prowlarr' deleted")

	db := openDatabase(t, databasePath(configDir))
	t.Cleanup(func() { _ = db.Close() })

	_, err := models.NewUserStore(db).GetByLabel(ctx, "prowlarr")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestUserListCommandShowsUsers(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "config")

	mustRunUserCommand(t, RunUserCommand(),
		"create", "--config-dir", configDir, "--label", "sonarr",
	)
	mustRunUserCommand(t, RunUserCommand(),
		"create", "--config-dir", configDir, "--label", "radarr",
	)

	output := mustRunUserCommand(t, RunUserCommand(),
		"list", "--config-dir", configDir,
	)

	assert.Contains(t, output, "sonarr")
	assert.Contains(t, output, "radarr")
}

func mustRunUserCommand(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	output, err := runUserCommand(cmd, args...)
	require.NoError(t, err)
	return output
}

func runUserCommand(cmd *cobra.Command, args ...string) (string, error) {
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func extractAPIKey(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if rest, ok := strings.CutPrefix(line, "New API key: "); ok {
			return strings.TrimSpace(rest)
		}
		if rest, ok := strings.CutPrefix(line, "API key: "); ok {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("no API key in output:\n%s", output)
	return ""
}

func databasePath(configDir string) string {
	return filepath.Join(configDir, "brrdex.db")
}

func openDatabase(t *testing.T, path string) *database.DB {
	t.Helper()
	db, err := database.New(path)
	require.NoError(t, err)
	return db
}
