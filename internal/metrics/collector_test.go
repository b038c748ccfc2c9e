// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/swarm"
	"github.com/autobrr/brrdex/internal/testdb"
)

func TestIndexerCollector(t *testing.T) {
	db := testdb.Open(t, "metrics")
	torrents := models.NewTorrentStore(db)
	users := models.NewUserStore(db)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := swarm.NewStore(client)

	_, user, err := users.Create(t.Context(), "collector-user")
	require.NoError(t, err)

	row, err := torrents.Create(t.Context(), &models.Torrent{
		Name:          "Show S01E01",
		Category:      models.CategoryTV,
		Size:          1024,
		Files:         1,
		HashV2:        strings.Repeat("ab", 32),
		AddedByUserID: &user.ID,
	})
	require.NoError(t, err)

	// One seeder, one leecher on the row.
	for i, left := range []int64{0, 9} {
		key := fmt.Sprintf("peer:%d:peer%d", row.ID, i)
		require.NoError(t, client.HSet(t.Context(), key, map[string]any{
			"user_id":   user.ID,
			"left":      left,
			"last_seen": time.Now().Unix(),
		}).Err())
	}

	collector := NewIndexerCollector(torrents, users, swarm.NewAggregator(store, 0))

	expected := `
		# HELP brrdex_users_total Number of registered users
		# TYPE brrdex_users_total gauge
		brrdex_users_total 1
		# HELP brrdex_swarm_peers Live peers in the swarm store
		# TYPE brrdex_swarm_peers gauge
		brrdex_swarm_peers 2
		# HELP brrdex_swarm_seeding_torrents Torrents with at least one seeder
		# TYPE brrdex_swarm_seeding_torrents gauge
		brrdex_swarm_seeding_torrents 1
		# HELP brrdex_swarm_leeching_torrents Torrents with at least one leecher
		# TYPE brrdex_swarm_leeching_torrents gauge
		brrdex_swarm_leeching_torrents 1
	`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"brrdex_users_total", "brrdex_swarm_peers", "brrdex_swarm_seeding_torrents", "brrdex_swarm_leeching_torrents"))

	count := testutil.CollectAndCount(collector, "brrdex_torrents_total")
	require.Equal(t, len(models.Categories), count)
}
