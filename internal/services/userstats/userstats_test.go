// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package userstats

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/swarm"
	"github.com/autobrr/brrdex/internal/testdb"
)

type testEnv struct {
	users    *models.UserStore
	torrents *models.TorrentStore
	store    *swarm.Store
	mr       *miniredis.Miniredis
	client   *redis.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testdb.Open(t, "userstats")
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &testEnv{
		users:    models.NewUserStore(db),
		torrents: models.NewTorrentStore(db),
		store:    swarm.NewStore(client),
		mr:       mr,
		client:   client,
	}
}

func (e *testEnv) newService() *Service {
	return New(Config{}, e.users, swarm.NewAggregator(e.store, swarm.DefaultScanBatch))
}

func (e *testEnv) seedUser(t *testing.T, label string) *models.User {
	t.Helper()

	_, user, err := e.users.Create(t.Context(), label)
	require.NoError(t, err)
	return user
}

func (e *testEnv) seedTorrent(t *testing.T, name string, uploaderID int) *models.Torrent {
	t.Helper()

	created, err := e.torrents.Create(t.Context(), &models.Torrent{
		Name:          name,
		Category:      models.CategoryMovies,
		Size:          4 << 30,
		Files:         1,
		HashV2:        randomHash(t),
		AddedByUserID: &uploaderID,
	})
	require.NoError(t, err)
	return created
}

func (e *testEnv) seedPeer(t *testing.T, torrentID int, peerID string, userID int, left int64) {
	t.Helper()

	key := fmt.Sprintf("peer:%d:%s", torrentID, peerID)
	require.NoError(t, e.client.HSet(t.Context(), key, map[string]any{
		"user_id":   userID,
		"left":      left,
		"last_seen": time.Now().Unix(),
	}).Err())
}

func randomHash(t *testing.T) string {
	t.Helper()

	h, err := models.GenerateAPIKey()
	require.NoError(t, err)
	return h
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	svc := New(Config{}, nil, nil)
	assert.Equal(t, 30*time.Second, svc.cfg.Interval)
}

func TestRunOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := t.Context()

	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	t1 := env.seedTorrent(t, "Movie One 2024 1080p", alice.ID)
	t2 := env.seedTorrent(t, "Movie Two 2024 2160p", alice.ID)
	t3 := env.seedTorrent(t, "Movie Three 2024 720p", bob.ID)

	require.NoError(t, env.torrents.IncrementGrabs(ctx, t1.ID))
	require.NoError(t, env.torrents.IncrementGrabs(ctx, t1.ID))
	require.NoError(t, env.torrents.IncrementGrabs(ctx, t3.ID))

	env.seedPeer(t, t1.ID, "aa", alice.ID, 0)
	env.seedPeer(t, t2.ID, "bb", alice.ID, 4096)
	env.seedPeer(t, t3.ID, "cc", bob.ID, 0)

	res, err := env.newService().RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Peers: 3, SeedingUsers: 2, LeechingUsers: 1}, res)

	alice, err = env.users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, alice.TorrentsUploaded)
	assert.Equal(t, 2, alice.Popularity)
	assert.Equal(t, 1, alice.Seeding)
	assert.Equal(t, 1, alice.Leeching)

	bob, err = env.users.GetByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bob.TorrentsUploaded)
	assert.Equal(t, 1, bob.Popularity)
	assert.Equal(t, 1, bob.Seeding)
	assert.Equal(t, 0, bob.Leeching)
}

func TestRunOnce_SwarmDownSkipsCycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := t.Context()

	alice := env.seedUser(t, "alice")
	env.seedTorrent(t, "Movie One 2024 1080p", alice.ID)
	env.seedTorrent(t, "Movie Two 2024 2160p", alice.ID)

	_, err := env.newService().RunOnce(ctx)
	require.NoError(t, err)

	alice, err = env.users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, 2, alice.TorrentsUploaded)

	env.seedTorrent(t, "Movie Three 2024 720p", alice.ID)
	env.mr.Close()

	// fresh aggregator, so no cached snapshot can satisfy the cycle
	_, err = env.newService().RunOnce(ctx)
	require.Error(t, err)

	alice, err = env.users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, alice.TorrentsUploaded, "upload counters must not refresh when the swarm snapshot fails")
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	svc := New(Config{Interval: time.Hour}, env.users, swarm.NewAggregator(env.store, swarm.DefaultScanBatch))
	svc.Start(t.Context())
	svc.Stop()
	// Stop is idempotent.
	svc.Stop()
}
