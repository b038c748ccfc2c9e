// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package swarm

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client), mr, client
}

func seedPeer(t *testing.T, client *redis.Client, torrentID int, peerID string, fields map[string]any) string {
	t.Helper()

	key := fmt.Sprintf("peer:%d:%s", torrentID, peerID)
	require.NoError(t, client.HSet(t.Context(), key, fields).Err())
	return key
}

func TestParsePeerKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key       string
		torrentID int
		ok        bool
	}{
		{key: "peer:42:abcdef0123", torrentID: 42, ok: true},
		{key: "peer:7:id:with:colons", torrentID: 7, ok: true},
		{key: "peer:x:abcdef0123", ok: false},
		{key: "peer:42", ok: false},
		{key: "stats:requests:extra", ok: false},
		{key: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()

			id, ok := ParsePeerKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.torrentID, id)
		})
	}
}

func TestStore_IterPeers(t *testing.T) {
	t.Parallel()

	store, _, client := newTestStore(t)
	ctx := t.Context()

	seedPeer(t, client, 1, "aa", map[string]any{"user_id": 10, "left": 0, "last_seen": 1700000000})
	seedPeer(t, client, 1, "bb", map[string]any{"user_id": 11, "left": 512, "last_seen": 1700000100})
	seedPeer(t, client, 2, "cc", map[string]any{"user_id": 10, "last_seen": 1700000200})
	require.NoError(t, client.Set(ctx, "stats:requests", 99, 0).Err())

	var peers []Peer
	err := store.IterPeers(ctx, 2, func(p Peer) {
		peers = append(peers, p)
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []Peer{
		{TorrentID: 1, UserID: 10, Left: 0, LastSeen: 1700000000},
		{TorrentID: 1, UserID: 11, Left: 512, LastSeen: 1700000100},
		{TorrentID: 2, UserID: 10, Left: 1, LastSeen: 1700000200},
	}, peers)
}

func TestStore_IterPeers_StoreDown(t *testing.T) {
	t.Parallel()

	store, mr, _ := newTestStore(t)
	mr.Close()

	err := store.IterPeers(t.Context(), 0, func(Peer) {})
	require.Error(t, err)
}

func TestStore_PurgeExpired(t *testing.T) {
	t.Parallel()

	store, _, client := newTestStore(t)
	ctx := t.Context()

	now := time.Now()
	old := now.Add(-time.Hour)

	oldKey := seedPeer(t, client, 1, "old", map[string]any{"user_id": 10, "left": 0, "last_seen": old.Unix()})
	freshKey := seedPeer(t, client, 1, "fresh", map[string]any{"user_id": 11, "left": 0, "last_seen": now.Unix()})
	brokenKey := seedPeer(t, client, 2, "broken", map[string]any{"user_id": 12})
	badKey := seedPeer(t, client, 3, "bad", map[string]any{"user_id": 13, "last_seen": "soon"})

	require.NoError(t, client.ZAdd(ctx, "peers:index",
		redis.Z{Score: float64(old.Unix()), Member: oldKey},
		redis.Z{Score: float64(now.Unix()), Member: freshKey},
	).Err())

	purged, err := store.PurgeExpired(ctx, now.Add(-30*time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, purged)

	assert.Equal(t, int64(0), client.Exists(ctx, oldKey, brokenKey, badKey).Val())
	assert.Equal(t, int64(1), client.Exists(ctx, freshKey).Val())

	err = client.ZScore(ctx, "peers:index", oldKey).Err()
	assert.ErrorIs(t, err, redis.Nil)
	require.NoError(t, client.ZScore(ctx, "peers:index", freshKey).Err())
}

func TestStore_Telemetry_Empty(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)

	tele, err := store.Telemetry(t.Context())
	require.NoError(t, err)
	assert.Zero(t, tele.Requests)
	assert.Zero(t, tele.BytesSent)
	assert.Zero(t, tele.BytesReceived)
	assert.Zero(t, tele.UniqueVisitors)
	assert.Empty(t, tele.RequestTimes)
}

func TestStore_TrackRequest(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.TrackRequest(ctx, "198.51.100.7", 100, 250, 12*time.Millisecond))
	require.NoError(t, store.TrackRequest(ctx, "198.51.100.7", 0, 50, 8*time.Millisecond))
	require.NoError(t, store.TrackRequest(ctx, "203.0.113.2", 20, 0, 40*time.Millisecond))

	tele, err := store.Telemetry(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), tele.Requests)
	assert.Equal(t, int64(2), tele.UniqueVisitors)
	assert.Equal(t, int64(120), tele.BytesReceived)
	assert.Equal(t, int64(300), tele.BytesSent)

	require.Len(t, tele.RequestTimes, 3)
	assert.InDelta(t, 12.0, tele.RequestTimes[0], 0.01)
	assert.InDelta(t, 8.0, tele.RequestTimes[1], 0.01)
	assert.InDelta(t, 40.0, tele.RequestTimes[2], 0.01)
}
