// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // BitTorrent v1 infohash requires SHA1.
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/brrdex/internal/api/ctxkeys"
	"github.com/autobrr/brrdex/internal/auth"
	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/swarm"
	"github.com/autobrr/brrdex/internal/testdb"
)

func newTestStores(t *testing.T) (*models.TorrentStore, *models.UserStore) {
	t.Helper()

	db := testdb.Open(t, "handlers")
	return models.NewTorrentStore(db), models.NewUserStore(db)
}

func newTestSwarm(t *testing.T) (*swarm.Store, *swarm.Aggregator, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := swarm.NewStore(client)
	return store, swarm.NewAggregator(store, 0), mr, client
}

func newTestIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()

	issuer, err := auth.NewTokenIssuer([]byte("handlers-test-secret"), 10*time.Minute)
	require.NoError(t, err)
	return issuer
}

func newTestUser(t *testing.T, users *models.UserStore, label string) (string, *models.User) {
	t.Helper()

	rawKey, user, err := users.Create(t.Context(), label)
	require.NoError(t, err)
	return rawKey, user
}

// asUser attaches the user to the request context the way the auth
// middleware does after validating an API key.
func asUser(r *http.Request, u *models.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ctxkeys.User, u))
}

// seedPeer plants one announce-shaped swarm entry. left 0 marks a seeder.
func seedPeer(t *testing.T, client *redis.Client, torrentID int, peerID string, userID int, left int64) {
	t.Helper()

	key := fmt.Sprintf("peer:%d:%s", torrentID, peerID)
	require.NoError(t, client.HSet(t.Context(), key, map[string]any{
		"user_id":   userID,
		"left":      left,
		"last_seen": time.Now().Unix(),
	}).Err())
}

// buildTorrent wraps a single-file info dictionary in a metainfo envelope
// and returns the payload with both infohash forms.
func buildTorrent(t *testing.T, name string) (data []byte, hashV1, hashV2 string) {
	t.Helper()

	infoBytes, err := bencode.Marshal(metainfo.Info{
		Name:        name,
		PieceLength: 16384,
		Pieces:      make([]byte, 20),
		Length:      4 << 20,
	})
	require.NoError(t, err)

	mi := metainfo.MetaInfo{
		AnnounceList: [][]string{{"http://tracker.example.com:8080/announce"}},
		InfoBytes:    infoBytes,
	}

	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))

	v1 := sha1.Sum(infoBytes) //nolint:gosec // BitTorrent v1 infohash requires SHA1.
	v2 := sha256.Sum256(infoBytes)
	return buf.Bytes(), hex.EncodeToString(v1[:]), hex.EncodeToString(v2[:])
}

// uploadRequest assembles the multipart form HandleUpload consumes. An empty
// filename omits the file part entirely.
func uploadRequest(t *testing.T, fields map[string]string, filename string, file []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("torrent_file", filename)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v2/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
