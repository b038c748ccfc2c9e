// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package swarm reads the ephemeral peer state the announce collaborator
// maintains in Redis and condenses it into seeder/leecher counts.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout shared with the announce collaborator. Peer hashes are written
// and refreshed on announce; this service only reads them and deletes
// expired ones.
const (
	peerKeyPattern = "peer:*:*"
	peersIndexKey  = "peers:index"

	telemetryRequests      = "stats:requests"
	telemetryBytesSent     = "stats:bytes_sent"
	telemetryBytesReceived = "stats:bytes_received"
	telemetryUniqueIPs     = "stats:unique_ips"
	telemetryRequestTimes  = "stats:request_times"
)

// DefaultScanBatch is the SCAN COUNT hint used when iterating peer keys.
const DefaultScanBatch = 1000

// requestTimeSamples bounds the rolling latency window kept in Redis.
const requestTimeSamples = 1000

// Peer is one announce-maintained swarm entry.
type Peer struct {
	TorrentID int
	UserID    int
	Left      int64
	LastSeen  int64
}

// Seeding reports whether the peer has completed the download. Left is the
// sole discriminator between seeders and leechers.
func (p Peer) Seeding() bool {
	return p.Left == 0
}

// NewClient builds a Redis client from config values.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Store wraps the Redis connection holding swarm state and request telemetry.
type Store struct {
	client redis.UniversalClient
}

// NewStore creates a Store on top of an established Redis client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Ping verifies the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ParsePeerKey extracts the torrent ID from a "peer:{torrentID}:{peerID}" key.
func ParsePeerKey(key string) (int, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "peer" {
		return 0, false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// IterPeers cursor-scans every peer hash in bounded batches (never KEYS) and
// invokes fn per live entry. Hashes that vanish between scan and fetch are
// skipped. A missing left field defaults to 1 so indeterminate peers count
// as leechers.
func (s *Store) IterPeers(ctx context.Context, batch int64, fn func(Peer)) error {
	if batch <= 0 {
		batch = DefaultScanBatch
	}

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, peerKeyPattern, batch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan peer keys: %w", err)
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*redis.MapStringStringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.HGetAll(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("failed to fetch peer hashes: %w", err)
			}

			for i, cmd := range cmds {
				fields := cmd.Val()
				if len(fields) == 0 {
					continue
				}
				torrentID, ok := ParsePeerKey(keys[i])
				if !ok {
					continue
				}
				fn(parsePeer(torrentID, fields))
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func parsePeer(torrentID int, fields map[string]string) Peer {
	p := Peer{TorrentID: torrentID, Left: 1}
	if v, err := strconv.Atoi(fields["user_id"]); err == nil {
		p.UserID = v
	}
	if v, err := strconv.ParseInt(fields["left"], 10, 64); err == nil {
		p.Left = v
	}
	if v, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		p.LastSeen = v
	}
	return p
}

// PurgeExpired deletes peer hashes whose last_seen is before cutoff and trims
// peers:index to match. Hashes without a parseable last_seen cannot be aged
// and are purged as well. Returns the number of peers removed.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time, batch int64) (int, error) {
	if batch <= 0 {
		batch = DefaultScanBatch
	}

	cutoffEpoch := cutoff.Unix()
	purged := 0

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, peerKeyPattern, batch).Result()
		if err != nil {
			return purged, fmt.Errorf("failed to scan peer keys: %w", err)
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*redis.StringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.HGet(ctx, key, "last_seen")
			}
			if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
				return purged, fmt.Errorf("failed to fetch peer timestamps: %w", err)
			}

			var expired []string
			for i, cmd := range cmds {
				raw, err := cmd.Result()
				if errors.Is(err, redis.Nil) {
					expired = append(expired, keys[i])
					continue
				}
				if err != nil {
					continue
				}
				ts, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || ts < cutoffEpoch {
					expired = append(expired, keys[i])
				}
			}

			if len(expired) > 0 {
				if err := s.client.Del(ctx, expired...).Err(); err != nil {
					return purged, fmt.Errorf("failed to delete expired peers: %w", err)
				}
				purged += len(expired)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return purged, ctx.Err()
		default:
		}
	}

	indexCutoff := "(" + strconv.FormatInt(cutoffEpoch, 10)
	if err := s.client.ZRemRangeByScore(ctx, peersIndexKey, "-inf", indexCutoff).Err(); err != nil {
		return purged, fmt.Errorf("failed to trim peer index: %w", err)
	}

	return purged, nil
}

// Telemetry is the middleware-maintained request accounting read back by the
// analytics endpoint.
type Telemetry struct {
	Requests       int64
	BytesSent      int64
	BytesReceived  int64
	UniqueVisitors int64
	// RequestTimes holds the most recent latency samples in milliseconds.
	RequestTimes []float64
}

// TrackRequest records one API request in the telemetry counters. All writes
// ride a single pipeline so a slow Redis costs one round trip at most.
func (s *Store) TrackRequest(ctx context.Context, clientIP string, received, sent int64, elapsed time.Duration) error {
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, telemetryRequests)
	if clientIP != "" {
		pipe.SAdd(ctx, telemetryUniqueIPs, clientIP)
	}
	if received > 0 {
		pipe.IncrBy(ctx, telemetryBytesReceived, received)
	}
	if sent > 0 {
		pipe.IncrBy(ctx, telemetryBytesSent, sent)
	}

	ms := float64(elapsed.Microseconds()) / 1000.0
	pipe.RPush(ctx, telemetryRequestTimes, strconv.FormatFloat(ms, 'f', -1, 64))
	pipe.LTrim(ctx, telemetryRequestTimes, -requestTimeSamples, -1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record request telemetry: %w", err)
	}
	return nil
}

// Telemetry reads the request counters. Missing keys read as zero.
func (s *Store) Telemetry(ctx context.Context) (*Telemetry, error) {
	pipe := s.client.Pipeline()
	requests := pipe.Get(ctx, telemetryRequests)
	bytesSent := pipe.Get(ctx, telemetryBytesSent)
	bytesReceived := pipe.Get(ctx, telemetryBytesReceived)
	unique := pipe.SCard(ctx, telemetryUniqueIPs)
	times := pipe.LRange(ctx, telemetryRequestTimes, -requestTimeSamples, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read telemetry counters: %w", err)
	}

	t := &Telemetry{
		Requests:       counterValue(requests),
		BytesSent:      counterValue(bytesSent),
		BytesReceived:  counterValue(bytesReceived),
		UniqueVisitors: unique.Val(),
	}
	for _, raw := range times.Val() {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			t.RequestTimes = append(t.RequestTimes, v)
		}
	}
	return t, nil
}

func counterValue(cmd *redis.StringCmd) int64 {
	v, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return v
}
