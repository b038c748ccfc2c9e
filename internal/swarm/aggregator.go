// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package swarm

import (
	"context"
	"fmt"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"golang.org/x/sync/singleflight"
)

// snapshotTTL bounds how often a full keyspace aggregation may run. Search
// enrichment and the user stats refresher share the cached result.
const snapshotTTL = 15 * time.Second

const snapshotKey = "swarm"

// Counts holds the live swarm tallies for one torrent.
type Counts struct {
	Seeders  int
	Leechers int
}

// Snapshot is one full aggregation pass over the peer keyspace. Staleness is
// the Peer Expiry Sweep's job alone; whatever the sweep has not yet removed
// still counts here.
type Snapshot struct {
	Torrents     map[int]Counts
	UserSeeding  map[int]int
	UserLeeching map[int]int
	TotalPeers   int
	TakenAt      time.Time
}

// Counts returns the live counts for a torrent, zero when absent.
func (s *Snapshot) Counts(torrentID int) Counts {
	if s == nil {
		return Counts{}
	}
	return s.Torrents[torrentID]
}

// SeedingTorrents counts torrents with at least one seeder.
func (s *Snapshot) SeedingTorrents() int {
	n := 0
	for _, c := range s.Torrents {
		if c.Seeders > 0 {
			n++
		}
	}
	return n
}

// LeechingTorrents counts torrents with at least one leecher.
func (s *Snapshot) LeechingTorrents() int {
	n := 0
	for _, c := range s.Torrents {
		if c.Leechers > 0 {
			n++
		}
	}
	return n
}

// Aggregator condenses the peer keyspace into per-torrent and per-user
// counts, at most once per TTL window regardless of caller concurrency.
type Aggregator struct {
	store     *Store
	scanBatch int64
	cache     *ttlcache.Cache[string, *Snapshot]
	sf        singleflight.Group
}

// NewAggregator creates an Aggregator over the given swarm store. scanBatch
// is the SCAN COUNT hint; zero or negative uses DefaultScanBatch.
func NewAggregator(store *Store, scanBatch int64) *Aggregator {
	return &Aggregator{
		store:     store,
		scanBatch: scanBatch,
		cache: ttlcache.New(ttlcache.Options[string, *Snapshot]{}.
			SetDefaultTTL(snapshotTTL)),
	}
}

// Snapshot returns the cached aggregation when fresh, otherwise rebuilds it.
// Concurrent rebuilds are deduplicated. On swarm store failure the returned
// snapshot is empty and the error reports the cause, so callers can choose
// between zero-count enrichment and skipping a refresh cycle.
func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap, ok := a.cache.Get(snapshotKey); ok {
		return snap, nil
	}

	v, err, _ := a.sf.Do(snapshotKey, func() (any, error) {
		if snap, ok := a.cache.Get(snapshotKey); ok {
			return snap, nil
		}

		snap, err := a.build(ctx)
		if err != nil {
			return emptySnapshot(), err
		}

		a.cache.Set(snapshotKey, snap, ttlcache.DefaultTTL)
		return snap, nil
	})

	snap, ok := v.(*Snapshot)
	if !ok {
		snap = emptySnapshot()
	}
	return snap, err
}

func (a *Aggregator) build(ctx context.Context) (*Snapshot, error) {
	snap := emptySnapshot()

	err := a.store.IterPeers(ctx, a.scanBatch, func(p Peer) {
		counts := snap.Torrents[p.TorrentID]
		if p.Seeding() {
			counts.Seeders++
			if p.UserID > 0 {
				snap.UserSeeding[p.UserID]++
			}
		} else {
			counts.Leechers++
			if p.UserID > 0 {
				snap.UserLeeching[p.UserID]++
			}
		}
		snap.Torrents[p.TorrentID] = counts
		snap.TotalPeers++
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate swarm state: %w", err)
	}

	return snap, nil
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Torrents:     make(map[int]Counts),
		UserSeeding:  make(map[int]int),
		UserLeeching: make(map[int]int),
		TakenAt:      time.Now(),
	}
}
