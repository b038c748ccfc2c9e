// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stalepurge drops catalog rows whose last_seen has fallen behind
// the stale threshold and deletes their metadata files from disk.
package stalepurge

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/models"
)

// Config controls the sweep cadence and the age at which a torrent is
// considered abandoned.
type Config struct {
	Interval  time.Duration
	Threshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:  6 * time.Hour,
		Threshold: 720 * time.Hour,
	}
}

// Result summarizes one sweep.
type Result struct {
	Purged int
}

// Service runs the periodic stale torrent sweep.
type Service struct {
	cfg      Config
	torrents *models.TorrentStore

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func New(cfg Config, torrents *models.TorrentStore) *Service {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &Service{cfg: cfg, torrents: torrents}
}

// Start launches the sweep loop. The first sweep runs immediately.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Service) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	start := time.Now()
	log.Info().Dur("threshold", s.cfg.Threshold).Msg("[STALE-PURGE] Running stale torrent sweep")

	res, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("[STALE-PURGE] Stale torrent sweep failed")
		}
		return
	}

	log.Info().
		Int("purged", res.Purged).
		Dur("elapsed", time.Since(start)).
		Msg("[STALE-PURGE] Stale torrent sweep complete")
}

// RunOnce deletes every row whose last_seen predates now minus the
// threshold. Metadata files are removed before the rows so a crash between
// the two leaves only rows the next reconciliation pass purges anyway.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	cutoff := time.Now().Add(-s.cfg.Threshold)

	rows, err := s.torrents.ListStaleOlderThan(ctx, cutoff)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, nil
	}

	ids := make([]int, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)

		if row.TorrentPath == "" {
			continue
		}
		if err := os.Remove(row.TorrentPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).
				Str("path", row.TorrentPath).
				Str("name", row.Name).
				Msg("[STALE-PURGE] Failed to remove torrent file")
		}
	}

	purged, err := s.torrents.DeleteByIDs(ctx, ids)
	if err != nil {
		return Result{Purged: int(purged)}, err
	}
	return Result{Purged: int(purged)}, nil
}
