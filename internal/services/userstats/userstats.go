// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package userstats refreshes the cached per-user counters served by the
// profile and stats endpoints: upload totals from the catalog, seeding and
// leeching counts from the swarm snapshot.
package userstats

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/swarm"
)

// Config controls the refresh cadence.
type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

// Result summarizes one refresh cycle.
type Result struct {
	Peers         int
	SeedingUsers  int
	LeechingUsers int
}

// Service runs the periodic user counter refresh.
type Service struct {
	cfg        Config
	users      *models.UserStore
	aggregator *swarm.Aggregator

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func New(cfg Config, users *models.UserStore, aggregator *swarm.Aggregator) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Service{cfg: cfg, users: users, aggregator: aggregator}
}

// Start launches the refresh loop. The first cycle runs immediately.
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

	s.refresh(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Service) refresh(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("[STATS] User stats refresh failed, skipping cycle")
		}
		return
	}
	log.Debug().
		Int("peers", res.Peers).
		Int("seedingUsers", res.SeedingUsers).
		Int("leechingUsers", res.LeechingUsers).
		Msg("[STATS] Refreshed user counters")
}

// RunOnce recomputes upload counters from the catalog and swarm counters
// from a fresh aggregator snapshot. The snapshot is taken first: a swarm
// failure skips the whole cycle and leaves every counter untouched.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	snap, err := s.aggregator.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}

	if err := s.users.RefreshUploadCounters(ctx); err != nil {
		return Result{}, err
	}
	if err := s.users.UpdateSwarmCounters(ctx, snap.UserSeeding, snap.UserLeeching); err != nil {
		return Result{}, err
	}

	return Result{
		Peers:         snap.TotalPeers,
		SeedingUsers:  len(snap.UserSeeding),
		LeechingUsers: len(snap.UserLeeching),
	}, nil
}
