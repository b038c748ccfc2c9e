// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package peerexpiry removes swarm peer records whose last announce is
// older than the peer timeout, bounding swarm store growth.
package peerexpiry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/swarm"
)

// Config controls the sweep cadence and what counts as expired.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Batch    int64
}

func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Timeout:  30 * time.Minute,
		Batch:    swarm.DefaultScanBatch,
	}
}

// Result summarizes one expiry sweep.
type Result struct {
	Purged int
}

// Service runs the periodic peer expiry sweep.
type Service struct {
	cfg   Config
	store *swarm.Store

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func New(cfg Config, store *swarm.Store) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultConfig().Batch
	}
	return &Service{cfg: cfg, store: store}
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
	res, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("[PEER-EXPIRY] Sweep failed")
		}
		return
	}
	if res.Purged > 0 {
		log.Info().Int("purged", res.Purged).Msg("[PEER-EXPIRY] Purged expired peers")
	}
}

// RunOnce deletes peers unseen for longer than the timeout, in bounded
// batches.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	purged, err := s.store.PurgeExpired(ctx, time.Now().Add(-s.cfg.Timeout), s.cfg.Batch)
	return Result{Purged: purged}, err
}
