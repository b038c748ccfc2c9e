// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package clientcheck probes the announce address each client reported at
// check-in and records whether its port accepts TCP connections.
package clientcheck

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/models"
)

// Config controls the probe cadence and the per-connection dial timeout.
type Config struct {
	Interval    time.Duration
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    15 * time.Minute,
		DialTimeout: 5 * time.Second,
	}
}

// Result summarizes one probe pass.
type Result struct {
	Reachable   int
	Unreachable int
	Unknown     int
}

// Service runs the periodic reachability probe.
type Service struct {
	cfg   Config
	users *models.UserStore

	// dial is swapped out in tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func New(cfg Config, users *models.UserStore) *Service {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	return &Service{
		cfg:   cfg,
		users: users,
		dial:  net.DialTimeout,
	}
}

// Start launches the probe loop. The first pass runs immediately.
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
			log.Error().Err(err).Msg("[CLIENT-CHECK] Client reachability check failed")
		}
		return
	}
	log.Info().
		Int("reachable", res.Reachable).
		Int("unreachable", res.Unreachable).
		Int("unknown", res.Unknown).
		Msg("[CLIENT-CHECK] Client reachability check complete")
}

// RunOnce probes every user's last announce address. The stored state is
// only written when it changed, so untouched rows keep their timestamps.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, u := range users {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		status := s.probe(u.LastIP)
		switch status {
		case models.ReachableYes:
			res.Reachable++
		case models.ReachableNo:
			res.Unreachable++
		default:
			res.Unknown++
		}

		if status == u.Reachable {
			continue
		}
		if err := s.users.SetReachable(ctx, u.ID, status); err != nil {
			log.Error().Err(err).
				Int("userID", u.ID).
				Str("label", u.Label).
				Msg("[CLIENT-CHECK] Failed to update reachability")
		}
	}
	return res, nil
}

// probe dials the address a client announced from. Users that never checked
// in, or whose address does not parse, stay unknown rather than unreachable.
func (s *Service) probe(lastIP string) int {
	if lastIP == "" {
		return models.ReachableUnknown
	}
	if _, _, err := net.SplitHostPort(lastIP); err != nil {
		return models.ReachableUnknown
	}

	conn, err := s.dial("tcp", lastIP, s.cfg.DialTimeout)
	if err != nil {
		return models.ReachableNo
	}
	_ = conn.Close()
	return models.ReachableYes
}
