// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/database"
	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/swarm"
)

type Manager struct {
	registry         *prometheus.Registry
	indexerCollector *IndexerCollector
}

func NewMetricsManager(torrents *models.TorrentStore, users *models.UserStore, aggregator *swarm.Aggregator) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(database.NewMetricsCollector())

	var indexerCollector *IndexerCollector
	if torrents != nil && users != nil && aggregator != nil {
		indexerCollector = NewIndexerCollector(torrents, users, aggregator)
		registry.MustRegister(indexerCollector)
	}

	log.Info().Msg("Metrics manager initialized with indexer collector")

	return &Manager{
		registry:         registry,
		indexerCollector: indexerCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}
