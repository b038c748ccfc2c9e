// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/swarm"
)

// IndexerCollector reads catalog totals from SQL and live swarm counts from
// the aggregator snapshot at scrape time. A swarm outage zeroes the swarm
// gauges; the SQL gauges still report.
type IndexerCollector struct {
	torrents   *models.TorrentStore
	users      *models.UserStore
	aggregator *swarm.Aggregator

	torrentsTotalDesc    *prometheus.Desc
	grabsTotalDesc       *prometheus.Desc
	usersTotalDesc       *prometheus.Desc
	peersDesc            *prometheus.Desc
	seedingTorrentsDesc  *prometheus.Desc
	leechingTorrentsDesc *prometheus.Desc
}

func NewIndexerCollector(torrents *models.TorrentStore, users *models.UserStore, aggregator *swarm.Aggregator) *IndexerCollector {
	return &IndexerCollector{
		torrents:   torrents,
		users:      users,
		aggregator: aggregator,

		torrentsTotalDesc: prometheus.NewDesc(
			"brrdex_torrents_total",
			"Number of catalog torrents by category",
			[]string{"category", "category_name"},
			nil,
		),
		grabsTotalDesc: prometheus.NewDesc(
			"brrdex_grabs_total",
			"Summed grab counter across the catalog",
			nil,
			nil,
		),
		usersTotalDesc: prometheus.NewDesc(
			"brrdex_users_total",
			"Number of registered users",
			nil,
			nil,
		),
		peersDesc: prometheus.NewDesc(
			"brrdex_swarm_peers",
			"Live peers in the swarm store",
			nil,
			nil,
		),
		seedingTorrentsDesc: prometheus.NewDesc(
			"brrdex_swarm_seeding_torrents",
			"Torrents with at least one seeder",
			nil,
			nil,
		),
		leechingTorrentsDesc: prometheus.NewDesc(
			"brrdex_swarm_leeching_torrents",
			"Torrents with at least one leecher",
			nil,
			nil,
		),
	}
}

func (c *IndexerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.torrentsTotalDesc
	ch <- c.grabsTotalDesc
	ch <- c.usersTotalDesc
	ch <- c.peersDesc
	ch <- c.seedingTorrentsDesc
	ch <- c.leechingTorrentsDesc
}

func (c *IndexerCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	byCategory, err := c.torrents.CountByCategory(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect torrent category counts")
	} else {
		for _, cat := range models.Categories {
			ch <- prometheus.MustNewConstMetric(
				c.torrentsTotalDesc,
				prometheus.GaugeValue,
				float64(byCategory[cat.ID]),
				strconv.Itoa(cat.ID), cat.Name,
			)
		}
	}

	if _, grabs, err := c.torrents.Totals(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to collect torrent totals")
	} else {
		ch <- prometheus.MustNewConstMetric(c.grabsTotalDesc, prometheus.CounterValue, float64(grabs))
	}

	if users, err := c.users.Count(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to collect user count")
	} else {
		ch <- prometheus.MustNewConstMetric(c.usersTotalDesc, prometheus.GaugeValue, float64(users))
	}

	snap, err := c.aggregator.Snapshot(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Swarm snapshot unavailable, reporting zero swarm gauges")
	}
	ch <- prometheus.MustNewConstMetric(c.peersDesc, prometheus.GaugeValue, float64(snap.TotalPeers))
	ch <- prometheus.MustNewConstMetric(c.seedingTorrentsDesc, prometheus.GaugeValue, float64(snap.SeedingTorrents()))
	ch <- prometheus.MustNewConstMetric(c.leechingTorrentsDesc, prometheus.GaugeValue, float64(snap.LeechingTorrents()))
}
