// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var writeRetriesTotal atomic.Uint64

func recordWriteRetry() {
	writeRetriesTotal.Add(1)
}

type MetricsCollector struct {
	writeRetriesDesc *prometheus.Desc
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		writeRetriesDesc: prometheus.NewDesc(
			"brrdex_db_write_retries_total",
			"Number of database operations retried after a transient SQLITE_BUSY/SQLITE_LOCKED conflict",
			nil,
			nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.writeRetriesDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		c.writeRetriesDesc,
		prometheus.CounterValue,
		float64(writeRetriesTotal.Load()),
	)
}
