// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Manager owns the Prometheus registry and the instruments the search
// and download pipelines report into.
type Manager struct {
	registry *prometheus.Registry

	searchPasses     *prometheus.CounterVec
	tierLatency      *prometheus.HistogramVec
	candidatesSeen   *prometheus.CounterVec
	submissionsTotal *prometheus.CounterVec
	gamesByStatus    *prometheus.GaugeVec
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	m := &Manager{
		registry: registry,
		searchPasses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamerr_search_passes_total",
				Help: "Search passes by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		tierLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gamerr_tier_fetch_duration_seconds",
				Help:    "Source adapter fetch latency by tier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tier", "adapter"},
		),
		candidatesSeen: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamerr_candidates_total",
				Help: "Release candidates fetched by adapter",
			},
			[]string{"adapter"},
		),
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamerr_submissions_total",
				Help: "Torrent submissions by result",
			},
			[]string{"result"},
		),
		gamesByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gamerr_games",
				Help: "Monitored games by status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.searchPasses,
		m.tierLatency,
		m.candidatesSeen,
		m.submissionsTotal,
		m.gamesByStatus,
	)

	return m
}

// Registry exposes the registry for the HTTP handler.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSearchPass counts one finished pass. Mode is "base" or
// "related"; outcome is "found", "empty", "skipped" or "error".
func (m *Manager) RecordSearchPass(mode, outcome string) {
	if m == nil {
		return
	}
	m.searchPasses.WithLabelValues(mode, outcome).Inc()
}

// RecordTierFetch records one adapter fetch.
func (m *Manager) RecordTierFetch(tier, adapter string, duration time.Duration, candidates int) {
	if m == nil {
		return
	}
	m.tierLatency.WithLabelValues(tier, adapter).Observe(duration.Seconds())
	m.candidatesSeen.WithLabelValues(adapter).Add(float64(candidates))
}

// RecordSubmission counts a torrent submission attempt.
func (m *Manager) RecordSubmission(result string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(result).Inc()
}

// SetGamesByStatus publishes the current status distribution.
func (m *Manager) SetGamesByStatus(counts map[string]int) {
	if m == nil {
		return
	}
	m.gamesByStatus.Reset()
	for status, count := range counts {
		m.gamesByStatus.WithLabelValues(status).Set(float64(count))
	}
}
