// Copyright 2024 The DIRBS Core Authors
// This file is part of DIRBS Core.
//
// DIRBS Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// DIRBS Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with DIRBS Core. If not, see <http://www.gnu.org/licenses/>.

// Package metrics exposes the job-duration and per-stat timing
// instruments the stats engine records. One registry per process, with
// explicit constructors for anything registered more than once.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a prometheus.Registry with the instruments DIRBS jobs use.
type Registry struct {
	reg *prometheus.Registry

	JobDuration   *prometheus.HistogramVec
	StatDuration  *prometheus.HistogramVec
	WorkerPoolBusy *prometheus.GaugeVec
	ShardDuration *prometheus.HistogramVec
}

// NewRegistry builds a fresh, independent registry — tests can each create
// their own without colliding on prometheus's global default registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dirbs",
			Name:      "job_duration_seconds",
			Help:      "Duration of a completed job run, by command and status.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16),
		}, []string{"command", "subcommand", "status"}),
		StatDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dirbs",
			Name:      "stat_duration_seconds",
			Help:      "Duration of one stats-aggregator future, by stat name.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"stat"}),
		WorkerPoolBusy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dirbs",
			Name:      "worker_pool_busy",
			Help:      "Number of worker-pool slots currently in use, by pool name.",
		}, []string{"pool"}),
		ShardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dirbs",
			Name:      "shard_eval_duration_seconds",
			Help:      "Duration of one dimension evaluation for one shard.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"dimension"}),
	}
	reg.MustRegister(r.JobDuration, r.StatDuration, r.WorkerPoolBusy, r.ShardDuration)
	return r
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler,
// wired up by the (external, non-goal) API surface.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveStat records how long a named stats-aggregator future took.
func (r *Registry) ObserveStat(stat string, d time.Duration) {
	r.StatDuration.WithLabelValues(stat).Observe(d.Seconds())
}

// ObserveJob records a finished job's duration.
func (r *Registry) ObserveJob(command, subcommand, status string, d time.Duration) {
	r.JobDuration.WithLabelValues(command, subcommand, status).Observe(d.Seconds())
}
