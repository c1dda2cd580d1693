// Package stats exposes the Object Store's and Chunk Pool's counters as
// Prometheus metrics. Naming convention ("<subsystem>.n"/".size"/".ns")
// ported from the teacher's stats/target_stats.go; transport is
// github.com/prometheus/client_golang instead of the teacher's bespoke
// StatsD runner, since this module names no StatsD collaborator.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import "github.com/prometheus/client_golang/prometheus"

// Runner registers and updates the gauges/counters a running proxy
// exposes, grounded on the teacher's Trunner/copyRunner naming style
// (stats/target_stats.go) but flattened to one struct since this module
// has a single collected subsystem, not per-target/per-proxy variants.
type Runner struct {
	ObjectsPublic  prometheus.Gauge
	ObjectsPrivate prometheus.Gauge
	ChunksUsed     prometheus.Gauge
	EvictionRuns   prometheus.Counter
	ObjectsFreed   prometheus.Counter
	FetchRequests  prometheus.Counter
	FetchErrors    prometheus.Counter
	HoleMisses     prometheus.Counter
}

// NewRunner constructs and registers every metric against reg.
func NewRunner(reg prometheus.Registerer) *Runner {
	r := &Runner{
		ObjectsPublic: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coalescecache_object_public_n",
			Help: "Number of objects currently reachable from the hash table.",
		}),
		ObjectsPrivate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coalescecache_object_private_n",
			Help: "Number of objects unlinked from the hash table, pending destruction.",
		}),
		ChunksUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coalescecache_chunk_used_n",
			Help: "Number of chunk buffers currently checked out of the pool.",
		}),
		EvictionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coalescecache_eviction_runs_total",
			Help: "Number of Eviction Engine reclamation passes run.",
		}),
		ObjectsFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coalescecache_eviction_objects_freed_total",
			Help: "Number of objects destroyed across all reclamation passes.",
		}),
		FetchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coalescecache_fetch_requests_total",
			Help: "Number of upstream fetch requests issued.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coalescecache_fetch_errors_total",
			Help: "Number of upstream fetch requests that ended in abort.",
		}),
		HoleMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coalescecache_hole_misses_total",
			Help: "Number of reads that blocked on a hole not yet filled.",
		}),
	}
	reg.MustRegister(
		r.ObjectsPublic, r.ObjectsPrivate, r.ChunksUsed,
		r.EvictionRuns, r.ObjectsFreed, r.FetchRequests, r.FetchErrors, r.HoleMisses,
	)
	return r
}

// Sample pulls current gauge values from the collaborators; called
// periodically by hk (housekeeping), matching the teacher's
// Trunner.housekeep poll loop.
func (r *Runner) Sample(publicCount, privateCount int, usedChunks int64) {
	r.ObjectsPublic.Set(float64(publicCount))
	r.ObjectsPrivate.Set(float64(privateCount))
	r.ChunksUsed.Set(float64(usedChunks))
}
