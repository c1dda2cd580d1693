// Package hk is a minimal housekeeping scheduler: named, periodic
// callbacks registered once at startup and run on their own interval
// from a single goroutine. Grounded on the teacher's cluster/lom_cache_hk.go
// use of a package-level `hk.Reg("lom-cache.gc", f, interval)` call;
// generalized here into its own package since this module has more than
// one housekeeping consumer (eviction, stats sampling).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

type job struct {
	name     string
	interval time.Duration
	fn       func()
	next     time.Time
}

// Housekeeper runs registered jobs on their own cadence on the goroutine
// that calls Run. Jobs are serialised with one another only; the
// Housekeeper does no synchronisation with other goroutines that touch
// the same Store/Object state.
type Housekeeper struct {
	mu      sync.Mutex
	jobs    []*job
	clock   func() time.Time
	stop    chan struct{}
	stopped bool
}

func New() *Housekeeper {
	return &Housekeeper{clock: time.Now, stop: make(chan struct{})}
}

// Reg registers a named periodic callback, mirroring the teacher's
// `hk.Reg(name, f, interval)` call signature.
func (h *Housekeeper) Reg(name string, fn func(), interval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, &job{name: name, interval: interval, fn: fn, next: h.clock().Add(interval)})
}

// Run drives the scheduler until Stop is called, ticking at the
// finest-grained registered interval (capped at one second).
func (h *Housekeeper) Run() {
	tick := time.Second
	h.mu.Lock()
	for _, j := range h.jobs {
		if j.interval < tick {
			tick = j.interval
		}
	}
	h.mu.Unlock()

	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-h.stop:
			return
		case now := <-t.C:
			h.runDue(now)
		}
	}
}

func (h *Housekeeper) runDue(now time.Time) {
	h.mu.Lock()
	due := make([]*job, 0, len(h.jobs))
	for _, j := range h.jobs {
		if !now.Before(j.next) {
			due = append(due, j)
			j.next = now.Add(j.interval)
		}
	}
	h.mu.Unlock()

	for _, j := range due {
		if glog.V(4) {
			glog.Infof("hk: running %s", j.name)
		}
		j.fn()
	}
}

// Stop ends the Run loop. Idempotent.
func (h *Housekeeper) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stop)
}
