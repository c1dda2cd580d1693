// Package xaction implements the Eviction Engine (spec.md §4.F): the
// background reclamation pass that keeps the Object Store under its
// configured object and chunk watermarks. Grounded on the teacher's
// xaction/xrun/bucket.go life cycle (Run/Stop, idempotent re-entry guard)
// and cluster/lom_cache_hk.go's hk.Reg-scheduled, atime-ordered eviction
// loop, generalized from per-LOM atime eviction to the three-pass
// tail-chunk/privatise/hole-punch reclamation object.c's
// discardObjectsHandler performs.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package xaction

import (
	"go.uber.org/atomic"

	"github.com/aistore-polipo/coalescecache/cluster"
	"github.com/aistore-polipo/coalescecache/cmn"
	"github.com/aistore-polipo/coalescecache/cmn/debug"
)

// Store is the subset of *cluster.Store the Eviction Engine depends on,
// named so tests can inject a fake rather than build a real Pool/Disk.
type Store interface {
	PublicObjectCount() int
	PrivateObjectCount() int
	LRUTail() *cluster.Object
	LRUPrev(*cluster.Object) *cluster.Object
	ChunkLowMark() int64
	ChunkCriticalMark() int64
	UsedChunks() int64
	Privatise(*cluster.Object)
	PrivatiseLinear(*cluster.Object)
}

// Disk is the write-out collaborator, a narrowed view of cluster.Disk.
type Disk interface {
	WriteoutToDisk(o *cluster.Object, upto int64, budget int64) (int64, error)
	DestroyDiskEntry(o *cluster.Object, dallying bool)
}

// Pool is the narrowed view of cluster.Pool the engine needs for chunk
// offset arithmetic.
type Pool interface {
	ChunkSize() int64
}

// Engine runs the reclamation passes of spec.md §4.F. It holds the
// re-entry guard (running) as an atomic flag; the objectExpiryScheduled
// rate limit lives in cluster.Store. The flag is atomic since the
// deferred time-event callback and a
// synchronous call from Store.Make may otherwise race were this ever
// driven from more than one goroutine.
type Engine struct {
	store     Store
	disk      Disk
	pool      Pool
	scheduler cluster.Scheduler
	cfg       *cmn.Config

	running atomic.Bool
}

func NewEngine(store Store, disk Disk, pool Pool, scheduler cluster.Scheduler, cfg *cmn.Config) *Engine {
	return &Engine{store: store, disk: disk, pool: pool, scheduler: scheduler, cfg: cfg}
}

var _ cluster.Evictor = (*Engine)(nil)

// DiscardObjects runs one reclamation pass (spec.md §4.F): tail-chunk
// shedding, object privatisation, then hole-punching if still over
// budget or forced. If any threshold remains breached afterward, a
// 2-second time event is scheduled for the next pass. A call made while
// a pass is already running returns 0 at once (the running flag).
func (e *Engine) DiscardObjects(all, force bool) int {
	if !e.running.CAS(false, true) {
		return 0
	}
	defer e.running.Store(false)

	freed := 0
	freed += e.shedTailChunks(all, force)
	freed += e.privatiseIdle(all, force)
	if force || all || e.store.UsedChunks() > e.store.ChunkCriticalMark() {
		freed += e.punchHoles(all, force)
	}

	if e.stillOverBudget() && e.scheduler != nil {
		e.scheduler.ScheduleTimeEvent(2, func() { e.DiscardObjects(false, false) }, nil)
	}
	return freed
}

func (e *Engine) stillOverBudget() bool {
	return e.store.PublicObjectCount()+e.store.PrivateObjectCount() >= e.cfg.Object.HighMark ||
		e.store.UsedChunks() > e.store.ChunkCriticalMark()
}

// shedTailChunks is pass 1: for each PUBLIC object with more chunks than
// chunkLowMark/4, write contiguous full chunks from the front to disk
// and release their buffers, skipping locked chunks.
func (e *Engine) shedTailChunks(all, force bool) int {
	threshold := e.store.ChunkLowMark() / 4
	freed := 0
	o := e.store.LRUTail()
	for o != nil {
		prev := e.store.LRUPrev(o)
		if o.IsPublic() && int64(o.NumChunks()) > threshold {
			freed += e.shedObjectTail(o)
		}
		o = prev
	}
	return freed
}

func (e *Engine) shedObjectTail(o *cluster.Object) int {
	freed := 0
	n := o.NumChunks()
	for i := 0; i < n; i++ {
		if o.ChunkIsHole(i) {
			break
		}
		if o.ChunkLocked(i) {
			break
		}
		if o.ChunkLength(i) < int(e.pool.ChunkSize()) {
			break // not a full chunk: leave for the next pass
		}
		upto := e.pool.ChunkSize() * int64(i+1)
		if _, err := e.disk.WriteoutToDisk(o, upto, -1); err != nil {
			debug.Infof("shedObjectTail: object 0x%p write-out: %v", o, err)
			break
		}
		if o.DisposeChunkIfUnlocked(i) {
			freed++
		}
	}
	return freed
}

// privatiseIdle is pass 2: for objects with no external holders, write
// remaining bytes to disk and privatise. For all or force, additionally
// destroy the disk entry rather than leave it for a later access.
//
// A PUBLIC object always carries the Store's own publication ref
// (invariant I7, cluster/store.go's Make/Privatise), so "idle" here
// means refcount==1 (only that ref remains), not refcount==0.
func (e *Engine) privatiseIdle(all, force bool) int {
	freed := 0
	o := e.store.LRUTail()
	for o != nil {
		prev := e.store.LRUPrev(o)
		if o.IsPublic() && o.Refcount() == 1 {
			if _, err := e.disk.WriteoutToDisk(o, o.Size(), -1); err != nil {
				debug.Infof("privatiseIdle: object 0x%p write-out: %v", o, err)
			}
			if all || force {
				e.disk.DestroyDiskEntry(o, false)
			}
			e.store.Privatise(o)
			freed++
		}
		o = prev
	}
	return freed
}

// punchHoles is pass 3, entered only when used_chunks exceeds
// chunkCriticalMark or eviction is forced: from the LRU tail, walk each
// PUBLIC object's chunks in reverse, writing then disposing unlocked
// full chunks, leaving holes that are filled lazily from disk.
func (e *Engine) punchHoles(all, force bool) int {
	freed := 0
	o := e.store.LRUTail()
	for o != nil {
		prev := e.store.LRUPrev(o)
		if o.IsPublic() {
			freed += e.punchObjectHoles(o)
		}
		if !force && !all && e.store.UsedChunks() <= e.store.ChunkCriticalMark() {
			break
		}
		o = prev
	}
	return freed
}

func (e *Engine) punchObjectHoles(o *cluster.Object) int {
	freed := 0
	for i := o.NumChunks() - 1; i >= 0; i-- {
		if o.ChunkIsHole(i) || o.ChunkLocked(i) {
			continue
		}
		if o.ChunkLength(i) < int(e.pool.ChunkSize()) {
			continue
		}
		upto := e.pool.ChunkSize() * int64(i+1)
		if _, err := e.disk.WriteoutToDisk(o, upto, -1); err != nil {
			debug.Infof("punchObjectHoles: object 0x%p write-out: %v", o, err)
			continue
		}
		if o.DisposeChunkIfUnlocked(i) {
			freed++
		}
	}
	return freed
}
