// Package cluster implements the Object Store (spec.md §4.C) and the
// Object entity (spec.md §4.D): the chunked in-memory representation of a
// cached HTTP response, its hash-indexed/LRU-ordered directory, and the
// waiter-notification protocol that lets suspended request handlers wake
// on progress. Grounded on the teacher's cluster/map.go (hash+lookup
// idiom) and cluster/lom_cache_hk.go (per-object metadata cache with
// atime-driven eviction), generalized to spec.md's full Object lifecycle
// and ported in semantics from original_source/object.c.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import "github.com/aistore-polipo/coalescecache/atom"

// Clock is the collaborator interface named in spec.md §6.
type Clock interface {
	Now() int64 // epoch seconds
}

// Event is the opaque handle returned by Scheduler.ScheduleTimeEvent
// (spec.md §6).
type Event interface {
	Cancel()
}

// Scheduler is the collaborator interface named in spec.md §6.
type Scheduler interface {
	ScheduleTimeEvent(delaySeconds int, cb func(), data interface{}) Event
	WorkToDo() bool
}

// Disk is the on-disk cache collaborator named in spec.md §6.
type Disk interface {
	WriteoutToDisk(o *Object, upto int64, budget int64) (int64, error)
	RevalidateDiskEntry(o *Object) error
	DirtyDiskEntry(o *Object)
	DestroyDiskEntry(o *Object, dallying bool)
	ObjectGetFromDisk(o *Object) error
}

// RequestFunc drives an upstream fetch (spec.md §3 "request", §6
// "fetch.request"). The Store records it on the Object at Make time but
// does not call it; the proxy layer invokes the fetch driver directly.
// The driver calls o.Partial/o.AddData/o.Abort as bytes become available
// and clears INPROGRESS (via o.EndFetch) when done.
type RequestFunc func(o *Object, from, to int64, method string, requestor interface{})

// Pool is the subset of memsys.Pool the cluster package depends on,
// expressed as an interface so object/store tests can inject a fake.
type Pool interface {
	Acquire() []byte
	Release([]byte)
	ChunkSize() int64
}

// Atoms is the subset of atom.Table the cluster package depends on.
type Atoms interface {
	Intern([]byte) *atom.Atom
	InternLower([]byte) *atom.Atom
	Retain(*atom.Atom) *atom.Atom
	Release(*atom.Atom)
}

// Evictor is implemented by the xaction Eviction Engine (spec.md §4.F).
// The Store holds one and invokes it synchronously from Make when
// publicObjectCount+privateObjectCount hits objectHighMark (spec.md
// §4.C), and schedules a deferred call when publicObjectCount crosses
// publicObjectLowMark.
type Evictor interface {
	DiscardObjects(all, force bool) (freed int)
}
