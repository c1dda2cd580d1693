/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"github.com/OneOfOne/xxhash"
	"github.com/golang/glog"

	"github.com/aistore-polipo/coalescecache/cmn"
	"github.com/aistore-polipo/coalescecache/cmn/debug"
)

// Store is the hash-indexed, LRU-ordered directory of cached objects
// (spec.md §4.C). It is single-threaded (spec.md §5): all mutations go
// through Find/Make/Privatise, called from one goroutine.
//
// The hash table uses the source's documented per-bucket single-occupant
// policy (spec.md §4.C): inserting into an occupied bucket flushes and
// privatises the prior occupant. This preserves the insertion invariant
// ("after Make(public,type,key) returns, the bucket holds the new object
// and the LRU list has it at the head") without the complexity of bounded
// chaining.
type Store struct {
	cfg     *cmn.Config
	buckets []*Object

	head *Object // LRU head == most recently used
	tail *Object // LRU tail == least recently used

	publicObjectCount  int
	privateObjectCount int

	expiryScheduled bool
	expiryEvent     Event

	pool      Pool
	atoms     Atoms
	clock     Clock
	scheduler Scheduler
	disk      Disk
	evictor   Evictor
}

// NewStore builds a Store sized from cfg.Object.HashTableSizeOrAuto
// (spec.md §6 "objectHashTableSize").
func NewStore(cfg *cmn.Config, pool Pool, atoms Atoms, clock Clock, scheduler Scheduler, disk Disk) *Store {
	size := cfg.Object.HashTableSizeOrAuto()
	return &Store{
		cfg:       cfg,
		buckets:   make([]*Object, size),
		pool:      pool,
		atoms:     atoms,
		clock:     clock,
		scheduler: scheduler,
		disk:      disk,
	}
}

// SetEvictor wires the Eviction Engine after construction, avoiding an
// import cycle (xaction imports cluster, not the reverse).
func (s *Store) SetEvictor(e Evictor) { s.evictor = e }

func (s *Store) PublicObjectCount() int  { return s.publicObjectCount }
func (s *Store) PrivateObjectCount() int { return s.privateObjectCount }

// LRUHead/LRUNext/LRUTail/LRUPrev let the Eviction Engine walk the list
// in either direction (head = MRU, tail = LRU/oldest).
func (s *Store) LRUHead() *Object          { return s.head }
func (s *Store) LRUNext(o *Object) *Object { return o.next }
func (s *Store) LRUTail() *Object          { return s.tail }
func (s *Store) LRUPrev(o *Object) *Object { return o.prev }

// ChunkLowMark/ChunkCriticalMark/UsedChunks expose the Chunk Pool
// watermarks the Eviction Engine compares against (spec.md §4.F).
func (s *Store) ChunkLowMark() int64 {
	if p, ok := s.pool.(interface{ LowMark() int64 }); ok {
		return p.LowMark()
	}
	return 0
}

func (s *Store) ChunkCriticalMark() int64 {
	if p, ok := s.pool.(interface{ CriticalMark() int64 }); ok {
		return p.CriticalMark()
	}
	return 0
}

func (s *Store) UsedChunks() int64 {
	if p, ok := s.pool.(interface{ UsedChunks() int64 }); ok {
		return p.UsedChunks()
	}
	return 0
}

func (s *Store) bucketIndex(typ uint8, key []byte) int {
	h := xxhash.Checksum64(key)
	h = h*1000003 ^ uint64(typ)
	return int(h & uint64(len(s.buckets)-1))
}

// Find looks up by (type, key) (spec.md §4.C "find"). On hit, moves the
// object to the LRU head and returns it with an incremented refcount.
func (s *Store) Find(typ uint8, key []byte) *Object {
	idx := s.bucketIndex(typ, key)
	o := s.buckets[idx]
	if o == nil || !o.keyEquals(typ, key) {
		return nil
	}
	s.moveToHead(o)
	return o.Retain()
}

// Make returns the existing object if one is public-cached; otherwise
// creates, links if public, and optionally schedules a disk load
// (spec.md §4.C "make").
func (s *Store) Make(typ uint8, key []byte, public, fromDisk bool, request RequestFunc, closure interface{}) *Object {
	debug.Assertf(len(key) <= s.cfg.Object.MaxKeySize, "key_size %d exceeds max_key_size %d", len(key), s.cfg.Object.MaxKeySize)

	if found := s.Find(typ, key); found != nil {
		if public {
			return found
		}
		s.Privatise(found)
		found.Release() // we are not returning this reference
	}

	if s.publicObjectCount+s.privateObjectCount >= s.cfg.Object.HighMark {
		if !s.expiryScheduled && s.evictor != nil {
			s.evictor.DiscardObjects(false, false)
		}
		if s.publicObjectCount+s.privateObjectCount >= s.cfg.Object.HighMark {
			return nil
		}
	}

	if s.publicObjectCount >= s.cfg.Object.PublicLowMark && !s.expiryScheduled && s.scheduler != nil {
		s.expiryEvent = s.scheduler.ScheduleTimeEvent(0, func() {
			s.expiryScheduled = false
			if s.evictor != nil {
				s.evictor.DiscardObjects(false, false)
			}
		}, nil)
		if s.expiryEvent != nil {
			s.expiryScheduled = true
		} else {
			glog.Errorf("couldn't schedule object expiry")
		}
	}

	o := &Object{
		Type:         typ,
		Key:          append([]byte(nil), key...),
		flags:        cmn.FlagInitial,
		Length:       -1,
		date:         -1,
		age:          -1,
		expires:      -1,
		lastModified: -1,
		ATime:        -1,
		sMaxAge:      -1,
		maxAge:       -1,
		MinFresh:     -1,
		MaxStale:     -1,
		request:        request,
		requestClosure: closure,
		store:          s,
	}

	if public {
		o.setFlag(cmn.FlagPublic)
		idx := s.bucketIndex(typ, key)
		if prev := s.buckets[idx]; prev != nil {
			if s.disk != nil {
				if _, err := s.disk.WriteoutToDisk(prev, prev.size, -1); err != nil {
					glog.Warningf("collision write-out for object 0x%p: %v", prev, err)
				}
			}
			s.Privatise(prev)
			debug.Assert(s.buckets[idx] == nil)
		}
		s.buckets[idx] = o
		s.linkHead(o)
		s.publicObjectCount++
		o.refcount = 1 // invariant I7: publication alone keeps the object alive
	} else {
		s.privateObjectCount++
	}

	o.Retain() // the caller's own holder

	if public && fromDisk && s.disk != nil {
		if err := s.disk.ObjectGetFromDisk(o); err != nil {
			glog.Warningf("object 0x%p: get from disk: %v", o, err)
		}
	}
	return o
}

// Privatise unlinks o from its hash bucket and the LRU list, clears
// PUBLIC, destroys its disk entry if present, and frees unlocked chunk
// buffers (spec.md §4.C "privatise"). Idempotent: privatising an already
// private object only applies the optional `linear` marker.
func (s *Store) Privatise(o *Object) { s.privatise(o, false) }

// PrivatiseLinear is Privatise with the linear flag set, marking the
// object single-pass so the Eviction Engine preferentially frees chunks
// behind the read cursor (spec.md §4.C "privatise", optional linear flag).
func (s *Store) PrivatiseLinear(o *Object) { s.privatise(o, true) }

func (s *Store) privatise(o *Object, linear bool) {
	if !o.HasFlag(cmn.FlagPublic) {
		if linear {
			o.linear = true
		}
		return
	}

	if o.DiskEntry != nil && s.disk != nil {
		s.disk.DestroyDiskEntry(o, false)
		o.DiskEntry = nil
	}
	o.clearFlag(cmn.FlagPublic)

	for i := range o.chunks {
		if o.chunks[i].Lock > 0 {
			continue
		}
		if o.chunks[i].Buf != nil {
			o.disposeChunk(i)
		}
	}

	idx := s.bucketIndex(o.Type, o.Key)
	debug.Assert(s.buckets[idx] == o)
	s.buckets[idx] = nil

	s.unlink(o)

	s.publicObjectCount--
	s.privateObjectCount++

	if linear {
		o.linear = true
	}

	o.refcount-- // release the store's own publication ref (invariant I7)
	if o.refcount == 0 {
		o.destroy()
	}
}

func (s *Store) linkHead(o *Object) {
	o.prev = nil
	o.next = s.head
	if s.head != nil {
		s.head.prev = o
	}
	s.head = o
	if s.tail == nil {
		s.tail = o
	}
}

func (s *Store) unlink(o *Object) {
	if o.prev != nil {
		o.prev.next = o.next
	}
	if s.head == o {
		s.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	}
	if s.tail == o {
		s.tail = o.prev
	}
	o.prev, o.next = nil, nil
}

func (s *Store) moveToHead(o *Object) {
	if s.head == o {
		return
	}
	s.unlink(o)
	s.linkHead(o)
}
