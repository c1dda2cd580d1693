/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster_test

import (
	"github.com/aistore-polipo/coalescecache/atom"
	"github.com/aistore-polipo/coalescecache/cluster"
)

func newRealAtoms() *atom.Table { return atom.NewTable() }

// fakeDisk records calls instead of touching the filesystem, the way the
// teacher's xaction tests stub fs collaborators.
type fakeDisk struct {
	writeouts    int
	revalidates  int
	dirtied      int
	destroyed    int
	getFromDisk  int
	failGet      bool
}

func (d *fakeDisk) WriteoutToDisk(o *cluster.Object, upto int64, budget int64) (int64, error) {
	d.writeouts++
	return 0, nil
}
func (d *fakeDisk) RevalidateDiskEntry(o *cluster.Object) error { d.revalidates++; return nil }
func (d *fakeDisk) DirtyDiskEntry(o *cluster.Object)            { d.dirtied++ }
func (d *fakeDisk) DestroyDiskEntry(o *cluster.Object, dallying bool) { d.destroyed++ }
func (d *fakeDisk) ObjectGetFromDisk(o *cluster.Object) error {
	d.getFromDisk++
	if d.failGet {
		return errFakeGet
	}
	return nil
}

var errFakeGet = fakeErr("fake disk get failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// fakeClock is a fixed, advanceable clock.
type fakeClock struct{ now int64 }

func (c *fakeClock) Now() int64 { return c.now }

// fakeScheduler records scheduled callbacks without ever firing them,
// so tests control exactly when deferred eviction runs.
type fakeScheduler struct {
	scheduled []func()
	workToDo  bool
}

type fakeEvent struct{ cancelled *bool }

func (e fakeEvent) Cancel() { *e.cancelled = true }

func (s *fakeScheduler) ScheduleTimeEvent(delaySeconds int, cb func(), data interface{}) cluster.Event {
	s.scheduled = append(s.scheduled, cb)
	cancelled := false
	return fakeEvent{cancelled: &cancelled}
}

func (s *fakeScheduler) WorkToDo() bool { return s.workToDo }

// fakePool is a tiny non-reuse-pooling allocator, sufficient for chunk
// split/lock tests without pulling in memsys's watermark machinery.
type fakePool struct {
	chunkSize int64
	acquired  int
	exhausted bool
}

func (p *fakePool) ChunkSize() int64 { return p.chunkSize }
func (p *fakePool) Acquire() []byte {
	if p.exhausted {
		return nil
	}
	p.acquired++
	return make([]byte, p.chunkSize)
}
func (p *fakePool) Release(buf []byte) { p.acquired-- }
