/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package xaction_test

import (
	"context"
	"testing"

	"github.com/aistore-polipo/coalescecache/cluster"
	"github.com/aistore-polipo/coalescecache/cmn"
	"github.com/aistore-polipo/coalescecache/memsys"
	"github.com/aistore-polipo/coalescecache/xaction"
)

// fakeDisk records write-out/destroy calls instead of touching a
// filesystem, the way the cluster package's own tests stub cluster.Disk.
type fakeDisk struct {
	writeouts  int
	destroyed  int
	failWrites bool
}

func (d *fakeDisk) WriteoutToDisk(o *cluster.Object, upto int64, budget int64) (int64, error) {
	d.writeouts++
	if d.failWrites {
		return 0, errBoom
	}
	return upto, nil
}
func (d *fakeDisk) DestroyDiskEntry(o *cluster.Object, dallying bool) { d.destroyed++ }
func (d *fakeDisk) RevalidateDiskEntry(o *cluster.Object) error      { return nil }
func (d *fakeDisk) DirtyDiskEntry(o *cluster.Object)                 {}
func (d *fakeDisk) ObjectGetFromDisk(o *cluster.Object) error        { return nil }

type boomErr string

func (e boomErr) Error() string { return string(e) }

const errBoom = boomErr("fake write-out failure")

type fakeScheduler struct{ workToDo bool }

func (s *fakeScheduler) ScheduleTimeEvent(delaySeconds int, cb func(), data interface{}) cluster.Event {
	return nil
}
func (s *fakeScheduler) WorkToDo() bool { return s.workToDo }

type fakeClock struct{ now int64 }

func (c *fakeClock) Now() int64 { return c.now }

func newHarness(t *testing.T, chunkSize, low, high, critical int64) (*cluster.Store, *xaction.Engine, *fakeDisk, *memsys.Pool) {
	t.Helper()
	pool := memsys.NewPool(chunkSize, low, high, critical)
	disk := &fakeDisk{}
	sched := &fakeScheduler{}
	cfg := cmn.DefaultConfig()
	cfg.Object.HighMark = 1000
	cfg.Object.PublicLowMark = 500
	store := cluster.NewStore(cfg, pool, nil, &fakeClock{now: 1000}, sched, disk)
	engine := xaction.NewEngine(store, disk, pool, sched, cfg)
	store.SetEvictor(engine)
	return store, engine, disk, pool
}

func TestShedTailChunksWritesAndFreesFullLeadingChunks(t *testing.T) {
	// chunkLowMark/4 == 1, so any object with >1 chunk is a shedding
	// candidate; two full 8-byte chunks plus a partial third.
	store, engine, disk, pool := newHarness(t, 8, 4, 100, 200)

	o := store.Make(cmn.TypeHTTP, []byte("http://x/1"), true, false, nil, nil)
	if err := o.AddData(pool, make([]byte, 20), 0); err != nil {
		t.Fatalf("AddData: %v", err)
	}

	freed := engine.DiscardObjects(false, false)
	if freed == 0 {
		t.Fatal("expected DiscardObjects to free at least one chunk")
	}
	if disk.writeouts == 0 {
		t.Fatal("expected a write-out before disposing a full chunk")
	}
	if !o.IsPublic() {
		t.Fatal("tail-chunk shedding must not privatise the object")
	}

	o.Release()
}

func TestShedTailChunksSkipsLockedChunks(t *testing.T) {
	store, engine, disk, pool := newHarness(t, 8, 4, 100, 200)

	o := store.Make(cmn.TypeHTTP, []byte("http://x/2"), true, false, nil, nil)
	if err := o.AddData(pool, make([]byte, 24), 0); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	o.LockChunk(pool, 0)

	engine.DiscardObjects(false, false)
	if !o.ChunkLocked(0) {
		t.Fatal("lock accounting should be untouched by eviction")
	}
	if o.ChunkBuf(0) == nil {
		t.Fatal("a locked chunk's buffer must survive shedding")
	}

	o.UnlockChunk(0)
	_ = disk
	o.Release()
}

func TestPrivatiseIdleLeavesRetainedObjectsPublic(t *testing.T) {
	// Make leaves the caller holding its own ref on top of the store's I7
	// ownership ref, so Refcount()==2 here; privatiseIdle (refcount==1
	// only) must not touch an object while an external holder remains.
	store, engine, _, _ := newHarness(t, 8, 4, 100, 200)

	o := store.Make(cmn.TypeHTTP, []byte("http://x/3"), true, false, nil, nil)
	engine.DiscardObjects(false, false)
	if !o.IsPublic() {
		t.Fatal("an object with an outstanding external ref must stay public")
	}
	o.Release()
}

func TestPrivatiseIdleReclaimsObjectsWithNoExternalHolders(t *testing.T) {
	// Once the caller releases its own holder, only the store's I7 ref
	// remains (Refcount()==1): privatiseIdle must now reclaim it, and a
	// subsequent Make at the object high-water mark must then succeed.
	pool := memsys.NewPool(8, 4, 100, 200)
	disk := &fakeDisk{}
	sched := &fakeScheduler{}
	cfg := cmn.DefaultConfig()
	cfg.Object.HighMark = 1
	cfg.Object.PublicLowMark = 1
	store := cluster.NewStore(cfg, pool, nil, &fakeClock{now: 1000}, sched, disk)
	engine := xaction.NewEngine(store, disk, pool, sched, cfg)
	store.SetEvictor(engine)

	o := store.Make(cmn.TypeHTTP, []byte("http://x/idle-1"), true, false, nil, nil)
	if o == nil {
		t.Fatal("expected Make to succeed below the high-water mark")
	}
	o.Release() // drop the caller's own holder; only the I7 ref remains

	freed := engine.DiscardObjects(false, false)
	if freed == 0 {
		t.Fatal("expected privatiseIdle to reclaim the idle object")
	}
	if o.IsPublic() {
		t.Fatal("expected the idle object to be privatised once no external holder remains")
	}
	if disk.destroyed == 0 && disk.writeouts == 0 {
		t.Fatal("expected privatiseIdle to write the object out before privatising it")
	}

	second := store.Make(cmn.TypeHTTP, []byte("http://x/idle-2"), true, false, nil, nil)
	if second == nil {
		t.Fatal("expected Make to succeed at the cap once eviction freed the slot held by the idle object")
	}
	second.Release()
}

func TestPunchHolesRunsWhenForced(t *testing.T) {
	store, engine, disk, pool := newHarness(t, 8, 4, 100, 6)

	o := store.Make(cmn.TypeHTTP, []byte("http://x/4"), true, false, nil, nil)
	if err := o.AddData(pool, make([]byte, 16), 0); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	// Locking chunk 0 stops tail-chunk shedding at the first chunk, so the
	// write-out of chunk 1 can only come from punchHoles.
	o.LockChunk(pool, 0)

	before := disk.writeouts
	engine.DiscardObjects(true, true) // force: always runs pass 3
	if disk.writeouts <= before {
		t.Fatal("expected punchHoles to write out at least one chunk when forced")
	}

	o.UnlockChunk(0)
	o.Release()
}

func TestWriteoutObjectsWritesOutPublicObjects(t *testing.T) {
	store, engine, disk, pool := newHarness(t, 8, 4, 100, 200)

	objs := make([]*cluster.Object, 0, 5)
	for i := 0; i < 5; i++ {
		o := store.Make(cmn.TypeHTTP, []byte{byte('a' + i)}, true, false, nil, nil)
		if err := o.AddData(pool, []byte{1, 2, 3}, 0); err != nil {
			t.Fatalf("AddData: %v", err)
		}
		objs = append(objs, o)
	}

	if err := engine.WriteoutObjects(context.Background(), false); err != nil {
		t.Fatalf("WriteoutObjects: %v", err)
	}
	if disk.writeouts == 0 {
		t.Fatal("expected at least one write-out call")
	}

	for _, o := range objs {
		o.Release()
	}
}

func TestWriteoutObjectsStopsWhenSchedulerHasWork(t *testing.T) {
	pool := memsys.NewPool(8, 4, 100, 200)
	disk := &fakeDisk{}
	sched := &fakeScheduler{workToDo: true}
	cfg := cmn.DefaultConfig()
	store := cluster.NewStore(cfg, pool, nil, &fakeClock{now: 1}, sched, disk)
	engine := xaction.NewEngine(store, disk, pool, sched, cfg)
	store.SetEvictor(engine)

	o := store.Make(cmn.TypeHTTP, []byte("http://x/5"), true, false, nil, nil)
	if err := engine.WriteoutObjects(context.Background(), true); err != nil {
		t.Fatalf("WriteoutObjects: %v", err)
	}
	if disk.writeouts != 0 {
		t.Fatal("expected no write-outs once the scheduler reports pending work")
	}
	o.Release()
}
