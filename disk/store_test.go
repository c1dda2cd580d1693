/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package disk_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aistore-polipo/coalescecache/cluster"
	"github.com/aistore-polipo/coalescecache/cmn"
	"github.com/aistore-polipo/coalescecache/disk"
	"github.com/aistore-polipo/coalescecache/memsys"
)

type fakeClock struct{ now int64 }

func (c *fakeClock) Now() int64 { return c.now }

func newTestObject(t *testing.T, d *disk.Store, pool *memsys.Pool, key string) (*cluster.Store, *cluster.Object) {
	t.Helper()
	cfg := cmn.DefaultConfig()
	cfg.Object.HighMark = 100
	cfg.Object.PublicLowMark = 50
	store := cluster.NewStore(cfg, pool, nil, &fakeClock{now: 1000}, nil, d)
	o := store.Make(cmn.TypeHTTP, []byte(key), true, false, nil, nil)
	return store, o
}

func TestWriteoutToDiskCreatesContentAndMetaFiles(t *testing.T) {
	dir := t.TempDir()
	pool := memsys.NewPool(8, 4, 100, 200)
	d := disk.NewStore(dir, 8)

	_, o := newTestObject(t, d, pool, "http://example.com/a")
	if err := o.AddData(pool, []byte("hello world 12345678"), 0); err != nil {
		t.Fatalf("AddData: %v", err)
	}

	n, err := d.WriteoutToDisk(o, o.Size(), -1)
	if err != nil {
		t.Fatalf("WriteoutToDisk: %v", err)
	}
	if n != o.Size() {
		t.Fatalf("expected to write %d bytes, wrote %d", o.Size(), n)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*", "*", "*.meta"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one sharded .meta file, found %d", len(matches))
	}

	o.Release()
}

func TestObjectGetFromDiskRoundTripsMetadata(t *testing.T) {
	dir := t.TempDir()
	pool := memsys.NewPool(8, 4, 100, 200)
	d := disk.NewStore(dir, 8)

	_, first := newTestObject(t, d, pool, "http://example.com/b")
	if err := first.AddData(pool, []byte("12345678"), 0); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	first.SetFlag(cmn.FlagDiskEntryComplete)
	if _, err := d.WriteoutToDisk(first, first.Size(), -1); err != nil {
		t.Fatalf("WriteoutToDisk: %v", err)
	}
	etagWant := first.ETag
	first.Release()

	_, second := newTestObject(t, d, pool, "http://example.com/b")
	if err := d.ObjectGetFromDisk(second); err != nil {
		t.Fatalf("ObjectGetFromDisk: %v", err)
	}
	if second.ETag != etagWant {
		t.Fatalf("expected etag %q, got %q", etagWant, second.ETag)
	}
	if !second.HasFlag(cmn.FlagDiskEntryComplete) {
		t.Fatal("expected DISK_ENTRY_COMPLETE to round-trip")
	}
	second.Release()
}

func TestDestroyDiskEntryDallyingLeavesFilesForSweep(t *testing.T) {
	dir := t.TempDir()
	pool := memsys.NewPool(8, 4, 100, 200)
	d := disk.NewStore(dir, 8)

	_, o := newTestObject(t, d, pool, "http://example.com/c")
	if err := o.AddData(pool, []byte("12345678"), 0); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if _, err := d.WriteoutToDisk(o, o.Size(), -1); err != nil {
		t.Fatalf("WriteoutToDisk: %v", err)
	}

	d.DestroyDiskEntry(o, true /* dallying */)
	matches, _ := filepath.Glob(filepath.Join(dir, "*", "*", "*"))
	if len(matches) == 0 {
		t.Fatal("a dallying destroy must leave the files for Sweep, not remove them immediately")
	}

	if err := d.Sweep(func(typ uint8, key []byte) bool { return false }); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	o.Release()
}

func TestSweepRemovesOrphanedContentWithoutMeta(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "ab", "cd")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	orphan := filepath.Join(sub, "orphan")
	if err := os.WriteFile(orphan, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := disk.NewStore(dir, 8)
	if err := d.Sweep(func(typ uint8, key []byte) bool { return false }); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("expected orphaned content file without a .meta sidecar to be removed")
	}
}
