/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aistore-polipo/coalescecache/cluster"
	"github.com/aistore-polipo/coalescecache/cmn"
)

func newTestStore(pool *fakePool, disk *fakeDisk, sched *fakeScheduler) *cluster.Store {
	cfg := cmn.DefaultConfig()
	cfg.Object.HighMark = 100
	cfg.Object.PublicLowMark = 50
	cfg.Object.MaxKeySize = 1000
	clock := &fakeClock{now: 1000}
	return cluster.NewStore(cfg, pool, nil, clock, sched, disk)
}

var _ = Describe("Object", func() {
	var (
		pool  *fakePool
		disk  *fakeDisk
		sched *fakeScheduler
		store *cluster.Store
		obj   *cluster.Object
	)

	BeforeEach(func() {
		pool = &fakePool{chunkSize: 8}
		disk = &fakeDisk{}
		sched = &fakeScheduler{}
		store = newTestStore(pool, disk, sched)
		obj = store.Make(cmn.TypeHTTP, []byte("http://example.com/a"), true, false, nil, nil)
	})

	AfterEach(func() {
		obj.Release()
	})

	It("starts in INITIAL", func() {
		Expect(obj.HasFlag(cmn.FlagInitial)).To(BeTrue())
	})

	It("splits addData across chunk boundaries", func() {
		data := make([]byte, 20) // spans 3 chunks of size 8
		for i := range data {
			data[i] = byte(i)
		}
		Expect(obj.AddData(pool, data, 0)).To(Succeed())
		Expect(obj.Size()).To(Equal(int64(20)))
		Expect(obj.NumChunks()).To(BeNumerically(">=", 3))
	})

	It("clears FAILED on addData to an object of unknown length", func() {
		obj.SetFlag(cmn.FlagFailed)
		Expect(obj.AddData(pool, []byte("12345678"), 0)).To(Succeed())
		Expect(obj.HasFlag(cmn.FlagFailed)).To(BeFalse())
	})

	It("rejects a chunk-middle write that skips an unwritten prefix", func() {
		// write only the first 4 bytes of chunk 0, then try to start a
		// write at offset 6 within the same chunk: offset(6) > size(4).
		Expect(obj.AddData(pool, []byte{1, 2, 3, 4}, 0)).To(Succeed())
		err := obj.AddData(pool, []byte{5, 6}, 6)
		Expect(err).To(HaveOccurred())
	})

	It("reports hole size for an unfilled chunk range", func() {
		// A hole that runs to the end of the chunk array reports -1.
		obj.SetChunks(4, pool.ChunkSize())
		Expect(obj.HoleSize(pool)).To(Equal(int64(-1)))
		Expect(obj.AddData(pool, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0)).To(Succeed())
		Expect(obj.HoleSizeAt(pool, 0)).To(Equal(int64(0)))
		Expect(obj.HoleSizeAt(pool, 8)).To(Equal(int64(-1)))
	})

	It("locks and unlocks chunks, growing the array lazily", func() {
		obj.LockChunk(pool, 2)
		Expect(obj.NumChunks()).To(BeNumerically(">=", 3))
		obj.UnlockChunk(2)
	})

	It("fails to acquire a chunk when the pool is exhausted", func() {
		pool.exhausted = true
		err := obj.AddData(pool, []byte{1, 2, 3}, 0)
		Expect(err).To(MatchError(cmn.ErrChunkPoolExhausted))
	})

	It("aborts with a message and privatises", func() {
		atoms := newRealAtoms()
		obj.Abort(atoms, 502, atoms.Intern([]byte("boom")))
		Expect(obj.HasFlag(cmn.FlagAborted)).To(BeTrue())
		Expect(obj.IsPublic()).To(BeFalse())
		Expect(obj.Code).To(Equal(502))
	})

	It("notifies registered waiters and respects done/not-done", func() {
		var calls int
		h := obj.RegisterHandler(func(status cmn.Status, h *cluster.Handler) bool {
			calls++
			return calls >= 2 // done on the second call
		}, nil)
		_ = h

		obj.Partial(newRealAtoms(), -1, nil) // triggers one notify via clearing INITIAL
		Expect(calls).To(Equal(1))

		obj.EndFetch() // triggers a second notify
		Expect(calls).To(Equal(2))
	})
})
