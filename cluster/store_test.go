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

var _ = Describe("Store", func() {
	var (
		pool  *fakePool
		disk  *fakeDisk
		sched *fakeScheduler
		store *cluster.Store
	)

	BeforeEach(func() {
		pool = &fakePool{chunkSize: 8}
		disk = &fakeDisk{}
		sched = &fakeScheduler{}
		store = newTestStore(pool, disk, sched)
	})

	It("returns the same object from Make then Find for a public key", func() {
		key := []byte("http://example.com/x")
		o1 := store.Make(cmn.TypeHTTP, key, true, false, nil, nil)
		o2 := store.Find(cmn.TypeHTTP, key)
		Expect(o2).To(BeIdenticalTo(o1))
		o1.Release()
		o2.Release()
	})

	It("returns nil from Find on a miss", func() {
		Expect(store.Find(cmn.TypeHTTP, []byte("missing"))).To(BeNil())
	})

	It("tracks publicObjectCount across Make and Privatise", func() {
		o := store.Make(cmn.TypeHTTP, []byte("http://example.com/y"), true, false, nil, nil)
		Expect(store.PublicObjectCount()).To(Equal(1))
		store.Privatise(o)
		Expect(store.PublicObjectCount()).To(Equal(0))
		Expect(store.PrivateObjectCount()).To(Equal(1))
		o.Release()
	})

	It("privatises the prior occupant on a bucket collision", func() {
		// Two different keys landing in the same (tiny) hash table bucket
		// collide; the second Make must evict-and-privatise the first.
		cfg := cmn.DefaultConfig()
		cfg.Object.HighMark = 100
		cfg.Object.PublicLowMark = 50
		cfg.Object.HashTableSize = 1 // force every key into bucket 0
		clock := &fakeClock{now: 1000}
		tinyStore := cluster.NewStore(cfg, pool, nil, clock, sched, disk)

		first := tinyStore.Make(cmn.TypeHTTP, []byte("a"), true, false, nil, nil)
		second := tinyStore.Make(cmn.TypeHTTP, []byte("b"), true, false, nil, nil)

		Expect(first.IsPublic()).To(BeFalse())
		Expect(second.IsPublic()).To(BeTrue())
		Expect(tinyStore.Find(cmn.TypeHTTP, []byte("a"))).To(BeNil())

		first.Release()
		second.Release()
	})

	It("returns nil from Make once at the object high-water mark", func() {
		cfg := cmn.DefaultConfig()
		cfg.Object.HighMark = 1
		cfg.Object.PublicLowMark = 1
		clock := &fakeClock{now: 1000}
		capped := cluster.NewStore(cfg, pool, nil, clock, sched, disk)

		o1 := capped.Make(cmn.TypeHTTP, []byte("first"), true, false, nil, nil)
		Expect(o1).NotTo(BeNil())

		o2 := capped.Make(cmn.TypeHTTP, []byte("second"), true, false, nil, nil)
		Expect(o2).To(BeNil())

		o1.Release()
	})

	It("moves a found object to the LRU head", func() {
		a := store.Make(cmn.TypeHTTP, []byte("a"), true, false, nil, nil)
		b := store.Make(cmn.TypeHTTP, []byte("b"), true, false, nil, nil)
		Expect(store.LRUHead()).To(BeIdenticalTo(b))

		store.Find(cmn.TypeHTTP, []byte("a")).Release()
		Expect(store.LRUHead()).To(BeIdenticalTo(a))

		a.Release()
		b.Release()
	})
})
