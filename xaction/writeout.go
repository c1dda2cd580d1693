/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package xaction

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/aistore-polipo/coalescecache/cluster"
)

// idleStore is the LRU-head-to-tail view WriteoutObjects needs; separate
// from Store because the write-out walk never touches refcounts or
// privatisation.
type idleStore interface {
	LRUHead() *cluster.Object
	LRUNext(*cluster.Object) *cluster.Object
}

// WriteoutObjects performs the write-out side of spec.md §4.F without
// eviction: walks the LRU from head, calling WriteoutToDisk in slices of
// maxWriteoutWhenIdle bytes, yielding whenever the scheduler reports
// external work waiting. Independent objects are written out
// concurrently, bounded the way the teacher's disk-sweep joggers
// (fs/mpather/jogger.go) bound their worker count, since these writes
// touch disjoint disk entries and never mutate Store/LRU state.
func (e *Engine) WriteoutObjects(ctx context.Context, all bool) error {
	budget := e.cfg.Object.MaxWriteoutWhenIdle
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	store, ok := e.store.(idleStore)
	if !ok {
		return nil
	}

	written := 0
	for o := store.LRUHead(); o != nil; o = store.LRUNext(o) {
		if e.scheduler != nil && e.scheduler.WorkToDo() {
			break
		}
		if !o.IsPublic() {
			continue
		}
		obj := o
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			_, err := e.disk.WriteoutToDisk(obj, obj.Size(), budget)
			return err
		})
		written++
		if !all && written >= e.cfg.Object.MaxObjectsWhenIdle {
			break
		}
	}

	return g.Wait()
}
