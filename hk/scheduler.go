/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"time"

	"github.com/aistore-polipo/coalescecache/cluster"
)

// timerEvent adapts time.Timer to cluster.Event.
type timerEvent struct{ t *time.Timer }

func (e *timerEvent) Cancel() { e.t.Stop() }

// Scheduler implements cluster.Scheduler. One-shot delayed callbacks run
// via time.AfterFunc, matching the teacher's hk.Reg model generalized
// from fixed-interval to single-shot scheduling for the Eviction
// Engine's deferred pass (spec.md §4.F).
type Scheduler struct {
	workToDo func() bool
}

// NewScheduler wraps workToDo, the signal WriteoutObjects yields on
// (spec.md §4.F: "yielding whenever external work becomes available").
// A nil workToDo always reports false.
func NewScheduler(workToDo func() bool) *Scheduler {
	if workToDo == nil {
		workToDo = func() bool { return false }
	}
	return &Scheduler{workToDo: workToDo}
}

func (s *Scheduler) ScheduleTimeEvent(delaySeconds int, cb func(), data interface{}) cluster.Event {
	return &timerEvent{t: time.AfterFunc(time.Duration(delaySeconds)*time.Second, cb)}
}

func (s *Scheduler) WorkToDo() bool { return s.workToDo() }

var _ cluster.Scheduler = (*Scheduler)(nil)
