/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"github.com/aistore-polipo/coalescecache/cmn"
	"github.com/aistore-polipo/coalescecache/cmn/debug"
)

// Callback is invoked by notifyObject. It returns true ("done") when the
// waiter is satisfied and should be unregistered, false ("not-done") to
// remain registered for the next notification (spec.md §4.D "Notification
// protocol").
type Callback func(status cmn.Status, h *Handler) bool

// Handler is a registered waiter (spec.md GLOSSARY "Waiter / Handler").
// It references its Object but does not own it: the object is always
// traversed under the strong ref notifyObject holds for the duration of
// the walk (spec.md §9 "Cyclic references").
type Handler struct {
	cb   Callback
	Data interface{}
	obj  *Object
	next *Handler
	prev *Handler
}

// RegisterHandler adds a waiter (spec.md §4.D "registerHandler"). It may
// not be called from inside a notification (spec.md §5 re-entrancy rule).
func (o *Object) RegisterHandler(cb Callback, data interface{}) *Handler {
	debug.Assert(!o.notifying, cmn.ErrRegisterDuringNotify)
	debug.Assert(o.refcount > 0)

	h := &Handler{cb: cb, Data: data, obj: o}
	if o.handlers != nil {
		o.handlers.prev = h
	}
	h.next = o.handlers
	o.handlers = h
	return h
}

// UnregisterHandler removes a waiter without invoking its callback.
func (o *Object) UnregisterHandler(h *Handler) {
	debug.Assert(o.refcount > 0)
	o.unlinkHandler(h)
}

// AbortHandler invokes cb(-1-equivalent, h) once, then unregisters
// (spec.md §4.D "abortHandler", §7 category 4 "Cancellation").
func (o *Object) AbortHandler(h *Handler) {
	done := h.cb(cmn.Status{Kind: cmn.StatusIOError}, h)
	debug.Assert(done)
	o.unlinkHandler(h)
}

func (o *Object) unlinkHandler(h *Handler) {
	if o.handlers == h {
		o.handlers = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	}
	if h.prev != nil {
		h.prev.next = h.next
	}
}

// notify walks the handler list, invoking cb(status, handler) for every
// registered waiter (spec.md §4.D "Notification protocol", §5 ordering
// guarantees O1/O2).
//
//   - Re-entrancy is forbidden: asserted via o.notifying.
//   - Self-healing traversal: the next pointer is snapshotted before the
//     callback runs, so handlers may unregister themselves or earlier
//     handlers from within their own callback.
//   - Refcount guard: an extra retain is held across the walk so a
//     callback that drops the caller's only other ref cannot free the
//     object out from under the traversal.
func (o *Object) notify() {
	o.notifyStatus(o.currentStatus())
}

func (o *Object) notifyStatus(status cmn.Status) {
	debug.Assert(!o.notifying, cmn.ErrNotifyReentrant)
	o.notifying = true

	o.Retain()

	h := o.handlers
	for h != nil {
		next := h.next
		done := h.cb(status, h)
		if done {
			o.unlinkHandler(h)
		}
		h = next
	}

	o.notifying = false
	o.Release()
}

// currentStatus derives the sum-type Status a waiter observes from the
// object's current flags (spec.md §9 "Mixed-signed status values").
func (o *Object) currentStatus() cmn.Status {
	switch {
	case o.HasFlag(cmn.FlagAborted):
		return cmn.Status{Kind: cmn.StatusAborted, Code: o.Code, Message: o.messageText()}
	case o.HasFlag(cmn.FlagSuperseded):
		return cmn.Status{Kind: cmn.StatusSuperseded}
	case !o.HasFlag(cmn.FlagInProgress) && !o.HasFlag(cmn.FlagInitial):
		return cmn.Status{Kind: cmn.StatusComplete}
	default:
		return cmn.Status{Kind: cmn.StatusProgress}
	}
}

func (o *Object) messageText() string {
	if o.Message == nil {
		return ""
	}
	return o.Message.String()
}
