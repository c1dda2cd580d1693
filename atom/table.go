// Package atom implements the Atom Table (spec.md §4.B): an interned,
// refcounted immutable byte-string registry used for URLs, etags, headers,
// and reason messages. It is new relative to the teacher, grounded on the
// teacher's content-hashing idiom (OneOfOne/xxhash, used in cmn/bucket.go
// and ec/manager.go for bucket/object naming) applied here to key the
// intern table's buckets, and on the single-threaded registry style of
// the teacher's small utility packages.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package atom

import (
	"github.com/OneOfOne/xxhash"

	"github.com/aistore-polipo/coalescecache/cmn/debug"
)

// Atom is an interned, refcounted immutable byte string (spec.md §3, §4.B).
// Equality is by identity: two Atoms backed by equal byte sequences (under
// the table's case policy) are the same *Atom pointer.
type Atom struct {
	bytes    []byte
	hash     uint64
	lower    bool
	refcount int
}

func (a *Atom) Bytes() []byte { return a.bytes }
func (a *Atom) String() string { return string(a.bytes) }

// Table is the single-threaded intern registry (spec.md §4.B, §5: "Thread
// model: single-threaded").
type Table struct {
	buckets map[uint64][]*Atom
	used    int
}

func NewTable() *Table {
	return &Table{buckets: make(map[uint64][]*Atom)}
}

func (t *Table) UsedAtoms() int { return t.used }

// Intern returns the Atom for bytes, creating and registering one with
// refcount 1 if this is the first occurrence, or retaining and returning
// the existing one otherwise.
func (t *Table) Intern(b []byte) *Atom {
	return t.intern(b, false)
}

// InternLower is Intern under a case-folded equality policy (spec.md §4.B).
func (t *Table) InternLower(b []byte) *Atom {
	return t.intern(lower(b), true)
}

func (t *Table) intern(b []byte, lowerPolicy bool) *Atom {
	h := xxhash.Checksum64(b)
	for _, a := range t.buckets[h] {
		if a.lower == lowerPolicy && string(a.bytes) == string(b) {
			a.refcount++
			return a
		}
	}
	a := &Atom{bytes: append([]byte(nil), b...), hash: h, lower: lowerPolicy, refcount: 1}
	t.buckets[h] = append(t.buckets[h], a)
	t.used++
	return a
}

// Retain bumps an Atom's refcount for a new owner.
func (t *Table) Retain(a *Atom) *Atom {
	if a == nil {
		return nil
	}
	a.refcount++
	return a
}

// Release drops an Atom's refcount, removing it from the table once it
// reaches zero.
func (t *Table) Release(a *Atom) {
	if a == nil {
		return
	}
	debug.Assert(a.refcount > 0)
	a.refcount--
	if a.refcount > 0 {
		return
	}
	bucket := t.buckets[a.hash]
	for i, cand := range bucket {
		if cand == a {
			bucket[i] = bucket[len(bucket)-1]
			t.buckets[a.hash] = bucket[:len(bucket)-1]
			t.used--
			return
		}
	}
}

func lower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
