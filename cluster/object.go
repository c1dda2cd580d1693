/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"bytes"
	"fmt"

	"github.com/golang/glog"

	"github.com/aistore-polipo/coalescecache/atom"
	"github.com/aistore-polipo/coalescecache/cmn"
	"github.com/aistore-polipo/coalescecache/cmn/debug"
)

// Object is the central entity (spec.md §3): chunked byte content plus
// HTTP metadata plus a waiter list, created by Store.Make in INITIAL
// state and driven to completion by the fetch.RequestFunc supplied at
// creation time.
type Object struct {
	Type uint8
	Key  []byte

	flags        int
	Code         int
	Message      *atom.Atom
	Headers      *atom.Atom
	Via          *atom.Atom
	ETag         string

	date         int64
	age          int64
	expires      int64
	lastModified int64
	ATime        int64

	cacheControl int
	sMaxAge      int64
	maxAge       int64
	MinFresh     int64
	MaxStale     int64

	Length int64 // declared total body length, -1 if unknown
	size   int64 // current filled byte count

	chunks []Chunk

	refcount int

	handlers *Handler

	request        RequestFunc
	requestClosure interface{}

	DiskEntry interface{}
	Requestor interface{}

	store *Store
	next  *Object
	prev  *Object

	notifying bool // per-object notifyObject reentrancy guard (spec.md §5, §9)
	linear    bool
}

// --- small read accessors, several of which satisfy coherence.ObjectView ---

func (o *Object) Flags() int          { return o.flags }
func (o *Object) CacheControl() int   { return o.cacheControl }
func (o *Object) SMaxAge() int64      { return o.sMaxAge }
func (o *Object) MaxAge() int64       { return o.maxAge }
func (o *Object) Age() int64          { return o.age }
func (o *Object) Date() int64         { return o.date }
func (o *Object) Expires() int64      { return o.expires }
func (o *Object) LastModified() int64 { return o.lastModified }
func (o *Object) Size() int64         { return o.size }
func (o *Object) NumChunks() int      { return len(o.chunks) }
func (o *Object) Refcount() int       { return o.refcount }

func (o *Object) HasFlag(f int) bool { return o.flags&f != 0 }
func (o *Object) setFlag(f int)      { o.flags |= f }
func (o *Object) clearFlag(f int)    { o.flags &^= f }

// SetFlag/ClearFlag let disk/fetch collaborators stamp flags that spec.md
// §3 assigns no dedicated method to (e.g. DISK_ENTRY_COMPLETE).
func (o *Object) SetFlag(f int)   { o.setFlag(f) }
func (o *Object) ClearFlag(f int) { o.clearFlag(f) }

// SetMetadata lets the fetch driver stamp response directives onto the
// object before calling Partial, matching local.c's header-parsing
// companion to object.c.
func (o *Object) SetMetadata(date, age, expires, lastModified int64, cacheControl int, sMaxAge, maxAge int64, etag string) {
	o.date, o.age, o.expires, o.lastModified = date, age, expires, lastModified
	o.cacheControl = cacheControl
	o.sMaxAge, o.maxAge = sMaxAge, maxAge
	o.ETag = etag
}

// AppendVia accumulates the proxy-chain Via header through the Atom Table,
// as local.c's request path does (SPEC_FULL.md §4, "via header accumulation").
func (o *Object) AppendVia(atoms Atoms, via *atom.Atom) {
	if via == nil {
		return
	}
	if o.Via == nil {
		o.Via = atoms.Retain(via)
		return
	}
	old := o.Via
	o.Via = atoms.Intern([]byte(old.String() + ", " + via.String()))
	atoms.Release(old)
}

// Partial is called once by the fetch driver after it has a validated
// response head (spec.md §4.D).
func (o *Object) Partial(atoms Atoms, length int64, headers *atom.Atom) {
	if o.Headers != nil {
		atoms.Release(o.Headers)
	}
	o.Headers = atoms.Retain(headers)

	if length >= 0 {
		if o.size > length {
			o.Abort(atoms, 502, atoms.Intern([]byte("Inconsistent Content-Length")))
			return
		}
		o.Length = length
	}

	o.clearFlag(cmn.FlagInitial)
	if o.store != nil && o.store.disk != nil && o.DiskEntry != nil {
		if err := o.store.disk.RevalidateDiskEntry(o); err != nil {
			glog.Warningf("object 0x%p: revalidate disk entry: %v", o, err)
		}
	}
	o.notify()
}

// setChunks grows the chunks array; never shrinks (spec.md §4.D "setChunks").
func (o *Object) setChunks(numchunks int, chunkSize int64) {
	if numchunks <= len(o.chunks) {
		return
	}
	var n int
	if o.Length >= 0 {
		want := int((o.Length + chunkSize - 1) / chunkSize)
		n = maxInt(numchunks, want)
	} else {
		n = maxInt(numchunks, maxInt(len(o.chunks)+2, len(o.chunks)*5/4))
	}
	grown := make([]Chunk, n)
	copy(grown, o.chunks)
	o.chunks = grown
}

// SetChunks is the exported form of setChunks, for collaborators (the
// Eviction Engine, tests) that need to pre-size an object.
func (o *Object) SetChunks(numchunks int, chunkSize int64) { o.setChunks(numchunks, chunkSize) }

// LockChunk pins chunk i against eviction/reallocation (invariant I6).
func (o *Object) LockChunk(pool Pool, i int) {
	debug.Assert(i >= 0)
	if i >= len(o.chunks) {
		o.setChunks(i+1, pool.ChunkSize())
	}
	o.chunks[i].Lock++
}

// UnlockChunk reverses LockChunk.
func (o *Object) UnlockChunk(i int) {
	debug.Assertf(i >= 0 && i < len(o.chunks), "unlock out-of-range chunk %d", i)
	if o.chunks[i].Lock == 0 {
		debug.Assert(false, cmn.ErrChunkNotLocked)
		return
	}
	o.chunks[i].Lock--
}

// AddData appends len(data) bytes at offset, splitting across chunk
// boundaries as needed (spec.md §4.D "addData").
func (o *Object) AddData(pool Pool, data []byte, offset int64) error {
	length := int64(len(data))
	if length == 0 {
		return nil
	}

	if o.Length >= 0 && offset+length > o.Length {
		glog.Warningf("object 0x%p: inconsistent length (%d, should be at least %d)", o, o.Length, offset+length)
		o.Length = offset + length
	}

	o.clearFlag(cmn.FlagFailed)

	chunkSize := pool.ChunkSize()
	if offset+length >= int64(len(o.chunks))*chunkSize {
		o.setChunks(int((offset+length-1)/chunkSize)+1, chunkSize)
	}

	pos := 0
	if offset%chunkSize != 0 {
		plen := chunkSize - offset%chunkSize
		if plen > length {
			plen = length
		}
		if err := o.addChunkEnd(pool, data[pos:pos+int(plen)], offset); err != nil {
			return err
		}
		offset += plen
		pos += int(plen)
		length -= plen
	}

	for length > 0 {
		plen := chunkSize
		if length < chunkSize {
			plen = length
		}
		if err := o.addChunk(pool, data[pos:pos+int(plen)], offset); err != nil {
			return err
		}
		offset += plen
		pos += int(plen)
		length -= plen
	}
	return nil
}

// addChunk writes a chunk-aligned segment. A chunk that already holds at
// least len(data) bytes is left unchanged, so bytes below a chunk's
// length are never rewritten; otherwise data is copied in and the chunk's
// length becomes len(data).
func (o *Object) addChunk(pool Pool, data []byte, offset int64) error {
	chunkSize := pool.ChunkSize()
	debug.Assert(offset%chunkSize == 0)
	i := int(offset / chunkSize)
	if len(o.chunks) <= i {
		o.setChunks(i+1, chunkSize)
	}

	o.chunks[i].Lock++
	defer func() { o.chunks[i].Lock-- }()

	if o.chunks[i].Buf == nil {
		buf := pool.Acquire()
		if buf == nil {
			return cmn.ErrChunkPoolExhausted
		}
		o.chunks[i].Buf = buf
	}

	if o.chunks[i].Length >= len(data) {
		return nil
	}

	if offset+int64(len(data)) > o.size {
		o.size = offset + int64(len(data))
	}
	o.chunks[i].Length = len(data)
	copy(o.chunks[i].Buf, data)
	return nil
}

// addChunkEnd writes a non-chunk-aligned (leading/trailing partial)
// segment. It may only extend the filled prefix of the chunk, never
// overwrite within it (spec.md: "chunk-middle write" edge case).
func (o *Object) addChunkEnd(pool Pool, data []byte, offset int64) error {
	chunkSize := pool.ChunkSize()
	r := offset % chunkSize
	debug.Assert(r != 0 && r+int64(len(data)) <= chunkSize)
	i := int(offset / chunkSize)
	if len(o.chunks) <= i {
		o.setChunks(i+1, chunkSize)
	}

	o.chunks[i].Lock++
	defer func() { o.chunks[i].Lock-- }()

	if o.chunks[i].Buf == nil {
		buf := pool.Acquire()
		if buf == nil {
			return cmn.ErrChunkPoolExhausted
		}
		o.chunks[i].Buf = buf
	}

	if offset > o.size {
		return cmn.ErrChunkMiddleWrite
	}
	if int64(o.chunks[i].Length) < r {
		return cmn.ErrChunkMiddleWrite
	}

	if offset+int64(len(data)) > o.size {
		o.size = offset + int64(len(data))
	}
	if end := r + int64(len(data)); int64(o.chunks[i].Length) < end {
		filled := int64(o.chunks[i].Length)
		copy(o.chunks[i].Buf[filled:end], data[filled-r:])
		o.chunks[i].Length = int(end)
	}
	return nil
}

// Printf formats to a temporary buffer and calls AddData (spec.md §4.D
// "printf").
func (o *Object) Printf(pool Pool, atoms Atoms, offset int64, format string, a ...interface{}) {
	buf := []byte(fmt.Sprintf(format, a...))
	if err := o.AddData(pool, buf, offset); err != nil {
		o.Abort(atoms, 500, atoms.Intern([]byte("Couldn't add data to object")))
	}
}

// HoleSize returns the bytes of contiguous hole starting at offset 0
// (spec.md §4.D): 0 if the data there is filled, -1 if the object has no
// chunks or the hole runs to the end of the chunk array.
func (o *Object) HoleSize(pool Pool) int64 {
	return o.holeSizeAt(pool, 0)
}

// HoleSizeAt is the general form taking an explicit offset; it returns -1
// for an offset beyond the chunk array.
func (o *Object) HoleSizeAt(pool Pool, offset int64) int64 { return o.holeSizeAt(pool, offset) }

func (o *Object) holeSizeAt(pool Pool, offset int64) int64 {
	chunkSize := pool.ChunkSize()
	if offset < 0 || int(offset/chunkSize) >= len(o.chunks) {
		return -1
	}

	var size int64
	if offset%chunkSize != 0 {
		i := int(offset / chunkSize)
		if int64(o.chunks[i].Length) > offset%chunkSize {
			return 0
		}
		size += chunkSize - offset%chunkSize
		offset += chunkSize - offset%chunkSize
	}

	i := int(offset / chunkSize)
	for ; i < len(o.chunks); i++ {
		if o.chunks[i].Length == 0 {
			size += chunkSize
		} else {
			break
		}
	}
	if i >= len(o.chunks) {
		return -1
	}
	return size
}

// Abort clears INITIAL/VALIDATING, sets ABORTED, replaces message, zeros
// length/size/headers/etag, truncates date/expires to the object's age,
// disposes unlocked chunks, and privatises (spec.md §4.D "abort").
// Precondition: code != 0.
func (o *Object) Abort(atoms Atoms, code int, message *atom.Atom) {
	debug.Assert(code != 0)

	o.clearFlag(cmn.FlagInitial | cmn.FlagValidating)
	o.setFlag(cmn.FlagAborted)
	o.Code = code
	if o.Message != nil {
		atoms.Release(o.Message)
	}
	o.Message = message

	o.Length = 0
	o.date = o.age
	o.expires = o.age
	o.lastModified = -1
	o.ETag = ""
	if o.Headers != nil {
		atoms.Release(o.Headers)
		o.Headers = nil
	}
	o.size = 0

	for i := range o.chunks {
		if o.chunks[i].Buf != nil && o.chunks[i].Lock == 0 {
			o.disposeChunk(i)
		}
	}

	if o.store != nil {
		o.store.Privatise(o)
	}
}

// Supersede marks SUPERSEDED, destroys the disk entry, privatises, and
// notifies (spec.md §4.D "supersede"). original_source/object.c calls
// this from two distinct sites (client-driven refresh vs. origin-driven
// replacement); SPEC_FULL.md names both for caller clarity.
func (o *Object) Supersede() {
	o.setFlag(cmn.FlagSuperseded)
	if o.store != nil && o.store.disk != nil {
		o.store.disk.DestroyDiskEntry(o, true /*dallying*/)
	}
	o.DiskEntry = nil
	if o.store != nil {
		o.store.Privatise(o)
	}
	o.notify()
}

// SupersedeByOrigin is Supersede invoked because the origin delivered a
// fresh, non-conditional 200 response in place of a validated one.
func (o *Object) SupersedeByOrigin() { o.Supersede() }

// SupersedeByForce is Supersede invoked because a caller asked for an
// unconditional refresh of a cached entry.
func (o *Object) SupersedeByForce() { o.Supersede() }

func (o *Object) disposeChunk(i int) {
	if o.store != nil && o.store.pool != nil {
		o.store.pool.Release(o.chunks[i].Buf)
	}
	o.chunks[i].Buf = nil
	o.chunks[i].Length = 0
}

// Retain bumps refcount for a new external holder (spec.md §4.D "retain").
func (o *Object) Retain() *Object {
	o.refcount++
	return o
}

// Release drops refcount, destroying the object if it reaches zero on a
// private, idle object (spec.md §4.D "release").
func (o *Object) Release() {
	o.refcount--
	if o.refcount == 0 {
		debug.Assert(o.handlers == nil && !o.HasFlag(cmn.FlagInProgress))
		if !o.HasFlag(cmn.FlagPublic) {
			o.destroy()
		}
	}
}

// ReleaseNotify drops refcount; if the object is still alive it notifies
// waiters, otherwise it destroys (spec.md §4.D "releaseNotify").
func (o *Object) ReleaseNotify() {
	o.refcount--
	if o.refcount > 0 {
		o.notify()
		return
	}
	debug.Assert(o.handlers == nil && !o.HasFlag(cmn.FlagInProgress))
	if !o.HasFlag(cmn.FlagPublic) {
		o.destroy()
	}
}

// destroy is legal only when refcount==0, handlers empty, INPROGRESS
// clear, and the object is already private (invariant I8). Called either
// directly by Release/ReleaseNotify, or by Store.Privatise once it has
// released the store's own PUBLIC-ownership ref and observed refcount
// drop to zero.
func (o *Object) destroy() {
	debug.Assert(o.refcount == 0 && o.handlers == nil && !o.HasFlag(cmn.FlagInProgress))
	debug.Assert(!o.HasFlag(cmn.FlagPublic))
	if o.store != nil && o.store.disk != nil && o.DiskEntry != nil {
		o.store.disk.DestroyDiskEntry(o, false)
		o.DiskEntry = nil
	}
	for i := range o.chunks {
		debug.Assert(o.chunks[i].Lock == 0)
		if o.chunks[i].Buf != nil {
			o.disposeChunk(i)
		}
	}
	if o.store != nil {
		o.store.privateObjectCount--
	}
}

// MetadataChanged has the disk layer revalidate the entry
// (RevalidateDiskEntry, which rewrites its metadata sidecar), or marks
// the disk entry dirty (spec.md §4.D "metadataChanged").
func (o *Object) MetadataChanged(revalidate bool) {
	if o.store == nil || o.store.disk == nil {
		return
	}
	if revalidate {
		if err := o.store.disk.RevalidateDiskEntry(o); err != nil {
			glog.Warningf("object 0x%p: revalidate disk entry: %v", o, err)
		}
		return
	}
	o.clearFlag(cmn.FlagDiskEntryComplete)
	o.store.disk.DirtyDiskEntry(o)
}

// BeginFetch sets INPROGRESS, guaranteeing at-most-one upstream fetch per
// object (spec.md §4.E). Returns false if a fetch is already in flight.
func (o *Object) BeginFetch(requestor interface{}) bool {
	if o.HasFlag(cmn.FlagInProgress) {
		return false
	}
	o.setFlag(cmn.FlagInProgress)
	o.Requestor = requestor
	return true
}

// EndFetch clears INPROGRESS (spec.md §4.E: "The fetch driver clears
// INPROGRESS on completion and calls notifyObject").
func (o *Object) EndFetch() {
	o.clearFlag(cmn.FlagInProgress)
	o.Requestor = nil
	o.notify()
}

// BeginValidate/EndValidate bracket a conditional request in flight
// (spec.md §4.E "populated -> VALIDATING").
func (o *Object) BeginValidate() { o.setFlag(cmn.FlagValidating) }
func (o *Object) EndValidate()   { o.clearFlag(cmn.FlagValidating) }

// IsPublic reports whether the object is reachable from the hash table
// (spec.md §3 flag PUBLIC).
func (o *Object) IsPublic() bool { return o.HasFlag(cmn.FlagPublic) }

// Linear reports the single-pass marker set by Store.PrivatiseLinear
// (spec.md §4.C "privatise", optional linear flag).
func (o *Object) Linear() bool { return o.linear }

// ChunkLength, ChunkLocked, and ChunkBuf give the Eviction Engine
// read-only access to chunk state without exposing the Chunk slice
// itself (spec.md §4.F reclamation passes).
func (o *Object) ChunkLength(i int) int    { return o.chunks[i].Length }
func (o *Object) ChunkLocked(i int) bool   { return o.chunks[i].Lock > 0 }
func (o *Object) ChunkBuf(i int) []byte    { return o.chunks[i].Buf[:o.chunks[i].Length] }
func (o *Object) ChunkIsHole(i int) bool   { return o.chunks[i].isHole() }
func (o *Object) ChunkOffset(pool Pool, i int) int64 { return int64(i) * pool.ChunkSize() }

// DisposeChunkIfUnlocked frees chunk i's buffer back to the pool unless a
// reader holds its lock, reporting whether it disposed anything (spec.md
// §4.F passes 1 and 3, "skip any chunk with lock>0").
func (o *Object) DisposeChunkIfUnlocked(i int) bool {
	if o.chunks[i].Lock > 0 || o.chunks[i].Buf == nil {
		return false
	}
	o.disposeChunk(i)
	return true
}

func (o *Object) keyEquals(typ uint8, key []byte) bool {
	return o.Type == typ && len(o.Key) == len(key) && bytes.Equal(o.Key, key)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
