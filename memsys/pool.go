// Package memsys implements the Chunk Pool (spec.md §4.A): a fixed-size
// byte buffer allocator with accounting and pressure thresholds, grounded
// on the teacher's memsys.MMSA slab-pool idiom (referenced from
// cluster/lom_cache_hk.go's MemPressure()/OOM-tier checks) and the
// reserved/excess watcher pattern of dsort/mem_watcher.go.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/aistore-polipo/coalescecache/cmn/debug"
)

// Pressure mirrors the teacher's memsys.MemPressure tiers. The Eviction
// Engine (spec.md §4.F) does not read it; see MemPressure.
type Pressure int

const (
	PressureNormal Pressure = iota
	PressureHigh
	PressureCritical
)

// Pool is a fixed-size chunk allocator (spec.md §4.A). It is single-threaded
// from the core's perspective (spec.md §5) but used_chunks is an atomic
// counter so the statuspage/stats collaborators can read it without
// synchronizing with the core goroutine.
type Pool struct {
	chunkSize int64
	low       int64
	high      int64
	critical  int64

	used  atomic.Int64
	free  [][]byte
	mu    sync.Mutex // guards free; only the core goroutine calls Acquire/Release
}

func NewPool(chunkSize, low, high, critical int64) *Pool {
	debug.Assert(low < high && high < critical)
	return &Pool{chunkSize: chunkSize, low: low, high: high, critical: critical}
}

func (p *Pool) ChunkSize() int64 { return p.chunkSize }

// Acquire returns a zeroed buffer of ChunkSize bytes, or nil on allocation
// failure. It never blocks (spec.md §4.A: "acquire returns null under
// allocation failure; it does not wait"). Once used_chunks reaches
// criticalMark, further acquisition fails rather than growing without
// bound, so cmn.ErrChunkPoolExhausted (cluster/object.go) is reachable
// from the real pool and not just from test doubles.
func (p *Pool) Acquire() []byte {
	p.mu.Lock()
	if p.used.Load() >= p.critical {
		p.mu.Unlock()
		return nil
	}
	n := len(p.free)
	if n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		for i := range buf {
			buf[i] = 0
		}
		p.used.Inc()
		return buf
	}
	p.mu.Unlock()

	buf := make([]byte, p.chunkSize)
	p.used.Inc()
	return buf
}

// Release returns a buffer to the pool for reuse.
func (p *Pool) Release(buf []byte) {
	if buf == nil {
		return
	}
	debug.Assert(int64(len(buf)) == p.chunkSize)
	p.mu.Lock()
	p.free = append(p.free, buf[:p.chunkSize])
	p.mu.Unlock()
	p.used.Dec()
}

func (p *Pool) UsedChunks() int64 { return p.used.Load() }

func (p *Pool) LowMark() int64      { return p.low }
func (p *Pool) HighMark() int64     { return p.high }
func (p *Pool) CriticalMark() int64 { return p.critical }

// MemPressure reports the current tier against the configured watermarks.
// PressureCritical is the same condition (used > critical) on which the
// Eviction Engine's hole-punching pass (spec.md §4.F, pass 3) is gated;
// the engine compares the chunk counts itself and does not call this.
func (p *Pool) MemPressure() Pressure {
	used := p.used.Load()
	switch {
	case used > p.critical:
		return PressureCritical
	case used > p.high:
		return PressureHigh
	default:
		return PressureNormal
	}
}
