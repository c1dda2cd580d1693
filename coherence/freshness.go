// Package coherence implements the Cache Coherence Engine (spec.md §4.E):
// the freshness/staleness/revalidation algorithm and the age-computation
// rules original_source/object.c implements but spec.md's
// distillation states only as pseudocode. Ported in semantics (not syntax)
// from object.c's objectIsStale/objectMustRevalidate.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package coherence

import "github.com/aistore-polipo/coalescecache/cmn"

// ObjectView is the minimal read-only projection of cluster.Object that the
// freshness algorithm needs. cluster.Object satisfies this interface so the
// algorithm can be unit-tested without constructing a full Object.
type ObjectView interface {
	Flags() int
	CacheControl() int
	SMaxAge() int64
	MaxAge() int64
	Age() int64
	Date() int64
	Expires() int64
	LastModified() int64
}

// RequestCC carries the request-side Cache-Control directives (spec.md §3:
// "request/response directive integers, -1 = unset").
type RequestCC struct {
	Flags    int
	SMaxAge  int64
	MaxAge   int64
	MinFresh int64
	MaxStale int64
}

// NoCacheControl is the zero-value request directive set, equivalent to
// object.c's `no_cache_control` sentinel.
var NoCacheControl = RequestCC{SMaxAge: cmn.Unset, MaxAge: cmn.Unset, MinFresh: 0, MaxStale: 0}

// Config bundles the freshness tunables from cmn.FreshnessConf that the
// algorithm needs, so this package does not import cmn.Config directly.
type Config struct {
	CacheIsShared       bool
	MindlesslyCacheVary bool
	MaxExpiresAge       int64 // seconds
	MaxAge              int64
	MaxAgeFraction      float64
	MaxNoModifiedAge    int64
}

// IsStale implements spec.md §4.D's "Freshness algorithm": computes a
// stale-time T, returns now > T.
func IsStale(cfg Config, now int64, o ObjectView, req RequestCC) bool {
	if o.Flags()&cmn.FlagInitial != 0 {
		return false // nothing to be stale yet
	}

	flags := o.CacheControl() | req.Flags

	sMaxAge := o.SMaxAge()
	if req.SMaxAge >= 0 {
		if sMaxAge >= 0 {
			sMaxAge = min64(req.SMaxAge, sMaxAge)
		} else {
			sMaxAge = req.SMaxAge
		}
	}

	var stale int64
	switch {
	case cfg.CacheIsShared && sMaxAge >= 0:
		stale = o.Age() + sMaxAge
	case req.MaxAge >= 0:
		stale = o.Age() + req.MaxAge
	case o.Expires() >= 0:
		stale = o.Age() + cfg.MaxExpiresAge
		if o.Date() >= 0 {
			// clock-skew protection
			stale = min64(stale, o.Expires()-o.Date()+o.Age())
		} else {
			stale = min64(stale, o.Expires())
		}
	default:
		stale = o.Age() + cfg.MaxAge
		if o.LastModified() >= 0 {
			stale = min64(stale, o.Age()+int64(float64(now-o.LastModified())*cfg.MaxAgeFraction))
		} else {
			stale = min64(stale, o.Age()+cfg.MaxNoModifiedAge)
		}
	}

	if flags&cmn.CacheMustRevalidate == 0 &&
		!(cfg.CacheIsShared && flags&cmn.CacheProxyRevalidate != 0) {
		stale = min64(stale-req.MinFresh, stale+req.MaxStale)
	}

	return now > stale
}

// MustRevalidate implements object.c's objectMustRevalidate: true if NO,
// NO_HIDDEN or NO_STORE is set; or the cache is shared and the object is
// PRIVATE; or VARY is set and mindlesslyCacheVary is false; else defers to
// IsStale. A nil ObjectView (o == nil) models object.c's "no object yet"
// call site, used before a fetch has produced anything to validate.
func MustRevalidate(cfg Config, now int64, o ObjectView, req RequestCC) bool {
	var flags int
	if o != nil {
		flags = o.CacheControl() | req.Flags
	} else {
		flags = req.Flags
	}

	if flags&(cmn.CacheNo|cmn.CacheNoHidden|cmn.CacheNoStore) != 0 {
		return true
	}
	if cfg.CacheIsShared && flags&cmn.CachePrivate != 0 {
		return true
	}
	if !cfg.MindlesslyCacheVary && flags&cmn.CacheVary != 0 {
		return true
	}
	if o != nil {
		return IsStale(cfg, now, o, req)
	}
	return false
}

// ComputeAge implements RFC 2616 §13.2.3 age computation as object.c's
// caller (local.c) does: age grows monotonically from the Date header (or
// arrival time if Date is unknown) plus whatever Age the origin reported.
func ComputeAge(date, now, headerAge int64) int64 {
	var age int64
	if date >= 0 {
		age = now - date
	}
	if age < 0 {
		age = 0
	}
	if headerAge > age {
		age = headerAge
	}
	return age
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
