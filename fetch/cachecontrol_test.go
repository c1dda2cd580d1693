/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fetch

import (
	"testing"

	"github.com/aistore-polipo/coalescecache/cmn"
)

func TestParseCacheControlEmptyHeader(t *testing.T) {
	flags, sMaxAge, maxAge := parseCacheControl("")
	if flags != 0 || sMaxAge != cmn.Unset || maxAge != cmn.Unset {
		t.Fatalf("expected zero value for an empty header, got flags=%d sMaxAge=%d maxAge=%d", flags, sMaxAge, maxAge)
	}
}

func TestParseCacheControlDirectives(t *testing.T) {
	flags, sMaxAge, maxAge := parseCacheControl(`no-store, must-revalidate, s-maxage=60, max-age="120"`)
	if flags&cmn.CacheNoStore == 0 {
		t.Fatal("expected CacheNoStore to be set")
	}
	if flags&cmn.CacheMustRevalidate == 0 {
		t.Fatal("expected CacheMustRevalidate to be set")
	}
	if sMaxAge != 60 {
		t.Fatalf("expected s-maxage 60, got %d", sMaxAge)
	}
	if maxAge != 120 {
		t.Fatalf("expected max-age 120 (quotes trimmed), got %d", maxAge)
	}
}

func TestParseCacheControlNoCacheWithFieldNameIsHidden(t *testing.T) {
	flags, _, _ := parseCacheControl(`no-cache="set-cookie"`)
	if flags&cmn.CacheNoHidden == 0 {
		t.Fatal("expected a field-qualified no-cache to set CacheNoHidden, not plain CacheNo")
	}
	if flags&cmn.CacheNo != 0 {
		t.Fatal("a field-qualified no-cache must not also set the unqualified flag")
	}
}
