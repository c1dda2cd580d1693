/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fetch

import (
	"strconv"
	"strings"

	"github.com/aistore-polipo/coalescecache/cmn"
)

// parseCacheControl turns a raw Cache-Control header value into the
// bitset/numeric form coherence.IsStale expects (spec.md §3, §4.D),
// mirroring local.c's directive-by-directive header parse.
func parseCacheControl(header string) (flags int, sMaxAge, maxAge int64) {
	sMaxAge, maxAge = cmn.Unset, cmn.Unset
	if header == "" {
		return flags, sMaxAge, maxAge
	}
	for _, part := range strings.Split(header, ",") {
		directive, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.ToLower(strings.TrimSpace(directive)) {
		case "no-cache":
			if value == "" {
				flags |= cmn.CacheNo
			} else {
				flags |= cmn.CacheNoHidden
			}
		case "no-store":
			flags |= cmn.CacheNoStore
		case "public":
			flags |= cmn.CachePublic
		case "private":
			flags |= cmn.CachePrivate
		case "no-transform":
			flags |= cmn.CacheNoTransform
		case "must-revalidate":
			flags |= cmn.CacheMustRevalidate
		case "proxy-revalidate":
			flags |= cmn.CacheProxyRevalidate
		case "s-maxage":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				sMaxAge = n
			}
		case "max-age":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				maxAge = n
			}
		}
	}
	return flags, sMaxAge, maxAge
}
