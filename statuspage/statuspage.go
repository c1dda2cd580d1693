// Package statuspage renders a read-only administrative status page:
// Object Store/Chunk Pool/Eviction Engine counters, named out of scope by
// spec.md §1 but retained as a collaborator per SPEC_FULL.md §3. No
// example repo in the retrieval pack shows an HTML templating dependency
// (the closest analogue, cmd/cli's table rendering, targets a terminal,
// not a browser), so this is the one component built on the standard
// library's html/template rather than a pack-shown library — see
// DESIGN.md.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package statuspage

import (
	"html/template"
	"net/http"
)

// Snapshot is the read-only counter view rendered by Handler. Collected
// by the caller (cmd/proxycached) from Store/Pool/Engine at request time,
// keeping this package free of a direct dependency on cluster/xaction.
type Snapshot struct {
	ObjectsPublic  int
	ObjectsPrivate int
	ChunksUsed     int64
	ChunksLowMark  int64
	ChunksHighMark int64
	EvictionRuns   int64
}

var page = template.Must(template.New("status").Parse(`<!doctype html>
<html><head><title>coalescecache status</title></head>
<body>
<h1>coalescecache</h1>
<table border="1" cellpadding="4">
<tr><td>public objects</td><td>{{.ObjectsPublic}}</td></tr>
<tr><td>private objects</td><td>{{.ObjectsPrivate}}</td></tr>
<tr><td>chunks used</td><td>{{.ChunksUsed}}</td></tr>
<tr><td>chunk low mark</td><td>{{.ChunksLowMark}}</td></tr>
<tr><td>chunk high mark</td><td>{{.ChunksHighMark}}</td></tr>
<tr><td>eviction runs</td><td>{{.EvictionRuns}}</td></tr>
</table>
</body></html>
`))

// Handler returns an http.Handler that renders snapshot() fresh on every
// request. No authentication is applied (spec.md §1 Non-goal:
// "status-page authentication" stays out of scope).
func Handler(snapshot func() Snapshot) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = page.Execute(w, snapshot())
	})
}
