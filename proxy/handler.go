// Package proxy coordinates the Object Store, Cache Coherence Engine,
// and fetch/forbidden collaborators into the single operation a forward
// proxy actually needs: given a request, return the Object to serve from
// (existing and fresh, existing and needing revalidation, or freshly
// created). HTTP parsing/framing itself stays out of scope (spec.md §1
// Non-goals); this package is the thin seam between the core (spec.md's
// subject) and a real listener (cmd/proxycached).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package proxy

import (
	"github.com/pkg/errors"

	"github.com/aistore-polipo/coalescecache/cluster"
	"github.com/aistore-polipo/coalescecache/cmn"
	"github.com/aistore-polipo/coalescecache/coherence"
	"github.com/aistore-polipo/coalescecache/forbidden"
)

// ErrForbidden is returned by Get when the forbidden-URL collaborator
// denies the request (original_source/forbidden.c's request() guard).
var ErrForbidden = errors.New("proxy: url is forbidden")

// Fetcher is the subset of fetch.Driver's contract this package depends
// on, named so tests can inject a fake.
type Fetcher interface {
	Request(o *cluster.Object, from, to int64, method string, requestor interface{})
}

// Handler wires Store.Find/Make to the freshness algorithm and the fetch
// driver, implementing spec.md §4.E's INITIAL/VALIDATING transitions at
// the request entry point.
type Handler struct {
	store     *cluster.Store
	clock     cluster.Clock
	fetch     Fetcher
	forbidden forbidden.Checker
	cfg       coherence.Config
}

func NewHandler(store *cluster.Store, clock cluster.Clock, fetch Fetcher, checker forbidden.Checker, cfg coherence.Config) *Handler {
	if checker == nil {
		checker = forbidden.AllowAll
	}
	return &Handler{store: store, clock: clock, fetch: fetch, forbidden: checker, cfg: cfg}
}

// Get resolves url against the cache: returns a cached-and-fresh Object
// immediately, issues a conditional request for a cached-but-stale one,
// or creates and fetches a new one. The returned Object carries the
// caller's retained reference; the caller must Release or ReleaseNotify
// it once done.
func (h *Handler) Get(url string, req coherence.RequestCC, requestor interface{}) (*cluster.Object, error) {
	if h.forbidden.Check(url) {
		return nil, ErrForbidden
	}

	key := []byte(url)
	if o := h.store.Find(cmn.TypeHTTP, key); o != nil {
		if h.needsRevalidate(o, req) {
			h.beginRevalidate(o, requestor)
		}
		return o, nil
	}

	o := h.store.Make(cmn.TypeHTTP, key, true /*public*/, true /*fromDisk*/, h.fetch.Request, requestor)
	if o == nil {
		return nil, errors.New("proxy: object store at capacity")
	}
	if o.BeginFetch(requestor) {
		h.fetch.Request(o, 0, -1, "GET", requestor)
	}
	return o, nil
}

func (h *Handler) needsRevalidate(o *cluster.Object, req coherence.RequestCC) bool {
	if o.HasFlag(cmn.FlagInitial) || o.HasFlag(cmn.FlagInProgress) || o.HasFlag(cmn.FlagValidating) {
		return false
	}
	return coherence.MustRevalidate(h.cfg, h.clock.Now(), o, req)
}

func (h *Handler) beginRevalidate(o *cluster.Object, requestor interface{}) {
	if !o.BeginFetch(requestor) {
		return // a fetch is already in flight; the caller waits via RegisterHandler
	}
	o.BeginValidate()
	h.fetch.Request(o, 0, -1, "GET", requestor)
}
