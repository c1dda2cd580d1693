// Package fetch implements the upstream HTTP/1.1 fetch driver: the
// outbound leg of §3's `request` closure, issuing conditional or
// unconditional GETs to the origin and feeding the response into an
// Object via Partial/AddData/Abort. Grounded on the teacher's
// ais/backend/http.go HTTP-backend idiom (context-scoped client, wrapped
// collaborator errors) but built on fasthttp's Client instead of
// net/http, matching the teacher's declared fasthttp dependency.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fetch

import (
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/aistore-polipo/coalescecache/cluster"
	"github.com/aistore-polipo/coalescecache/cmn"
)

// Driver issues upstream fetches on behalf of the Store (spec.md §6
// "fetch.request"). One Driver is shared across every Object; it holds
// no per-object state of its own.
type Driver struct {
	atoms   cluster.Atoms
	clock   cluster.Clock
	pool    cluster.Pool
	client  *fasthttp.Client
	timeout time.Duration
}

func NewDriver(atoms cluster.Atoms, clock cluster.Clock, pool cluster.Pool, timeout time.Duration) *Driver {
	return &Driver{
		atoms:   atoms,
		clock:   clock,
		pool:    pool,
		client:  &fasthttp.Client{Name: "coalescecache"},
		timeout: timeout,
	}
}

// Request is a cluster.RequestFunc: it validates, fetches, and drives o
// through Partial/AddData/Abort/EndFetch (spec.md §4.E "the fetch driver
// clears INPROGRESS on completion and calls notifyObject").
func (d *Driver) Request(o *cluster.Object, from, to int64, method string, requestor interface{}) {
	defer o.EndFetch()

	if o.Type != cmn.TypeHTTP {
		o.Abort(d.atoms, 500, d.atoms.Intern([]byte("fetch driver only handles HTTP objects")))
		return
	}

	url := string(o.Key)
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	if o.ETag != "" {
		req.Header.Set("If-None-Match", o.ETag)
	}
	if from > 0 || to >= 0 {
		d.setRange(req, from, to)
	}

	if err := d.client.DoTimeout(req, resp, d.timeout); err != nil {
		o.Abort(d.atoms, 502, d.atoms.Intern([]byte(errors.Wrap(err, "fetch: upstream request failed").Error())))
		return
	}

	status := resp.StatusCode()
	if status == 304 {
		o.EndValidate()
		o.MetadataChanged(false)
		o.Partial(d.atoms, o.Length, o.Headers)
		return
	}
	if status >= 500 {
		o.Abort(d.atoms, status, d.atoms.Intern([]byte("upstream server error")))
		return
	}
	if status >= 400 {
		o.Abort(d.atoms, status, d.atoms.Intern([]byte("upstream client error")))
		return
	}
	if status == 200 && o.HasFlag(cmn.FlagValidating) {
		o.SupersedeByOrigin()
		return
	}

	length := int64(-1)
	if cl := resp.Header.ContentLength(); cl >= 0 {
		length = int64(cl)
	}

	date := parseHTTPDate(string(resp.Header.Peek("Date")), d.clock.Now())
	expires := parseHTTPDateOrUnset(string(resp.Header.Peek("Expires")))
	lastModified := parseHTTPDateOrUnset(string(resp.Header.Peek("Last-Modified")))
	cc, sMaxAge, maxAge := parseCacheControl(string(resp.Header.Peek("Cache-Control")))
	etag := string(resp.Header.Peek("ETag"))

	o.SetMetadata(date, 0, expires, lastModified, cc, sMaxAge, maxAge, etag)
	headers := d.atoms.Intern(resp.Header.Header())
	o.Partial(d.atoms, length, headers)

	body := resp.Body()
	if err := o.AddData(d.pool, body, from); err != nil {
		glog.Warningf("fetch: object 0x%p: addData: %v", o, err)
		o.Abort(d.atoms, 500, d.atoms.Intern([]byte("couldn't add fetched data to object")))
	}
}

func (d *Driver) setRange(req *fasthttp.Request, from, to int64) {
	v := "bytes=" + strconv.FormatInt(from, 10) + "-"
	if to >= 0 {
		v += strconv.FormatInt(to, 10)
	}
	req.Header.Set("Range", v)
}

func parseHTTPDate(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC1123, s); err == nil {
		return t.Unix()
	}
	return fallback
}

func parseHTTPDateOrUnset(s string) int64 {
	if s == "" {
		return cmn.Unset
	}
	if t, err := time.Parse(time.RFC1123, s); err == nil {
		return t.Unix()
	}
	return cmn.Unset
}
