/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package statuspage_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aistore-polipo/coalescecache/statuspage"
)

func TestHandlerRendersSnapshotValues(t *testing.T) {
	snap := statuspage.Snapshot{
		ObjectsPublic:  3,
		ObjectsPrivate: 1,
		ChunksUsed:     10,
		ChunksLowMark:  20,
		ChunksHighMark: 30,
		EvictionRuns:   4,
	}
	h := statuspage.Handler(func() statuspage.Snapshot { return snap })

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected an html content type, got %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{">3<", ">1<", ">10<", ">20<", ">30<", ">4<"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected rendered body to contain %q, got:\n%s", want, body)
		}
	}
}

func TestHandlerCallsSnapshotFreshEachRequest(t *testing.T) {
	calls := 0
	h := statuspage.Handler(func() statuspage.Snapshot {
		calls++
		return statuspage.Snapshot{ObjectsPublic: calls}
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/status", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
	if calls != 3 {
		t.Fatalf("expected snapshot() to be called once per request, got %d calls", calls)
	}
}
