// Package forbidden implements the URL filter collaborator named out of
// scope by spec.md §1 but exercised by original_source/forbidden.c's
// request() call site: every fetch consults it before issuing an
// upstream request. Grounded on forbidden.c's flat deny-list file format
// and, for the in-memory membership test, on the teacher's declared
// github.com/seiflotfy/cuckoofilter dependency — a probabilistic filter
// fits "is this URL forbidden" checks against a large, rarely-changing
// blocklist better than an exact set when memory is the binding
// constraint.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package forbidden

import (
	"bufio"
	"os"
	"strings"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/aistore-polipo/coalescecache/cmn/debug"
)

// Checker is the collaborator interface the fetch driver consults.
type Checker interface {
	Check(url string) bool // true == forbidden
}

// allowAll is the default: spec.md names no forbidden-URL requirement,
// so an unconfigured proxy denies nothing.
type allowAll struct{}

func (allowAll) Check(string) bool { return false }

// AllowAll is the zero-configuration Checker.
var AllowAll Checker = allowAll{}

// Filter is a cuckoofilter-backed deny-list of exact host/URL entries,
// loaded from a flat file (forbidden.c's format, simplified to exact
// match rather than regex).
type Filter struct {
	cf *cuckoo.Filter
}

// NewFilter builds an empty Filter sized for an expected entry count.
func NewFilter(expectedEntries uint) *Filter {
	return &Filter{cf: cuckoo.NewFilter(expectedEntries)}
}

// LoadFile populates a Filter from path, one pattern per line, matching
// forbidden.c's flat deny-list format ('#'-prefixed comments, blank
// lines skipped).
func LoadFile(path string) (*Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	filter := NewFilter(uint(len(lines)))
	for _, l := range lines {
		filter.Add(l)
	}
	return filter, nil
}

// Add registers a forbidden host or URL entry.
func (f *Filter) Add(entry string) {
	debug.Assert(entry != "")
	f.cf.InsertUnique([]byte(entry))
}

// Check reports whether url is an exact deny-list entry. A cuckoofilter
// trades a small false-positive rate for O(1) membership regardless of
// deny-list size; false positives over-block rather than under-block,
// which is the safe failure direction for a forbidden-URL gate.
func (f *Filter) Check(url string) bool {
	return f.cf.Lookup([]byte(url))
}

var _ Checker = (*Filter)(nil)
