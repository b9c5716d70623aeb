// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package snpdb is the target-region index and SNP list: the Go-native
// analogue of cellsnp-lite's regidx/snplist. It gives the core two
// collaborator contracts: an ordered sequence of (chrom, pos, ref, alt)
// records for target mode, and a chromosome-scan membership function.
package snpdb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cellpileup/csp"
)

// Entry is one SNP-list record: a target position with its known ref/alt
// base indices (csp.BaseA..csp.BaseT, or csp.BaseOth for an unresolved
// allele).
type Entry struct {
	Chrom string
	Pos   int // 0-based
	Ref   int
	Alt   int
}

// SNPList is a position-sorted, per-chromosome partition of the SNP
// targets a run was given, analogous to cellsnp-lite's snplist_t. It is
// built once and read-only for the rest of the run.
type SNPList struct {
	byChrom map[string][]Entry
}

// baseIndex maps an upper-case ref/alt allele letter to the 0..4 base
// index the core uses throughout; unrecognized letters (indels, "*", "N")
// map to csp.BaseOth, matching cellsnp-lite's treatment of non-SNP entries
// as "unknown allele, let the aggregator infer it".
func baseIndex(s string) int {
	if len(s) != 1 {
		return csp.BaseOth
	}
	switch s[0] {
	case 'A', 'a':
		return csp.BaseA
	case 'C', 'c':
		return csp.BaseC
	case 'G', 'g':
		return csp.BaseG
	case 'T', 't':
		return csp.BaseT
	default:
		return csp.BaseOth
	}
}

// Load reads a tab-separated SNP list (chrom, 1-based pos, ref, alt,
// optionally more trailing columns which are ignored) from path, sorting
// entries within each chromosome by position. Lines starting with "#" are
// skipped, same as a BED file's comment convention.
func Load(ctx context.Context, path string) (*SNPList, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("snpdb: opening %s: %v", path, err)
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil {
			log.Error.Printf("snpdb: closing %s: %v", path, cerr)
		}
	}()
	return parse(f.Reader(ctx), path)
}

func parse(r io.Reader, path string) (*SNPList, error) {
	db := &SNPList{byChrom: make(map[string][]Entry)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 4 {
			return nil, fmt.Errorf("snpdb: %s:%d: expected at least 4 tab-separated columns, got %d", path, lineNo, len(cols))
		}
		pos1, err := strconv.Atoi(cols[1])
		if err != nil {
			return nil, fmt.Errorf("snpdb: %s:%d: bad position %q: %v", path, lineNo, cols[1], err)
		}
		e := Entry{
			Chrom: cols[0],
			Pos:   pos1 - 1,
			Ref:   baseIndex(cols[2]),
			Alt:   baseIndex(cols[3]),
		}
		db.byChrom[e.Chrom] = append(db.byChrom[e.Chrom], e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("snpdb: reading %s: %v", path, err)
	}
	for chrom := range db.byChrom {
		entries := db.byChrom[chrom]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Pos < entries[j].Pos })
	}
	return db, nil
}

// Chromosomes returns the set of chromosome names the list has entries
// for, in no particular order; the caller intersects this against its own
// chromosome dispatch list.
func (db *SNPList) Chromosomes() []string {
	out := make([]string, 0, len(db.byChrom))
	for c := range db.byChrom {
		out = append(out, c)
	}
	return out
}

// Entries returns chrom's targets in ascending position order, or nil if
// the chromosome has none. The returned slice must not be mutated by the
// caller; it is the list's own backing array.
func (db *SNPList) Entries(chrom string) []Entry {
	return db.byChrom[chrom]
}

// Contains reports whether (chrom, pos) names a target, and if so its
// known ref/alt, for scan mode's region-filtered variant.
func (db *SNPList) Contains(chrom string, pos int) (ref, alt int, ok bool) {
	entries := db.byChrom[chrom]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Pos >= pos })
	if i < len(entries) && entries[i].Pos == pos {
		return entries[i].Ref, entries[i].Alt, true
	}
	return 0, 0, false
}

// ToTargets converts chrom's entries into the csp.Target slice the
// chromosome worker consumes directly.
func (db *SNPList) ToTargets(chrom string) []csp.Target {
	entries := db.byChrom[chrom]
	if len(entries) == 0 {
		return nil
	}
	targets := make([]csp.Target, len(entries))
	for i, e := range entries {
		targets[i] = csp.Target{Pos: e.Pos, Ref: e.Ref, Alt: e.Alt}
	}
	return targets
}
