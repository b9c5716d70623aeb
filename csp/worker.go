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
package csp

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/log"
	gbam "github.com/grailbio/cellpileup/encoding/bam"
	"github.com/grailbio/cellpileup/encoding/bamprovider"
	"github.com/grailbio/hts/sam"

	"github.com/grailbio/cellpileup/biosimd"
)

// Target describes one SNP-list entry in target mode: preset ref/alt base
// indices at a fixed position. Scan mode never populates this; see
// snpdb.SNPList for the membership-test collaborator.
type Target struct {
	Pos int
	Ref int
	Alt int
}

// ShardTotals accumulates the counters the scheduler reports and the
// merger verifies against the merged matrices.
type ShardTotals struct {
	NS             int64
	NrAD, NrDP, NrOth int64
}

// Worker processes one chromosome end-to-end.
type Worker struct {
	Cfg      *Config
	Filter   *ReadFilter
	Agg      *Aggregator
	Groups   *CellGroupTable
	Providers []bamprovider.Provider

	pools *workerPools
}

// NewWorker builds a worker with its own pools. Worker-local state
// (pools, iterators) is never shared between workers.
func NewWorker(cfg *Config, groups *CellGroupTable) *Worker {
	return &Worker{
		Cfg:    cfg,
		Filter: &ReadFilter{Cfg: cfg},
		Agg:    &Aggregator{},
		Groups: groups,
		pools:  newWorkerPools(),
	}
}

// aligned base, computed from one read's CIGAR walk: the ref position and
// the corresponding index into the read's unpacked base/qual arrays.
type alignedBase struct {
	pos      int
	readIdx  int
}

// cigarWalk returns the aligned (ref position, read index) pairs for the
// M/=/X operators of rec, implementing admission rule 9 (deletions and
// reference-skips contribute no aligned base) as a side effect of only
// ever emitting M/=/X positions.
func cigarWalk(rec *sam.Record, scratch []alignedBase) []alignedBase {
	out := scratch[:0]
	refPos := rec.Pos
	readIdx := 0
	for _, co := range rec.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n; i++ {
				out = append(out, alignedBase{pos: refPos + i, readIdx: readIdx + i})
			}
			refPos += n
			readIdx += n
		case sam.CigarInsertion, sam.CigarSoftClipped:
			readIdx += n
		case sam.CigarDeletion, sam.CigarSkipped:
			refPos += n
		case sam.CigarHardClipped, sam.CigarPadded:
			// Consumes neither ref nor read.
		}
	}
	return out
}

// unpackSeq returns the 4-bit nibble for every base of rec, reusing the
// worker's qualPool scratch buffer when it is large enough.
func unpackSeq(rec *sam.Record, pool *qualPool) []byte {
	scratch := pool.Acquire(rec.Seq.Length)
	biosimd.UnpackSeq(scratch, gbam.UnsafeDoubletsToBytes(rec.Seq.Seq))
	return scratch
}

// cellOrdinalFor resolves a read to its cell-group ordinal, returning
// false when the read's barcode is not a known cell group. Such reads
// are silently dropped.
func (w *Worker) cellOrdinalFor(r Read, fileIdx int) (int, bool) {
	if !w.Cfg.BarcodeMode() {
		return fileIdx, true
	}
	bc, ok := r.Tag(w.Cfg.CellTag)
	if !ok {
		return 0, false
	}
	return w.Groups.Resolve(bc)
}

// Run processes one chromosome shard: it reads every input file's records
// overlapping the shard, admits them through the Read Filter, accumulates
// per-site state (buffering the whole chromosome's open sites at once --
// a deliberate simplification over a fixed-depth ring buffer; see
// DESIGN.md), finalizes sites in ascending position order (scan mode) or
// in target-list order (target mode), and hands each emitted site to emit.
// emit lets the caller choose the sink: the multi-thread scheduler appends
// a shardRecord to a per-chromosome temp file, while the single-thread fast
// path (RunSingleThread) renders directly to the final output files.
func (w *Worker) Run(shard gbam.Shard, targets []Target, emit func(*SiteState) error) (ShardTotals, error) {
	var totals ShardTotals
	targetMode := targets != nil

	sites := make(map[int]*SiteState)
	order := make([]int, 0, len(targets))
	if targetMode {
		for _, t := range targets {
			s := NewSiteState(len(w.Groups.Groups), w.Cfg.UMIMode(), w.pools)
			s.Reset(0, t.Pos, w.Cfg.UMIMode())
			s.Global.refIdx, s.Global.altIdx = t.Ref, t.Alt
			sites[t.Pos] = s
			order = append(order, t.Pos)
		}
	}

	var cigarScratch []alignedBase

	for fi, p := range w.Providers {
		it := p.NewIterator(shard)
		for it.Scan() {
			rec := it.Record()
			rv := Read{Rec: rec}
			if w.Filter.AdmitRead(rv) != Admit {
				continue
			}
			ordinal, ok := w.cellOrdinalFor(rv, fi)
			if !ok {
				continue
			}
			var umi string
			if w.Cfg.UMIMode() {
				umi, _ = rv.Tag(w.Cfg.UMITag)
			}

			blocks := cigarWalk(rec, cigarScratch)
			cigarScratch = blocks
			seq := unpackSeq(rec, &w.pools.qual)
			qual := rec.Qual

			for _, ab := range blocks {
				if targetMode {
					site, ok := sites[ab.pos]
					if !ok || site.DepthCapped(w.Cfg.PlpMaxDepth) {
						continue
					}
					base := BaseIndex(seq[ab.readIdx])
					w.Agg.Prepare(w.Cfg, w.Groups)
					w.Agg.Push(site, ordinal, umi, base, qual[ab.readIdx])
					site.depth++
					continue
				}
				site, ok := sites[ab.pos]
				if !ok {
					site = NewSiteState(len(w.Groups.Groups), w.Cfg.UMIMode(), w.pools)
					site.Reset(shard.StartRef.ID(), ab.pos, w.Cfg.UMIMode())
					sites[ab.pos] = site
					order = append(order, ab.pos)
				}
				if site.DepthCapped(w.Cfg.PlpMaxDepth) {
					continue
				}
				base := BaseIndex(seq[ab.readIdx])
				w.Agg.Prepare(w.Cfg, w.Groups)
				w.Agg.Push(site, ordinal, umi, base, qual[ab.readIdx])
				site.depth++
			}
		}
		if err := it.Close(); err != nil {
			return totals, E(ErrDecode, err, fmt.Sprintf("file %d", fi))
		}
	}

	if !targetMode {
		sort.Ints(order)
	}

	refID := shard.StartRef.ID()
	for _, pos := range order {
		site := sites[pos]
		site.RefID = refID
		res := w.Agg.Finalize(site, targetMode)
		if res == SiteSkip {
			continue
		}
		if err := emit(site); err != nil {
			return totals, err
		}
		totals.NS++
		totals.NrAD += int64(site.Global.nrAD)
		totals.NrDP += int64(site.Global.nrDP)
		totals.NrOth += int64(site.Global.nrOth)
	}
	log.Debug.Printf("csp worker: chromosome %s done, %d sites emitted", shard.StartRef.Name(), totals.NS)
	return totals, nil
}
