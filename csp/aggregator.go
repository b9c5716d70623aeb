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

// Aggregator drives one genomic site across all input files: dispatches
// filtered reads to cell groups, deduplicates UMIs, and computes allele
// counts, genotype likelihoods, and the inferred ref/alt.
type Aggregator struct {
	Cfg    *Config
	Groups *CellGroupTable
}

// Prepare records the configuration and the cell-group table. The
// CellGroupTable itself is shared read-only across workers; Prepare
// allocates nothing (per-cell state lives in SiteState, pools in the
// worker).
func (a *Aggregator) Prepare(cfg *Config, groups *CellGroupTable) {
	a.Cfg = cfg
	a.Groups = groups
}

// Push inserts one filter-passed read's observation at the current site.
// cellOrdinal is the resolved cell-group index (by barcode lookup, or the
// file ordinal in per-file mode); umi is the read's UMI tag value, or ""
// when UMI mode is off.
func (a *Aggregator) Push(site *SiteState, cellOrdinal int, umi string, base int, qual byte) {
	cell := &site.Cells[cellOrdinal]
	if a.Cfg.UMIMode() {
		if _, seen := cell.umiSeen[umi]; seen {
			return
		}
		// Copy the UMI into the pool before inserting: the set must never hold
		// a reference to caller-owned (possibly read-recycled) memory.
		interned := site.pools.str.Intern([]byte(umi))
		cell.umiSeen[interned] = struct{}{}
	}
	cell.bc[base]++
	cell.qu[base] = append(cell.qu[base], qual)
}

// FinalizeResult is Finalize's verdict.
type FinalizeResult int

const (
	// Emit means the site should be written to the outputs.
	Emit FinalizeResult = iota
	// SiteSkip means the site failed min_count/min_maf and is dropped.
	SiteSkip
)

// Finalize aggregates per-cell sums into global sums and decides whether
// to emit the site.
func (a *Aggregator) Finalize(site *SiteState, presetRefAlt bool) FinalizeResult {
	cfg := a.Cfg
	g := &site.Global

	for i := range site.Cells {
		c := &site.Cells[i]
		for b := 0; b < NCell; b++ {
			g.bc[b] += int64(c.bc[b])
		}
	}
	for b := 0; b < NCell; b++ {
		g.tc += g.bc[b]
	}

	// tc < 1 is always skipped, independent of min_count, since the
	// inferred-allele computation is undefined on an empty site.
	if g.tc < 1 {
		return SiteSkip
	}
	if g.tc < int64(cfg.MinCount) {
		return SiteSkip
	}

	g.infRef, g.infAlt = inferAllele(&g.bc)
	if !presetRefAlt {
		g.refIdx, g.altIdx = g.infRef, g.infAlt
	}

	if float64(g.bc[g.infAlt]) < cfg.MinMAF*float64(g.tc) {
		return SiteSkip
	}

	for i := range site.Cells {
		c := &site.Cells[i]
		ref, alt := g.refIdx, g.altIdx
		c.ad = c.bc[alt]
		c.dp = c.bc[ref] + c.ad
		var tcCell int32
		for b := 0; b < NCell; b++ {
			tcCell += c.bc[b]
		}
		c.oth = tcCell - c.dp
		if c.ad != 0 {
			g.nrAD++
		}
		if c.dp != 0 {
			g.nrDP++
		}
		if c.oth != 0 {
			g.nrOth++
		}

		if cfg.IsGenotype {
			qmat := buildQualMatrix(c)
			c.gl = qualMatrixToGeno(&qmat, &c.bc, ref, alt, cfg.DoubleGL)
		}
	}
	return Emit
}

// inferAllele implements the inferred-allele rule: scan bc[0..3] in
// canonical order; inf_rid = argmax, inf_aid = argmax of the remaining
// three. Ties favor the lower canonical index. N (index 4) is never
// chosen.
func inferAllele(bc *[NCell]int64) (ref, alt int) {
	ref = 0
	for i := 1; i < NBase; i++ {
		if bc[i] > bc[ref] {
			ref = i
		}
	}
	alt = -1
	for i := 0; i < NBase; i++ {
		if i == ref {
			continue
		}
		if alt == -1 || bc[i] > bc[alt] {
			alt = i
		}
	}
	return ref, alt
}
