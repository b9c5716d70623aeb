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
	"github.com/grailbio/cellpileup/pileup"
	"github.com/grailbio/hts/sam"
)

// Base indices reuse the pileup package's nibble->enum mapping
// (A=0,C=1,G=2,T=3,other/N=4) instead of inventing a second table.
const (
	BaseA   = pileup.BaseA
	BaseC   = pileup.BaseC
	BaseG   = pileup.BaseG
	BaseT   = pileup.BaseT
	BaseOth = pileup.BaseX
	NBase   = pileup.NBase     // 4
	NCell   = pileup.NBaseEnum // 5, includes BaseOth
)

// BaseIndex maps a .bam seq nibble (0..15) to a 0..4 base index.
func BaseIndex(nibble byte) int {
	return int(pileup.Seq8ToEnumTable[nibble&0xf])
}

// Read is a read-only view of one aligned read considered by the core. It
// wraps the decoder's record for the duration of a single per-site
// callback; the core never copies the base/qual arrays out of it.
type Read struct {
	Rec *sam.Record
}

// RefID returns the reference id, or -1 if unmapped.
func (r Read) RefID() int {
	if r.Rec.Ref == nil {
		return -1
	}
	return r.Rec.Ref.ID()
}

// Pos returns the 0-based leftmost mapped position.
func (r Read) Pos() int {
	return r.Rec.Pos
}

// MapQ returns the mapping quality.
func (r Read) MapQ() byte {
	return r.Rec.MapQ
}

// Flags returns the bitwise SAM flags.
func (r Read) Flags() sam.Flags {
	return r.Rec.Flags
}

// Tag looks up an auxiliary tag by name, returning its string value and
// whether it was present and nonempty.
func (r Read) Tag(name string) (string, bool) {
	if len(name) != 2 {
		return "", false
	}
	aux := r.Rec.AuxFields.Get(sam.NewTag(name))
	if aux == nil {
		return "", false
	}
	v, ok := aux.Value().(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// CigarMEQXLen sums the lengths of the M/=/X CIGAR operators, i.e. the
// read's aligned length for the minimum-aligned-length admission rule.
func (r Read) CigarMEQXLen() int {
	total := 0
	for _, co := range r.Rec.Cigar {
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			total += co.Len()
		}
	}
	return total
}

// CellGroup identifies a unit of per-cell aggregation: either a cell
// barcode, a sample id, or (implicitly) a source file. The set of cell
// groups is fixed at startup and shared read-only between workers.
type CellGroup struct {
	Name    string
	Ordinal int
}

// CellGroupTable resolves a read to its cell group, either by barcode
// string lookup or by file ordinal. It is built once and never mutated
// after Prepare.
type CellGroupTable struct {
	// ByBarcode maps barcode string -> ordinal, when cell_tag is set.
	ByBarcode map[string]int
	// Groups is the fixed, ordered list of cell groups (one per barcode, or
	// one per sample-id/file in per-file mode).
	Groups []CellGroup
}

// Resolve returns the ordinal of the cell group a barcode belongs to, and
// whether the barcode is a known member. Non-member barcodes are
// silently dropped by the caller.
func (t *CellGroupTable) Resolve(barcode string) (int, bool) {
	ord, ok := t.ByBarcode[barcode]
	return ord, ok
}

// siteCell is the per-site, per-cell-group mutable state, reset at each
// site. bc/qu are indexed by the 0..4 base index above.
type siteCell struct {
	bc [NCell]int32
	qu [NCell][]byte

	umiSeen map[string]struct{} // nil unless UMI mode is active

	// Derived scalars, populated at finalize.
	ad, dp, oth int32
	gl          []float64
}

func (c *siteCell) reset(umiMode bool) {
	for i := range c.bc {
		c.bc[i] = 0
		if c.qu[i] != nil {
			c.qu[i] = c.qu[i][:0]
		}
	}
	c.ad, c.dp, c.oth = 0, 0, 0
	c.gl = c.gl[:0]
	if umiMode {
		for k := range c.umiSeen {
			delete(c.umiSeen, k)
		}
	}
}

// siteGlobal is the per-site global state, summed across cell groups and
// reset at each site.
type siteGlobal struct {
	bc            [NCell]int64
	tc            int64
	infRef, infAlt int
	refIdx, altIdx int
	nrAD, nrDP, nrOth int
}

func (g *siteGlobal) reset() {
	for i := range g.bc {
		g.bc[i] = 0
	}
	g.tc = 0
	g.infRef, g.infAlt = -1, -1
	g.refIdx, g.altIdx = -1, -1
	g.nrAD, g.nrDP, g.nrOth = 0, 0, 0
}

// SiteState bundles the global and per-cell-group state for one genomic
// site; the worker allocates one SiteState per open site and keeps it
// until the chromosome is finalized.
type SiteState struct {
	RefID int
	Pos   int

	Global siteGlobal
	Cells  []siteCell

	// depth counts admitted pushes at this site so far, for the max-depth
	// cap: once reached, further reads are ignored for this site,
	// mirroring htslib's mpileup depth bound.
	depth int

	pools *workerPools
}

// DepthCapped reports whether the site has reached maxDepth pushes
// already. maxDepth <= 0 means unbounded.
func (s *SiteState) DepthCapped(maxDepth int) bool {
	return maxDepth > 0 && s.depth >= maxDepth
}

// NewSiteState allocates per-site state for nCells cell groups.
func NewSiteState(nCells int, umiMode bool, pools *workerPools) *SiteState {
	s := &SiteState{
		Cells: make([]siteCell, nCells),
		pools: pools,
	}
	if umiMode {
		for i := range s.Cells {
			s.Cells[i].umiSeen = make(map[string]struct{})
		}
	}
	return s
}

// Reset clears per-site fields ahead of the next site. Cell-group
// identities and pool backing memory persist: the string/quality pools
// are worker-lifetime arenas, not reset here.
func (s *SiteState) Reset(refID, pos int, umiMode bool) {
	s.RefID, s.Pos = refID, pos
	s.Global.reset()
	s.depth = 0
	for i := range s.Cells {
		s.Cells[i].reset(umiMode)
	}
}
