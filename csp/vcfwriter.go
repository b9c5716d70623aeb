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
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/cellpileup/pileup"
)

// buildShardRecord packs one emitted site into a shardRecord: the nonzero
// per-cell AD/DP/OTH values (1-based columns) and the rendered VCF lines,
// which carry the numeric RefID; the chromosome name is substituted at
// render time by a RefNamer.
func buildShardRecord(site *SiteState, cfg *Config) *shardRecord {
	r := &shardRecord{
		RefID: uint32(site.RefID),
		Pos:   uint32(site.Pos),
	}
	for i := range site.Cells {
		c := &site.Cells[i]
		if c.ad != 0 {
			r.AD = append(r.AD, cellVal{Col: uint32(i + 1), Value: uint32(c.ad)})
		}
		if c.dp != 0 {
			r.DP = append(r.DP, cellVal{Col: uint32(i + 1), Value: uint32(c.dp)})
		}
		if c.oth != 0 {
			r.OTH = append(r.OTH, cellVal{Col: uint32(i + 1), Value: uint32(c.oth)})
		}
	}
	r.VCFBase = buildBaseVCFLine(site)
	if cfg.IsGenotype {
		r.VCFCell = buildCellVCFLine(site, cfg)
	}
	return r
}

func baseChar(idx int) byte {
	if idx < 0 || idx >= NBase {
		return 'N'
	}
	return pileup.EnumToASCIITable[idx]
}

// buildBaseVCFLine renders the #CHROM POS ID REF ALT QUAL FILTER INFO
// record. chrom name substitution is left to the merger (which knows the
// reference name table); RefID is carried
// verbatim and rewritten to a name at merge time, exactly like the
// AD/DP/OTH local-column convention.
func buildBaseVCFLine(site *SiteState) string {
	g := &site.Global
	dp := g.bc[g.refIdx] + g.bc[g.altIdx]
	oth := g.tc - dp
	var buf bytes.Buffer
	w := tsv.NewWriter(&buf)
	w.WriteUint32(uint32(site.RefID))
	w.WriteUint32(uint32(site.Pos + 1))
	w.WriteString(".")
	w.WriteByte(baseChar(g.refIdx))
	w.WriteByte(baseChar(g.altIdx))
	w.WriteString(".")
	w.WriteString("PASS")
	w.WriteString(fmt.Sprintf("AD=%d;DP=%d;OTH=%d", g.bc[g.altIdx], dp, oth))
	_ = w.EndLine()
	_ = w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

// genotypeCall picks the minimum-PL entry and renders it as an "i/j" GT
// string: over ref(0)/alt(1) for the 3-entry vector, or over the 0..3
// base alphabet when doubleGL is set.
func genotypeCall(pl []float64, doubleGL bool, ref, alt int) string {
	best := 0
	for i := 1; i < len(pl); i++ {
		if pl[i] < pl[best] {
			best = i
		}
	}
	if !doubleGL {
		switch best {
		case 0:
			return "0/0"
		case 1:
			return "0/1"
		default:
			return "1/1"
		}
	}
	idx := 0
	for i := 0; i < NBase; i++ {
		for j := i; j < NBase; j++ {
			if idx == best {
				return fmt.Sprintf("%d/%d", i, j)
			}
			idx++
		}
	}
	return "./."
}

// buildCellVCFLine extends the base record with the
// GT:AD:DP:OTH:PL:ALL format and one column per cell group.
func buildCellVCFLine(site *SiteState, cfg *Config) string {
	base := buildBaseVCFLine(site)
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteByte('\t')
	sb.WriteString("GT:AD:DP:OTH:PL:ALL")
	for i := range site.Cells {
		c := &site.Cells[i]
		sb.WriteByte('\t')
		gt := "./."
		plStr := "."
		if cfg.IsGenotype && len(c.gl) > 0 {
			gt = genotypeCall(c.gl, cfg.DoubleGL, site.Global.refIdx, site.Global.altIdx)
			parts := make([]string, len(c.gl))
			for j, v := range c.gl {
				parts[j] = strconv.FormatFloat(v, 'f', 0, 64)
			}
			plStr = strings.Join(parts, ",")
		}
		allParts := make([]string, NBase)
		for b := 0; b < NBase; b++ {
			allParts[b] = strconv.Itoa(int(c.bc[b]))
		}
		fmt.Fprintf(&sb, "%s:%d:%d:%d:%s:%s", gt, c.ad, c.dp, c.oth, plStr, strings.Join(allParts, ","))
	}
	return sb.String()
}
