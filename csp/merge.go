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
	"bufio"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
)

// MatrixWriters bundles the three sparse-matrix outputs (AD, DP, OTH).
type MatrixWriters struct {
	AD, DP, OTH io.Writer
}

// writeMatrixHeader writes the MatrixMarket preamble: the two comment
// lines, then the totals line.
func writeMatrixHeader(w io.Writer, nSites, nCells, nRecords int64) error {
	_, err := fmt.Fprintf(w, "%%%%MatrixMarket matrix coordinate integer general\n%%\n%d\t%d\t%d\n", nSites, nCells, nRecords)
	return err
}

func renderCellVals(w io.Writer, row int64, vals []cellVal) error {
	for _, v := range vals {
		if _, err := fmt.Fprintf(w, "%d\t%d\t%d\n", row, v.Col, v.Value); err != nil {
			return err
		}
	}
	return nil
}

// RefNamer resolves a worker-local RefID to a chromosome name, for
// rewriting VCF lines at merge/render time. Implemented by the caller
// (cmd/cellpileup), which has the alignment header in hand.
type RefNamer func(refID uint32) string

// renderVCFLine rewrites a shardRecord's leading numeric RefID field to
// its chromosome name and writes the line.
func renderVCFLine(w io.Writer, line string, namer RefNamer) error {
	idx := strings.IndexByte(line, '\t')
	if idx < 0 {
		return fmt.Errorf("csp merge: malformed VCF line %q", line)
	}
	refID, err := strconv.ParseUint(line[:idx], 10, 32)
	if err != nil {
		return fmt.Errorf("csp merge: malformed VCF refID in %q: %v", line, err)
	}
	_, err = fmt.Fprintf(w, "%s%s\n", namer(uint32(refID)), line[idx:])
	return err
}

// MergeResult is the fully computed totals used for the final header.
type MergeResult struct {
	NSites, NCells      int64
	NrAD, NrDP, NrOth   int64
}

// MergeMatrices merges per-shard sparse-matrix output: it reads
// shard temp files (recordio streams of shardRecord) in shard order,
// assigns global row indices via a running counter incremented once per
// site, and writes the three final MatrixMarket files plus the two VCF
// outputs. Totals are precomputed from shard sums before any body line is
// written, matching "write the header first with the totals precomputed".
func MergeMatrices(results []ShardResult, nCells int64, mw MatrixWriters, vcfBase, vcfCells io.Writer, genotype bool, namer RefNamer) (MergeResult, error) {
	var mr MergeResult
	mr.NCells = nCells
	for _, r := range results {
		mr.NSites += r.Totals.NS
		mr.NrAD += r.Totals.NrAD
		mr.NrDP += r.Totals.NrDP
		mr.NrOth += r.Totals.NrOth
	}

	if err := writeMatrixHeader(mw.AD, mr.NSites, mr.NCells, mr.NrAD); err != nil {
		return mr, E(ErrTempWrite, err)
	}
	if err := writeMatrixHeader(mw.DP, mr.NSites, mr.NCells, mr.NrDP); err != nil {
		return mr, E(ErrTempWrite, err)
	}
	if err := writeMatrixHeader(mw.OTH, mr.NSites, mr.NCells, mr.NrOth); err != nil {
		return mr, E(ErrTempWrite, err)
	}

	var row int64
	var gotNS, gotAD, gotDP, gotOth int64
	for shardIdx, r := range results {
		f, err := os.Open(r.TempPath)
		if err != nil {
			return mr, E(ErrInputOpen, err, fmt.Sprintf("shard %d temp file", shardIdx))
		}
		scanner := newShardScanner(f)
		for scanner.Scan() {
			rec := scanner.Get().(*shardRecord)
			row++
			gotNS++
			gotAD += int64(len(rec.AD))
			gotDP += int64(len(rec.DP))
			gotOth += int64(len(rec.OTH))
			if err := renderCellVals(mw.AD, row, rec.AD); err != nil {
				_ = f.Close()
				return mr, E(ErrTempWrite, err)
			}
			if err := renderCellVals(mw.DP, row, rec.DP); err != nil {
				_ = f.Close()
				return mr, E(ErrTempWrite, err)
			}
			if err := renderCellVals(mw.OTH, row, rec.OTH); err != nil {
				_ = f.Close()
				return mr, E(ErrTempWrite, err)
			}
			if err := renderVCFLine(vcfBase, rec.VCFBase, namer); err != nil {
				_ = f.Close()
				return mr, E(ErrTempWrite, err)
			}
			if genotype && rec.VCFCell != "" {
				if err := renderVCFLine(vcfCells, rec.VCFCell, namer); err != nil {
					_ = f.Close()
					return mr, E(ErrTempWrite, err)
				}
			}
		}
		scanErr := scanner.Err()
		_ = f.Close()
		if scanErr != nil && scanErr != io.EOF {
			return mr, E(ErrDecode, scanErr, fmt.Sprintf("shard %d temp file", shardIdx))
		}
	}

	// Final verification: merged totals must equal the sum of shard totals.
	if gotNS != mr.NSites || gotAD != mr.NrAD || gotDP != mr.NrDP || gotOth != mr.NrOth {
		return mr, E(ErrMergeMismatch, fmt.Errorf(
			"merged totals (ns=%d ad=%d dp=%d oth=%d) != shard sums (ns=%d ad=%d dp=%d oth=%d)",
			gotNS, gotAD, gotDP, gotOth, mr.NSites, mr.NrAD, mr.NrDP, mr.NrOth))
	}
	return mr, nil
}

// RewriteHeader implements the single-thread fast path's header patch: the
// body was already written directly to path with a placeholder header (a
// run of "%"-prefixed lines written by writePlaceholderHeader below);
// this reads those header lines, writes the true totals line after them,
// streams the remainder unchanged to a sibling temp file, and renames it
// atomically over the original.
func RewriteHeader(path string, nSites, nCells, nRecords int64) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return E(ErrInputOpen, err, path)
	}
	defer func() {
		if e := src.Close(); e != nil && err == nil {
			err = e
		}
	}()

	tmp, err := ioutil.TempFile(dirOf(path), "cellpileup_rewrite_*")
	if err != nil {
		return E(ErrTempWrite, err, path)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			if e := tmp.Close(); e != nil && err == nil {
				err = e
			}
		}
	}()

	r := bufio.NewReader(src)
	w := bufio.NewWriter(tmp)
	wroteTotals := false
	for {
		line, readErr := r.ReadString('\n')
		if len(line) > 0 {
			if strings.HasPrefix(line, "%") {
				if _, err = w.WriteString(line); err != nil {
					return E(ErrTempWrite, err, tmpPath)
				}
			} else {
				if !wroteTotals {
					if _, err = fmt.Fprintf(w, "%d\t%d\t%d\n", nSites, nCells, nRecords); err != nil {
						return E(ErrTempWrite, err, tmpPath)
					}
					wroteTotals = true
				}
				if _, err = w.WriteString(line); err != nil {
					return E(ErrTempWrite, err, tmpPath)
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return E(ErrDecode, readErr, path)
		}
	}
	if !wroteTotals {
		if _, err = fmt.Fprintf(w, "%d\t%d\t%d\n", nSites, nCells, nRecords); err != nil {
			return E(ErrTempWrite, err, tmpPath)
		}
	}
	if err = w.Flush(); err != nil {
		return E(ErrTempWrite, err, tmpPath)
	}
	if err = tmp.Close(); err != nil {
		return E(ErrTempWrite, err, tmpPath)
	}
	tmp = nil
	if err = os.Rename(tmpPath, path); err != nil {
		return E(ErrRename, err, tmpPath, path)
	}
	log.Debug.Printf("csp merge: rewrote header of %s (ns=%d ncells=%d nrecords=%d)", path, nSites, nCells, nRecords)
	return nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// writePlaceholderHeader writes the two MatrixMarket comment lines without
// a known totals line yet, for the single-thread fast path: the body is
// appended directly afterward, and RewriteHeader patches the true totals
// line back in once the run completes.
func writePlaceholderHeader(w io.Writer) error {
	_, err := io.WriteString(w, "%%MatrixMarket matrix coordinate integer general\n%\n")
	return err
}
