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
	"io"
	"io/ioutil"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	gbam "github.com/grailbio/cellpileup/encoding/bam"
	"github.com/grailbio/cellpileup/encoding/bamprovider"
)

// Chrom is one unit of dispatch: a chromosome shard plus, in target mode,
// the SNP-list targets that fall on it. Shards are dispatched in the
// order the caller supplies: global row indices follow shard dispatch
// order, determined by the chromosome list order, not completion order.
type Chrom struct {
	Shard   gbam.Shard
	Targets []Target // nil in scan mode
}

// ShardResult is one chromosome worker's outcome, kept in dispatch order
// regardless of completion order so the merger can iterate sequentially.
type ShardResult struct {
	TempPath string
	Totals   ShardTotals
	Err      error
}

// Scheduler partitions work by chromosome, dispatches to a fixed worker
// pool, waits for completion, and propagates errors.
type Scheduler struct {
	Cfg       *Config
	Groups    *CellGroupTable
	Providers []bamprovider.Provider
	TempDir   string
}

// Run dispatches chroms across Cfg.NThread workers and returns one
// ShardResult per chrom, in chrom order. When Cfg.NThread == 1, the
// single-thread fast path is used by the caller instead (see
// RunSingleThread); Run always goes through the temp-file + merge path.
//
// Parallelism is bounded by slicing chroms into Cfg.NThread contiguous
// jobs, each processed sequentially by one goroutine, rather than
// spawning one goroutine per chromosome: traverse.Each's task count is
// the job count, not len(chroms).
func (s *Scheduler) Run(chroms []Chrom) ([]ShardResult, error) {
	results := make([]ShardResult, len(chroms))
	nJobs := s.Cfg.NThread
	if nJobs > len(chroms) {
		nJobs = len(chroms)
	}
	if nJobs < 1 {
		nJobs = 1
	}
	err := traverse.Each(nJobs, func(jobIdx int) error {
		startIdx := (jobIdx * len(chroms)) / nJobs
		endIdx := ((jobIdx + 1) * len(chroms)) / nJobs
		for i := startIdx; i < endIdx; i++ {
			f, err := ioutil.TempFile(s.TempDir, "cellpileup_shard_*.rio")
			if err != nil {
				return E(ErrTempWrite, err)
			}
			results[i].TempPath = f.Name()

			w := NewWorker(s.Cfg, s.Groups)
			w.Providers = s.Providers
			sw := newShardWriter(f)
			totals, runErr := w.Run(chroms[i].Shard, chroms[i].Targets, func(site *SiteState) error {
				sw.Append(buildShardRecord(site, s.Cfg))
				return nil
			})
			if runErr != nil {
				results[i].Err = runErr
				_ = f.Close()
				return runErr
			}
			if err := sw.Finish(); err != nil {
				results[i].Err = E(ErrTempWrite, err)
				_ = f.Close()
				return results[i].Err
			}
			results[i].Totals = totals
			if err := f.Close(); err != nil {
				results[i].Err = err
				return err
			}
		}
		return nil
	})
	// traverse.Each awaits every job before returning, so no worker leaks on
	// abort. A job stops at its first failing chrom; the chroms after it in
	// that job's slice are not processed.
	if err != nil {
		log.Error.Printf("csp scheduler: shard run failed: %v", err)
		return results, err
	}
	return results, nil
}

// Cleanup removes every shard's temp file; called after a successful
// merge.
func Cleanup(results []ShardResult) {
	for _, r := range results {
		if r.TempPath != "" {
			if err := os.Remove(r.TempPath); err != nil {
				log.Error.Printf("csp scheduler: failed to remove temp file %s: %v", r.TempPath, err)
			}
		}
	}
}

// SingleThreadMatrixFiles bundles the three final sparse-matrix outputs as
// *os.File, rather than io.Writer, because RunSingleThread must reopen each
// by path to rewrite its header once the true totals are known.
type SingleThreadMatrixFiles struct {
	AD, DP, OTH *os.File
}

// RunSingleThread implements the single-thread fast path: with
// Cfg.NThread == 1, the pool/temp-file/merge round trip is skipped entirely.
// Each chromosome's emitted sites are rendered directly to the final output
// files as they are produced, behind a placeholder MatrixMarket header;
// once every chromosome is done the true totals are known and the headers
// are rewritten in place (see RewriteHeader). Chromosomes are still
// processed one at a time, in dispatch order, by a single Worker -- there
// is no worker pool to bound.
func RunSingleThread(cfg *Config, groups *CellGroupTable, providers []bamprovider.Provider, chroms []Chrom, mf SingleThreadMatrixFiles, vcfBase, vcfCells io.Writer, namer RefNamer) (MergeResult, error) {
	var mr MergeResult
	mr.NCells = int64(len(groups.Groups))

	if err := writePlaceholderHeader(mf.AD); err != nil {
		return mr, E(ErrTempWrite, err, mf.AD.Name())
	}
	if err := writePlaceholderHeader(mf.DP); err != nil {
		return mr, E(ErrTempWrite, err, mf.DP.Name())
	}
	if err := writePlaceholderHeader(mf.OTH); err != nil {
		return mr, E(ErrTempWrite, err, mf.OTH.Name())
	}

	w := NewWorker(cfg, groups)
	w.Providers = providers

	var row int64
	for _, c := range chroms {
		_, err := w.Run(c.Shard, c.Targets, func(site *SiteState) error {
			rec := buildShardRecord(site, cfg)
			row++
			mr.NSites++
			mr.NrAD += int64(len(rec.AD))
			mr.NrDP += int64(len(rec.DP))
			mr.NrOth += int64(len(rec.OTH))
			if err := renderCellVals(mf.AD, row, rec.AD); err != nil {
				return E(ErrTempWrite, err, mf.AD.Name())
			}
			if err := renderCellVals(mf.DP, row, rec.DP); err != nil {
				return E(ErrTempWrite, err, mf.DP.Name())
			}
			if err := renderCellVals(mf.OTH, row, rec.OTH); err != nil {
				return E(ErrTempWrite, err, mf.OTH.Name())
			}
			if err := renderVCFLine(vcfBase, rec.VCFBase, namer); err != nil {
				return E(ErrTempWrite, err)
			}
			if cfg.IsGenotype && rec.VCFCell != "" {
				if err := renderVCFLine(vcfCells, rec.VCFCell, namer); err != nil {
					return E(ErrTempWrite, err)
				}
			}
			return nil
		})
		if err != nil {
			return mr, err
		}
	}

	for _, f := range []*os.File{mf.AD, mf.DP, mf.OTH} {
		if err := f.Sync(); err != nil {
			return mr, E(ErrTempWrite, err, f.Name())
		}
		if err := f.Close(); err != nil {
			return mr, E(ErrTempWrite, err, f.Name())
		}
	}
	if err := RewriteHeader(mf.AD.Name(), mr.NSites, mr.NCells, mr.NrAD); err != nil {
		return mr, err
	}
	if err := RewriteHeader(mf.DP.Name(), mr.NSites, mr.NCells, mr.NrDP); err != nil {
		return mr, err
	}
	if err := RewriteHeader(mf.OTH.Name(), mr.NSites, mr.NCells, mr.NrOth); err != nil {
		return mr, err
	}
	log.Debug.Printf("csp scheduler: single-thread run done, ns=%d ad=%d dp=%d oth=%d", mr.NSites, mr.NrAD, mr.NrDP, mr.NrOth)
	return mr, nil
}
