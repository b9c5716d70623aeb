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
package main

/*
cellpileup computes per-cell allele counts at a set of genomic sites
across one or more indexed alignment files, emitting sparse AD/DP/OTH
count matrices and a variant-call summary in VCF form.
*/

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	gbam "github.com/grailbio/cellpileup/encoding/bam"
	"github.com/grailbio/cellpileup/encoding/bamprovider"
	"github.com/grailbio/cellpileup/csp"
	"github.com/grailbio/cellpileup/jfile"
	"github.com/grailbio/cellpileup/snpdb"
	"github.com/grailbio/hts/sam"
)

var (
	barcodeFile  = flag.String("barcode-file", "", "One cell barcode per line; sets barcode mode. Mutually exclusive with -sample-file")
	sampleFile   = flag.String("sample-file", "", "One sample id per line, one per input file, in input order; sets per-file cell-group naming. Mutually exclusive with -barcode-file")
	snpListPath  = flag.String("snp-list", "", "Tab-separated (chrom, 1-based pos, ref, alt) target list; enables target mode. Empty means chromosome-wise scan mode")
	cellTag      = flag.String("cell-tag", "CB", "Auxiliary tag holding the cell barcode; ignored unless -barcode-file is set")
	umiTag       = flag.String("umi-tag", "", "Auxiliary tag holding the UMI; empty disables UMI deduplication")
	minMapQ      = flag.Int("min-mapq", 20, "Minimum mapping quality, inclusive")
	minLen       = flag.Int("min-len", 30, "Minimum total M/=/X CIGAR length")
	minCount     = flag.Int("min-count", 20, "Minimum total retained reads at a site to emit it")
	minMAF       = flag.Float64("min-maf", 0.0, "Minimum minor-allele fraction of total retained reads, in [0, 0.5]")
	rflagFilter  = flag.Int("rflag-filter", 0x704, "Reads with a FLAG bit intersecting this value are skipped")
	rflagRequire = flag.Int("rflag-require", 0, "Reads must have every FLAG bit in this value set")
	noOrphan     = flag.Bool("no-orphan", false, "Reject paired-but-not-proper-pair reads")
	plpMaxDepth  = flag.Int("plp-max-depth", 0, "Pileup depth cap per site; <= 0 means unbounded")
	isGenotype   = flag.Bool("genotype", false, "Compute and emit genotype likelihoods")
	doubleGL     = flag.Bool("double-gl", false, "Emit 10-entry PL instead of 3-entry; requires -genotype")
	nThread      = flag.Int("nthread", 1, "Worker pool size; 1 uses the single-thread fast path")
	isOutZip     = flag.Bool("gzip", false, "Gzip-compress the final output files")
	outDir       = flag.String("out-dir", "cellpileup-out", "Output directory; created if it does not already exist")
)

func cellpileupUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bam1 [bam2 ...]\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

// readLines reads one trimmed, nonempty, non-comment line per entry from
// path, in file order -- the common shape of both -barcode-file and
// -sample-file.
func readLines(ctx context.Context, path string) ([]string, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil {
			log.Error.Printf("cellpileup: closing %s: %v", path, cerr)
		}
	}()
	var out []string
	scanner := bufio.NewScanner(f.Reader(ctx))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}
	return out, nil
}

// buildCellGroups resolves the cell-group table: barcode mode when
// -barcode-file is set, per-file sample-id mode when -sample-file is set
// (one name per input file, in order), else a per-file mode with
// synthesized names.
func buildCellGroups(ctx context.Context, nFiles int) (*csp.CellGroupTable, error) {
	if *barcodeFile != "" && *sampleFile != "" {
		return nil, fmt.Errorf("-barcode-file and -sample-file are mutually exclusive")
	}
	if *barcodeFile != "" {
		barcodes, err := readLines(ctx, *barcodeFile)
		if err != nil {
			return nil, err
		}
		t := &csp.CellGroupTable{ByBarcode: make(map[string]int, len(barcodes))}
		for i, bc := range barcodes {
			t.ByBarcode[bc] = i
			t.Groups = append(t.Groups, csp.CellGroup{Name: bc, Ordinal: i})
		}
		return t, nil
	}
	var names []string
	if *sampleFile != "" {
		var err error
		if names, err = readLines(ctx, *sampleFile); err != nil {
			return nil, err
		}
		if len(names) != nFiles {
			return nil, fmt.Errorf("-sample-file has %d entries, but %d input files were given", len(names), nFiles)
		}
	} else {
		names = make([]string, nFiles)
		for i := range names {
			names[i] = fmt.Sprintf("sample%d", i)
		}
	}
	t := &csp.CellGroupTable{}
	for i, name := range names {
		t.Groups = append(t.Groups, csp.CellGroup{Name: name, Ordinal: i})
	}
	return t, nil
}

func buildConfig(nFiles int) *csp.Config {
	cfg := &csp.Config{
		MinMapQ:      byte(*minMapQ),
		MinLen:       *minLen,
		MinCount:     *minCount,
		MinMAF:       *minMAF,
		RFlagFilter:  sam.Flags(*rflagFilter),
		RFlagRequire: sam.Flags(*rflagRequire),
		NoOrphan:     *noOrphan,
		PlpMaxDepth:  *plpMaxDepth,
		UMITag:       *umiTag,
		IsGenotype:   *isGenotype,
		DoubleGL:     *doubleGL,
		NThread:      *nThread,
		IsOutZip:     *isOutZip,
		OutDir:       *outDir,
	}
	if *barcodeFile != "" {
		cfg.CellTag = *cellTag
	}
	cfg.SamplesPath = filepath.Join(*outDir, "samples.tsv")
	return cfg
}

// writeSamples writes one cell-group name per line, in ordinal order, as
// a samples.tsv companion file (see SPEC_FULL.md's supplemented-features
// section).
func writeSamples(ctx context.Context, cfg *csp.Config, groups *csp.CellGroupTable) (err error) {
	f, err := jfile.Create(ctx, cfg.SamplesPath, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	for _, g := range groups.Groups {
		if _, err = fmt.Fprintln(w, g.Name); err != nil {
			return err
		}
	}
	return w.Flush()
}

// buildChroms constructs the per-chromosome dispatch list in header
// reference order: scan mode covers every reference, target mode covers
// only references the SNP list has entries for, each carrying its
// pre-sorted targets.
func buildChroms(header *sam.Header, snps *snpdb.SNPList) []csp.Chrom {
	var chroms []csp.Chrom
	for _, ref := range header.Refs() {
		var targets []csp.Target
		if snps != nil {
			targets = snps.ToTargets(ref.Name())
			if len(targets) == 0 {
				continue
			}
		}
		chroms = append(chroms, csp.Chrom{
			Shard: gbam.Shard{
				StartRef: ref,
				EndRef:   ref,
				Start:    0,
				End:      ref.Len(),
			},
			Targets: targets,
		})
	}
	return chroms
}

func refNamer(header *sam.Header) csp.RefNamer {
	refs := header.Refs()
	return func(refID uint32) string {
		if int(refID) < len(refs) {
			return refs[refID].Name()
		}
		return fmt.Sprintf("ref%d", refID)
	}
}

func outPath(cfg *csp.Config, name string) string {
	p := filepath.Join(cfg.OutDir, name)
	if cfg.IsOutZip {
		p += ".gz"
	}
	return p
}

func run(ctx context.Context, bamPaths []string) error {
	if len(bamPaths) == 0 {
		return fmt.Errorf("at least one input alignment file is required")
	}
	cfg := buildConfig(len(bamPaths))
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.LogDebugConfig()

	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %v", cfg.OutDir, err)
	}

	groups, err := buildCellGroups(ctx, len(bamPaths))
	if err != nil {
		return err
	}
	if err := writeSamples(ctx, cfg, groups); err != nil {
		return err
	}

	providers := make([]bamprovider.Provider, len(bamPaths))
	for i, p := range bamPaths {
		providers[i] = bamprovider.NewProvider(p)
	}
	defer func() {
		for i, p := range providers {
			if cerr := p.Close(); cerr != nil {
				log.Error.Printf("cellpileup: closing %s: %v", bamPaths[i], cerr)
			}
		}
	}()

	header, err := providers[0].GetHeader()
	if err != nil {
		return fmt.Errorf("reading header of %s: %v", bamPaths[0], err)
	}

	var snps *snpdb.SNPList
	if *snpListPath != "" {
		if snps, err = snpdb.Load(ctx, *snpListPath); err != nil {
			return err
		}
	}
	chroms := buildChroms(header, snps)
	if len(chroms) == 0 {
		return fmt.Errorf("no chromosomes to process (empty SNP list intersection with header?)")
	}
	namer := refNamer(header)

	adPath, dpPath, othPath := outPath(cfg, "AD.mtx"), outPath(cfg, "DP.mtx"), outPath(cfg, "OTH.mtx")
	vcfBasePath, vcfCellsPath := outPath(cfg, "base.vcf"), outPath(cfg, "cells.vcf")

	vcfBase, err := jfile.Create(ctx, vcfBasePath, cfg.IsOutZip)
	if err != nil {
		return err
	}
	defer func() { _ = vcfBase.Close() }()
	var vcfCells *jfile.File
	if cfg.IsGenotype {
		if vcfCells, err = jfile.Create(ctx, vcfCellsPath, cfg.IsOutZip); err != nil {
			return err
		}
		defer func() { _ = vcfCells.Close() }()
	}

	if cfg.NThread == 1 {
		if cfg.IsOutZip {
			return fmt.Errorf("-gzip is not supported with nthread=1: the single-thread fast path rewrites matrix headers in place, which requires a seekable, uncompressed file")
		}
		mf := csp.SingleThreadMatrixFiles{}
		if mf.AD, err = os.Create(adPath); err != nil {
			return err
		}
		defer func() { _ = mf.AD.Close() }()
		if mf.DP, err = os.Create(dpPath); err != nil {
			return err
		}
		defer func() { _ = mf.DP.Close() }()
		if mf.OTH, err = os.Create(othPath); err != nil {
			return err
		}
		defer func() { _ = mf.OTH.Close() }()

		var vcfCellsW io.Writer = ioutil.Discard
		if vcfCells != nil {
			vcfCellsW = vcfCells
		}
		mr, err := csp.RunSingleThread(cfg, groups, providers, chroms, mf, vcfBase, vcfCellsW, namer)
		if err != nil {
			return err
		}
		log.Printf("cellpileup: done, %d sites, %d cells", mr.NSites, mr.NCells)
		return nil
	}

	sched := &csp.Scheduler{Cfg: cfg, Groups: groups, Providers: providers, TempDir: os.TempDir()}
	results, err := sched.Run(chroms)
	if err != nil {
		return err
	}

	adOut, err := jfile.Create(ctx, adPath, cfg.IsOutZip)
	if err != nil {
		return err
	}
	defer func() { _ = adOut.Close() }()
	dpOut, err := jfile.Create(ctx, dpPath, cfg.IsOutZip)
	if err != nil {
		return err
	}
	defer func() { _ = dpOut.Close() }()
	othOut, err := jfile.Create(ctx, othPath, cfg.IsOutZip)
	if err != nil {
		return err
	}
	defer func() { _ = othOut.Close() }()

	mw := csp.MatrixWriters{AD: adOut, DP: dpOut, OTH: othOut}
	var vcfCellsW io.Writer = ioutil.Discard
	if vcfCells != nil {
		vcfCellsW = vcfCells
	}
	mr, err := csp.MergeMatrices(results, int64(len(groups.Groups)), mw, vcfBase, vcfCellsW, cfg.IsGenotype, namer)
	if err != nil {
		return err
	}
	csp.Cleanup(results)
	log.Printf("cellpileup: done, %d sites, %d cells", mr.NSites, mr.NCells)
	return nil
}

func main() {
	flag.Usage = cellpileupUsage
	shutdown := grail.Init()
	defer shutdown()

	bamPaths := flag.Args()
	ctx := vcontext.Background()
	if err := run(ctx, bamPaths); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
