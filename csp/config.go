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

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// Config is the single immutable configuration value built once by
// cmd/cellpileup and passed by pointer to every worker. Never copied,
// never mutated after construction.
type Config struct {
	MinMapQ  byte
	MinLen   int
	MinCount int
	MinMAF   float64

	RFlagFilter  sam.Flags
	RFlagRequire sam.Flags
	NoOrphan     bool

	PlpMaxDepth int

	CellTag string // "" means no barcode tag: per-file cell-group mode
	UMITag  string // "" means UMI mode is off

	IsGenotype bool
	DoubleGL   bool

	NThread  int
	IsOutZip bool

	OutDir      string
	SamplesPath string
}

// UMIMode reports whether UMI deduplication is active.
func (c *Config) UMIMode() bool { return c.UMITag != "" }

// BarcodeMode reports whether cell groups are resolved by barcode tag
// rather than by file ordinal.
func (c *Config) BarcodeMode() bool { return c.CellTag != "" }

// Validate checks the configuration invariants every shard assumes hold
// before it starts.
func (c *Config) Validate() error {
	if c.NThread < 1 {
		return E(ErrInvalidConfig, fmt.Errorf("nthread must be >= 1, got %d", c.NThread))
	}
	if c.MinMAF < 0 || c.MinMAF > 0.5 {
		return E(ErrInvalidConfig, fmt.Errorf("min_maf must be in [0, 0.5], got %v", c.MinMAF))
	}
	if c.DoubleGL && !c.IsGenotype {
		return E(ErrInvalidConfig, fmt.Errorf("double_gl requires is_genotype"))
	}
	return nil
}

// DebugString renders every configuration field on one line: a single
// operational dump logged once at startup when verbose logging is
// requested.
func (c *Config) DebugString() string {
	return fmt.Sprintf(
		"min_mapq=%d min_len=%d min_count=%d min_maf=%.3f rflag_filter=%d rflag_require=%d "+
			"no_orphan=%v plp_max_depth=%d cell_tag=%q umi_tag=%q is_genotype=%v double_gl=%v "+
			"nthread=%d is_out_zip=%v out_dir=%q samples_path=%q",
		c.MinMapQ, c.MinLen, c.MinCount, c.MinMAF, c.RFlagFilter, c.RFlagRequire,
		c.NoOrphan, c.PlpMaxDepth, c.CellTag, c.UMITag, c.IsGenotype, c.DoubleGL,
		c.NThread, c.IsOutZip, c.OutDir, c.SamplesPath)
}

// LogDebugConfig logs the configuration dump at debug verbosity.
func (c *Config) LogDebugConfig() {
	log.Debug.Printf("csp: config %s", c.DebugString())
}
