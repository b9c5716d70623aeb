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
	"github.com/grailbio/hts/sam"
)

// AdmitResult is the Read Filter's verdict on one read at one pileup
// column.
type AdmitResult int

const (
	// Admit means the read contributes an observation at this column.
	Admit AdmitResult = iota
	// Skip means the read is silently excluded (not an error).
	Skip
)

// ReadFilter applies read-admission rules 1-8, cheapest first: flags
// before tag lookups before the CIGAR length check. Rule 9 is enforced by
// the worker's CIGAR walk (see AdmitRead).
type ReadFilter struct {
	Cfg *Config
}

// AdmitRead applies rules 1-8 (everything that does not depend on the
// specific pileup column within the read). Rule 9 (deletion/ref-skip at
// this column) is enforced by the caller's CIGAR walk, which only ever
// emits M/=/X columns.
func (f *ReadFilter) AdmitRead(r Read) AdmitResult {
	cfg := f.Cfg
	rec := r.Rec

	// Rule 1: mapped, valid reference id.
	if rec.Flags&sam.Unmapped != 0 || r.RefID() < 0 {
		return Skip
	}
	// Rule 2: mapq.
	if r.MapQ() < cfg.MinMapQ {
		return Skip
	}
	// Rule 3: exclude-mask.
	if rec.Flags&cfg.RFlagFilter != 0 {
		return Skip
	}
	// Rule 4: require-mask.
	if rec.Flags&cfg.RFlagRequire != cfg.RFlagRequire {
		return Skip
	}
	// Rule 5: no-orphan.
	if cfg.NoOrphan && rec.Flags&sam.Paired != 0 && rec.Flags&sam.ProperPair == 0 {
		return Skip
	}
	// Rule 6: UMI tag presence.
	if cfg.UMIMode() {
		if _, ok := r.Tag(cfg.UMITag); !ok {
			return Skip
		}
	}
	// Rule 7: barcode tag presence.
	if cfg.BarcodeMode() {
		if _, ok := r.Tag(cfg.CellTag); !ok {
			return Skip
		}
	}
	// Rule 8: minimum aligned (M/=/X) length.
	if cfg.MinLen > 0 && r.CigarMEQXLen() < cfg.MinLen {
		return Skip
	}
	return Admit
}
