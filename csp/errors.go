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

// Package csp implements the single-cell SNP pileup core: the read filter,
// per-site aggregator, chromosome worker, shard scheduler, and output
// merger.
package csp

import (
	"github.com/grailbio/base/errors"
)

// Kind classifies a csp error. None of these are recoverable within a
// shard; each one aborts the shard cleanly and is reported by the
// scheduler after the completion barrier.
type Kind string

// Error kinds, one per failure mode the scheduler distinguishes.
const (
	ErrInvalidConfig Kind = "invalid_config"
	ErrInputOpen     Kind = "input_open"
	ErrIndex         Kind = "index"
	ErrDecode        Kind = "decode"
	ErrOutOfMemory   Kind = "out_of_memory"
	ErrTempWrite     Kind = "temp_write"
	ErrMergeMismatch Kind = "merge_mismatch"
	ErrRename        Kind = "rename"
)

// E builds a csp error of the given kind, wrapping cause (which may be nil)
// with a component-prefixed context string, in the same style as
// errors.E(err, "context", ...) calls elsewhere in this tree.
func E(kind Kind, args ...interface{}) error {
	all := make([]interface{}, 0, len(args)+1)
	all = append(all, string(kind))
	all = append(all, args...)
	return errors.E(all...)
}
