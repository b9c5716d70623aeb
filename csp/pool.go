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
	gunsafe "github.com/grailbio/base/unsafe"
)

// slabSize is the chunk size the string pool grows by: a bump allocator
// with worker lifetime and no per-site reset, since several sites may be
// open (mid-pileup) at once.
const slabSize = 64 * 1024

// stringPool is a per-worker arena for UMI string slots. Pool lifetime is
// the worker's lifetime: it never shrinks, and bytes are only reclaimed
// when the whole worker exits, which is an acceptable trade given one
// worker handles one chromosome's UMI strings, not the whole genome.
type stringPool struct {
	slabs [][]byte
	cur   []byte
}

// Intern copies s into the arena and returns a string backed by the copy.
// The caller's backing array (a possibly read-recycled buffer) is never
// retained.
func (p *stringPool) Intern(s []byte) string {
	if cap(p.cur)-len(p.cur) < len(s) {
		size := slabSize
		if size < len(s) {
			size = len(s)
		}
		p.slabs = append(p.slabs, make([]byte, 0, size))
		p.cur = p.slabs[len(p.slabs)-1]
	}
	start := len(p.cur)
	p.cur = append(p.cur, s...)
	return gunsafe.BytesToString(p.cur[start : start+len(s)])
}

// qualPool is a per-worker reusable scratch byte buffer, amortizing
// allocator churn. Its one user is worker.go's unpackSeq, which unpacks
// each read's sequence into it; base qualities are appended to
// siteCell.qu[...] directly and do not pass through this pool.
type qualPool struct {
	scratch []byte
}

// Acquire returns a scratch buffer of at least n bytes, reused across
// calls.
func (p *qualPool) Acquire(n int) []byte {
	if cap(p.scratch) < n {
		p.scratch = make([]byte, n)
	}
	return p.scratch[:n]
}

// workerPools bundles the arenas a single chromosome worker owns. No
// cross-thread transfer; one instance per Worker (see NewWorker).
type workerPools struct {
	str  stringPool
	qual qualPool
}

func newWorkerPools() *workerPools {
	return &workerPools{}
}
