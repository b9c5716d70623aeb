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
	"encoding/binary"
	"os"

	"github.com/grailbio/base/recordio"
)

// cellVal is one (local cell column, nonzero value) pair within a shard
// sparse-matrix record, stored as a recordio binary record instead of a
// literal text line so the merger can re-render the text line format
// cheaply at merge time without an intermediate text temp file.
type cellVal struct {
	Col   uint32
	Value uint32
}

// shardRecord is one emitted site's worth of temp-shard data: the sparse
// AD/DP/OTH entries (nonzero cells only) and the two VCF line bodies.
type shardRecord struct {
	RefID uint32
	Pos   uint32

	AD  []cellVal
	DP  []cellVal
	OTH []cellVal

	VCFBase string
	VCFCell string
}

func marshalCellVals(dst []byte, vals []cellVal) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(vals)))
	dst = append(dst, n[:]...)
	for _, v := range vals {
		var b [8]byte
		binary.LittleEndian.PutUint32(b[0:4], v.Col)
		binary.LittleEndian.PutUint32(b[4:8], v.Value)
		dst = append(dst, b[:]...)
	}
	return dst
}

func unmarshalCellVals(src []byte) ([]cellVal, []byte) {
	n := binary.LittleEndian.Uint32(src[:4])
	src = src[4:]
	vals := make([]cellVal, n)
	for i := range vals {
		vals[i].Col = binary.LittleEndian.Uint32(src[0:4])
		vals[i].Value = binary.LittleEndian.Uint32(src[4:8])
		src = src[8:]
	}
	return vals, src
}

func marshalString(dst []byte, s string) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	dst = append(dst, n[:]...)
	dst = append(dst, s...)
	return dst
}

func unmarshalString(src []byte) (string, []byte) {
	n := binary.LittleEndian.Uint32(src[:4])
	src = src[4:]
	s := string(src[:n])
	return s, src[n:]
}

// marshalShardRecord implements recordio.WriterOpts.Marshal.
func marshalShardRecord(scratch []byte, p interface{}) ([]byte, error) {
	r := p.(*shardRecord)
	t := scratch[:0]
	var head [8]byte
	binary.LittleEndian.PutUint32(head[0:4], r.RefID)
	binary.LittleEndian.PutUint32(head[4:8], r.Pos)
	t = append(t, head[:]...)
	t = marshalCellVals(t, r.AD)
	t = marshalCellVals(t, r.DP)
	t = marshalCellVals(t, r.OTH)
	t = marshalString(t, r.VCFBase)
	t = marshalString(t, r.VCFCell)
	return t, nil
}

// unmarshalShardRecord implements recordio.ScannerOpts.Unmarshal.
func unmarshalShardRecord(in []byte) (interface{}, error) {
	r := &shardRecord{
		RefID: binary.LittleEndian.Uint32(in[0:4]),
		Pos:   binary.LittleEndian.Uint32(in[4:8]),
	}
	rest := in[8:]
	r.AD, rest = unmarshalCellVals(rest)
	r.DP, rest = unmarshalCellVals(rest)
	r.OTH, rest = unmarshalCellVals(rest)
	r.VCFBase, rest = unmarshalString(rest)
	r.VCFCell, _ = unmarshalString(rest)
	return r, nil
}

// shardWriter wraps a per-shard temp file as a recordio stream, zstd
// compressed at level 1.
type shardWriter struct {
	w recordio.Writer
	f *os.File
}

func newShardWriter(f *os.File) *shardWriter {
	return &shardWriter{
		f: f,
		w: recordio.NewWriter(f, recordio.WriterOpts{
			Marshal:      marshalShardRecord,
			Transformers: []string{"zstd 1"},
		}),
	}
}

func (s *shardWriter) Append(r *shardRecord) {
	s.w.Append(r)
}

func (s *shardWriter) Finish() error {
	return s.w.Finish()
}

// newShardScanner opens a recordio.Scanner over an already-written,
// rewound temp file.
func newShardScanner(f *os.File) *recordio.Scanner {
	return recordio.NewScanner(f, recordio.ScannerOpts{
		Unmarshal: unmarshalShardRecord,
	})
}
