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

// Package jfile wraps a path/URL-transparent output file with an optional
// gzip layer: every final output (AD/DP/OTH matrices, VCF summaries,
// samples.tsv) goes through one of these so is_out_zip toggles
// compression uniformly without the rest of the program caring whether a
// given writer is gzipped.
package jfile

import (
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
)

// File is an open output file, optionally gzip-compressed. Close must be
// called exactly once, after every Write; it flushes the gzip layer (if
// any) before closing the underlying file.
type File struct {
	ctx context.Context
	out file.File
	gz  *gzip.Writer
	w   io.Writer
}

// Create opens path for writing, wrapping it in a gzip.Writer when zip is
// true. When zip is true and path does not already end in ".gz", the
// caller is expected to have appended the suffix before calling Create.
func Create(ctx context.Context, path string, zip bool) (*File, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	f := &File{ctx: ctx, out: out}
	w := out.Writer(ctx)
	if zip {
		f.gz = gzip.NewWriter(w)
		f.w = f.gz
	} else {
		f.w = w
	}
	return f, nil
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

// Name returns the underlying path, for diagnostics and for the
// single-thread fast path's header-rewrite step (csp.RewriteHeader
// operates on plain, unzipped files only; callers must not zip matrix
// outputs when nthread==1, since the in-place header rewrite requires a
// seekable, uncompressed file).
func (f *File) Name() string {
	return f.out.Name()
}

// Close flushes the gzip layer, if any, then closes the underlying file.
func (f *File) Close() error {
	if f.gz != nil {
		if err := f.gz.Close(); err != nil {
			_ = f.out.Close(f.ctx)
			return err
		}
	}
	return f.out.Close(f.ctx)
}
