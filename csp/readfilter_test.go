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
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/require"
)

var testRef, _ = sam.NewReference("chr1", "", "", 1000, nil, nil)

func newTestRead(flags sam.Flags, mapq byte, cigar sam.Cigar) Read {
	r := sam.GetFromFreePool()
	r.Ref = testRef
	r.Pos = 100
	r.Flags = flags
	r.MapQ = mapq
	r.Cigar = cigar
	return Read{Rec: r}
}

func matchCigar(n int) sam.Cigar {
	return sam.Cigar{sam.NewCigarOp(sam.CigarMatch, n)}
}

func baseFilter() *ReadFilter {
	return &ReadFilter{Cfg: &Config{MinMapQ: 20}}
}

func TestAdmitReadUnmapped(t *testing.T) {
	r := newTestRead(sam.Unmapped, 30, matchCigar(10))
	require.Equal(t, Skip, baseFilter().AdmitRead(r))
}

func TestAdmitReadLowMapQ(t *testing.T) {
	r := newTestRead(0, 10, matchCigar(10))
	require.Equal(t, Skip, baseFilter().AdmitRead(r))
}

func TestAdmitReadExcludeMask(t *testing.T) {
	f := &ReadFilter{Cfg: &Config{MinMapQ: 0, RFlagFilter: sam.Secondary}}
	r := newTestRead(sam.Secondary, 30, matchCigar(10))
	require.Equal(t, Skip, f.AdmitRead(r))
}

func TestAdmitReadRequireMask(t *testing.T) {
	f := &ReadFilter{Cfg: &Config{MinMapQ: 0, RFlagRequire: sam.ProperPair}}
	r := newTestRead(sam.Paired, 30, matchCigar(10))
	require.Equal(t, Skip, f.AdmitRead(r))

	r2 := newTestRead(sam.Paired|sam.ProperPair, 30, matchCigar(10))
	require.Equal(t, Admit, f.AdmitRead(r2))
}

func TestAdmitReadNoOrphan(t *testing.T) {
	f := &ReadFilter{Cfg: &Config{MinMapQ: 0, NoOrphan: true}}
	r := newTestRead(sam.Paired, 30, matchCigar(10))
	require.Equal(t, Skip, f.AdmitRead(r))

	r2 := newTestRead(sam.Paired|sam.ProperPair, 30, matchCigar(10))
	require.Equal(t, Admit, f.AdmitRead(r2))
}

func TestAdmitReadUMITagMissing(t *testing.T) {
	f := &ReadFilter{Cfg: &Config{MinMapQ: 0, UMITag: "UB"}}
	r := newTestRead(0, 30, matchCigar(10))
	require.Equal(t, Skip, f.AdmitRead(r))
}

func TestAdmitReadUMITagPresent(t *testing.T) {
	f := &ReadFilter{Cfg: &Config{MinMapQ: 0, UMITag: "UB"}}
	r := newTestRead(0, 30, matchCigar(10))
	aux, err := sam.NewAux(sam.NewTag("UB"), "AAAA")
	require.NoError(t, err)
	r.Rec.AuxFields = append(r.Rec.AuxFields, aux)
	require.Equal(t, Admit, f.AdmitRead(r))
}

func TestAdmitReadBarcodeTagMissing(t *testing.T) {
	f := &ReadFilter{Cfg: &Config{MinMapQ: 0, CellTag: "CB"}}
	r := newTestRead(0, 30, matchCigar(10))
	require.Equal(t, Skip, f.AdmitRead(r))
}

func TestAdmitReadMinLen(t *testing.T) {
	f := &ReadFilter{Cfg: &Config{MinMapQ: 0, MinLen: 50}}
	r := newTestRead(0, 30, matchCigar(10))
	require.Equal(t, Skip, f.AdmitRead(r))

	r2 := newTestRead(0, 30, matchCigar(60))
	require.Equal(t, Admit, f.AdmitRead(r2))
}

func TestAdmitReadAllPass(t *testing.T) {
	r := newTestRead(0, 30, matchCigar(10))
	require.Equal(t, Admit, baseFilter().AdmitRead(r))
}
