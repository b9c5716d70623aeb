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

	"github.com/stretchr/testify/require"
)

func TestQualVectorHighQualityObservedBaseDominates(t *testing.T) {
	var vec [NBase]float64
	qualVector(40, BaseA, &vec)
	require.Greater(t, vec[BaseA], vec[BaseC])
	require.Greater(t, vec[BaseA], vec[BaseG])
	require.Greater(t, vec[BaseA], vec[BaseT])
	require.InDelta(t, vec[BaseC], vec[BaseG], 1e-12)
}

func TestQualVectorCapsAboveQualCap(t *testing.T) {
	var capped, over [NBase]float64
	qualVector(qualCap, BaseA, &capped)
	qualVector(qualCap+20, BaseA, &over)
	require.Equal(t, capped, over)
}

func TestQualMatrixToGenoBestGenotypeIsZero(t *testing.T) {
	var bc [NCell]int32
	bc[BaseA] = 20
	var qmat [NBase][NBase]float64
	var vec [NBase]float64
	for i := 0; i < 20; i++ {
		qualVector(40, BaseA, &vec)
		for trueBase := 0; trueBase < NBase; trueBase++ {
			qmat[trueBase][BaseA] += vec[trueBase]
		}
	}
	pl := qualMatrixToGeno(&qmat, &bc, BaseA, BaseT, false)
	require.Len(t, pl, 3)

	minIdx, minVal := 0, pl[0]
	for i, v := range pl {
		if v < minVal {
			minIdx, minVal = i, v
		}
	}
	require.Equal(t, 0.0, minVal)
	require.Equal(t, 0, minIdx, "ref/ref should be the best-supported genotype given all-A reads")
}

func TestQualMatrixToGenoDoubleGLHasTenEntries(t *testing.T) {
	var bc [NCell]int32
	bc[BaseA] = 5
	var qmat [NBase][NBase]float64
	pl := qualMatrixToGeno(&qmat, &bc, BaseA, BaseT, true)
	require.Len(t, pl, 10)
}

func TestBuildQualMatrixAccumulatesAcrossReads(t *testing.T) {
	c := &siteCell{}
	c.qu[BaseA] = []byte{30, 30}
	c.qu[BaseT] = []byte{30}

	qmat := buildQualMatrix(c)
	require.Greater(t, qmat[BaseA][BaseA], qmat[BaseA][BaseT])
	require.Greater(t, qmat[BaseA][BaseA], 0.0)
}
