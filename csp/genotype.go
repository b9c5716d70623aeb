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

import "math"

// This file implements the per-site genotype-likelihood math: a
// phred-capped, error-floored per-read base-probability model, adapted
// to produce a per-base probability vector and a diploid/10-genotype PL
// vector from accumulated per-cell base counts. See DESIGN.md for the
// reconstruction notes on the exact arithmetic.

// qualCap bounds the phred quality considered.
const qualCap = 45

// qualTail sets the error-probability floor: qualVector never uses an
// error probability below qualTail/30 (about 0.0083), shared by the three
// non-observed bases, so no single high-quality base is ever treated as
// absolutely certain.
const qualTail = 0.25

// qualVector fills vec[0..3] with P(true base = i | observed base obsBase,
// quality q): the observed base gets the bulk of the mass, the other
// three share the error floor evenly.
func qualVector(q byte, obsBase int, vec *[NBase]float64) {
	if q > qualCap {
		q = qualCap
	}
	errProb := math.Pow(10, -float64(q)/10)
	if errProb < qualTail/30 {
		errProb = qualTail / 30
	}
	each := errProb / 3
	for i := 0; i < NBase; i++ {
		if i == obsBase {
			vec[i] = 1 - errProb
		} else {
			vec[i] = each
		}
	}
}

// qualMatrixToGeno turns a per-cell, per-true-base summed probability
// matrix (qmat[trueBase][obsBase], accumulated via qualVector above) plus
// the cell's raw base counts into a phred-scaled genotype-likelihood
// vector: 3 entries (ref/ref, ref/alt, alt/alt) by default, or 10 entries
// (all unordered pairs over A,C,G,T) when doubleGL is set.
//
// PL[g] = round(-10 * log10(L(g))), normalized so the best genotype has
// PL 0, which is the conventional phred-scaled-likelihood definition the
// GLOSSARY's "PL" entry names.
func qualMatrixToGeno(qmat *[NBase][NBase]float64, bc *[NCell]int32, ref, alt int, doubleGL bool) []float64 {
	logLik := func(b0, b1 int) float64 {
		var ll float64
		for obs := 0; obs < NBase; obs++ {
			if bc[obs] == 0 {
				continue
			}
			p := 0.5*qmat[b0][obs] + 0.5*qmat[b1][obs]
			if p <= 0 {
				p = 1e-300
			}
			ll += float64(bc[obs]) * math.Log10(p)
		}
		return ll
	}

	var pairs [][2]int
	if doubleGL {
		for i := 0; i < NBase; i++ {
			for j := i; j < NBase; j++ {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	} else {
		pairs = [][2]int{{ref, ref}, {ref, alt}, {alt, alt}}
	}

	ll := make([]float64, len(pairs))
	best := math.Inf(-1)
	for i, p := range pairs {
		ll[i] = logLik(p[0], p[1])
		if ll[i] > best {
			best = ll[i]
		}
	}
	pl := make([]float64, len(pairs))
	for i := range ll {
		pl[i] = math.Round(-10 * (ll[i] - best))
	}
	return pl
}

// buildQualMatrix accumulates, for one cell's site observations, an
// NBase x NBase quality matrix summing qualVector contributions across
// every retained base/quality pair (only the first NBase rows of bc
// ever carry genotype weight; BaseOth contributes to oth/dp bookkeeping
// elsewhere, not to qmat).
func buildQualMatrix(c *siteCell) [NBase][NBase]float64 {
	var qmat [NBase][NBase]float64
	var vec [NBase]float64
	for obs := 0; obs < NBase; obs++ {
		for _, q := range c.qu[obs] {
			qualVector(q, obs, &vec)
			for trueBase := 0; trueBase < NBase; trueBase++ {
				qmat[trueBase][obs] += vec[trueBase]
			}
		}
	}
	return qmat
}
