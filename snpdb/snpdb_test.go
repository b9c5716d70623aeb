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
package snpdb

import (
	"strings"
	"testing"

	"github.com/grailbio/cellpileup/csp"
	"github.com/stretchr/testify/require"
)

const testList = `# comment line, skipped
chr1	100	A	G
chr1	50	C	T
chr2	10	A	*

chr1	200	A	N
`

func TestParseSkipsCommentsAndBlankLines(t *testing.T) {
	db, err := parse(strings.NewReader(testList), "test.tsv")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"chr1", "chr2"}, db.Chromosomes())
}

func TestParseConvertsToZeroBasedAndSortsByPosition(t *testing.T) {
	db, err := parse(strings.NewReader(testList), "test.tsv")
	require.NoError(t, err)

	entries := db.Entries("chr1")
	require.Len(t, entries, 3)
	require.Equal(t, 49, entries[0].Pos)
	require.Equal(t, 99, entries[1].Pos)
	require.Equal(t, 199, entries[2].Pos)
}

func TestParseUnknownAlleleMapsToBaseOth(t *testing.T) {
	db, err := parse(strings.NewReader(testList), "test.tsv")
	require.NoError(t, err)

	entries := db.Entries("chr2")
	require.Len(t, entries, 1)
	require.Equal(t, csp.BaseA, entries[0].Ref)
	require.Equal(t, csp.BaseOth, entries[0].Alt)
}

func TestParseRejectsShortLine(t *testing.T) {
	_, err := parse(strings.NewReader("chr1\t100\tA\n"), "test.tsv")
	require.Error(t, err)
}

func TestContains(t *testing.T) {
	db, err := parse(strings.NewReader(testList), "test.tsv")
	require.NoError(t, err)

	ref, alt, ok := db.Contains("chr1", 49)
	require.True(t, ok)
	require.Equal(t, csp.BaseA, ref)
	require.Equal(t, csp.BaseG, alt)

	_, _, ok = db.Contains("chr1", 12345)
	require.False(t, ok)

	_, _, ok = db.Contains("chrNope", 0)
	require.False(t, ok)
}

func TestToTargets(t *testing.T) {
	db, err := parse(strings.NewReader(testList), "test.tsv")
	require.NoError(t, err)

	targets := db.ToTargets("chr1")
	require.Len(t, targets, 3)
	require.Equal(t, 49, targets[0].Pos)

	require.Nil(t, db.ToTargets("chrNope"))
}
