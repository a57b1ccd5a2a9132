// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package upgrade

import (
	"context"
	"fmt"
	"testing"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/cometbft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLister []*cometbft.Genesis

func (l staticLister) Geneses(
	_ context.Context,
	chainID string,
) ([]*cometbft.Genesis, error) {
	var ret []*cometbft.Genesis
	for _, gen := range l {
		if gen.ChainID == chainID {
			ret = append(ret, gen)
		}
	}
	return ret, nil
}

func genesis(t *testing.T, chainID string, initialHeight uint64) *cometbft.Genesis {
	t.Helper()
	_, gen, err := cometbft.CanonicalGenesis(fmt.Appendf(nil, `{
  "genesis_time": "2024-01-01T00:00:00Z",
  "chain_id": %q,
  "initial_height": "%d",
  "app_state": {}
}`, chainID, initialHeight))
	require.NoError(t, err)
	return gen
}

var testCompat = Compatibility{
	{ChainID: "x", InitialHeight: 1, ModuleID: "kvstore/v1"},
	{ChainID: "x", InitialHeight: 101, ModuleID: "kvstore/v2"},
	{ChainID: "x", InitialHeight: 301, ModuleID: "kvstore/v1"},
}

func TestBuildPartitionsHeights(t *testing.T) {
	// Out of order on purpose
	lister := staticLister{
		genesis(t, "x", 301),
		genesis(t, "x", 1),
		genesis(t, "x", 101),
		genesis(t, "y", 1),
	}
	table, err := Build(context.Background(), lister, "x", testCompat)
	require.NoError(t, err)
	require.Len(t, table.Eras, 3)
	assert.Equal(t, uint64(101), table.Eras[0].HaltHeight)
	assert.Equal(t, uint64(301), table.Eras[1].HaltHeight)
	assert.False(t, table.Eras[2].HasHalt())

	for _, height := range []uint64{1, 50, 100, 101, 300, 301, 1_000_000} {
		matches := 0
		for _, era := range table.Eras {
			if era.Contains(height) {
				matches++
			}
		}
		assert.Equal(t, 1, matches, "height %d", height)
		era, err := table.EraFor(height)
		require.NoError(t, err)
		assert.True(t, era.Contains(height))
	}

	era, err := table.EraFor(150)
	require.NoError(t, err)
	assert.Equal(t, "kvstore/v2", era.ModuleID)
	assert.Equal(t, 1, era.Index)
	assert.Equal(t, table.Eras[2], table.Next(era))
	assert.Nil(t, table.Next(table.Eras[2]))

	require.NoError(t, table.Validate(1, 500))
}

func TestEraForBeforeFirstEra(t *testing.T) {
	lister := staticLister{genesis(t, "x", 101)}
	table, err := Build(context.Background(), lister, "x", testCompat)
	require.NoError(t, err)

	_, err = table.EraFor(5)
	require.ErrorIs(t, err, reindexer.ErrUnsupportedVersion)
	require.ErrorIs(t, table.Validate(5, 200), reindexer.ErrUnsupportedVersion)
}

func TestBuildUnknownGenesis(t *testing.T) {
	lister := staticLister{genesis(t, "x", 1), genesis(t, "x", 202)}
	_, err := Build(context.Background(), lister, "x", testCompat)
	require.ErrorIs(t, err, reindexer.ErrUnsupportedVersion)
	var consistencyErr *reindexer.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
	assert.Equal(t, uint64(202), consistencyErr.Height)
}

func TestBuildPinnedGenesis(t *testing.T) {
	gen := genesis(t, "x", 1)
	compat := Compatibility{
		{ChainID: "x", InitialHeight: 1, ModuleID: "kvstore/v1", GenesisSHA256: gen.Hash()},
	}
	_, err := Build(context.Background(), staticLister{gen}, "x", compat)
	require.NoError(t, err)

	compat[0].GenesisSHA256 = "00"
	_, err = Build(context.Background(), staticLister{gen}, "x", compat)
	require.ErrorIs(t, err, reindexer.ErrUnsupportedVersion)
}

func TestBuildWithoutGeneses(t *testing.T) {
	_, err := Build(context.Background(), staticLister{}, "x", testCompat)
	require.ErrorIs(t, err, reindexer.ErrGenesisNotFound)
}

func TestValidateRejectsOverlap(t *testing.T) {
	table := &Table{
		ChainID: "x",
		Eras: []*Era{
			{Index: 0, StartHeight: 1, HaltHeight: 120},
			{Index: 1, StartHeight: 101},
		},
	}
	var consistencyErr *reindexer.ConsistencyError
	require.ErrorAs(t, table.Validate(0, 0), &consistencyErr)
}

func TestDefaultCompatibilityIsOrdered(t *testing.T) {
	last := make(map[string]uint64)
	for _, entry := range DefaultCompatibility {
		prev, ok := last[entry.ChainID]
		if ok {
			assert.Greater(t, entry.InitialHeight, prev, entry.ChainID)
		}
		last[entry.ChainID] = entry.InitialHeight
	}
}
