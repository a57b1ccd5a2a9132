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

package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/blinklabs-io/reindexer/indexer"
	"github.com/blinklabs-io/reindexer/indexer/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "file::memory:?_pragma=foreign_keys(1)", DSN(""))
	assert.Equal(t, "file:x.db?mode=ro", DSN("file:x.db?mode=ro"))
	assert.Contains(t, DSN("/data/index.db"), "file:/data/index.db?")
}

func TestFileIndexPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "index.db")
	idx, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, indexer.AppHashTableFlat, idx.AppHashTableName())
	_, err = idx.WriteBlock(t.Context(), indexer.BlockBatch{
		ChainID: "reindexer-devnet",
		Height:  1,
		AppHash: []byte{1},
	})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// Reopening migrates again without touching existing rows
	idx, err = New(path)
	require.NoError(t, err)
	defer idx.Close()
	count, err := idx.CountBlocks(t.Context(), "reindexer-devnet")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPluginStartsInMemory(t *testing.T) {
	t.Cleanup(initCmdlineOptions)
	require.NoError(t, plugin.SetPluginOption(
		plugin.PluginTypeIndex, "sqlite", "allow-existing-data", true,
	))
	p, err := plugin.StartPlugin(plugin.PluginTypeIndex, "sqlite")
	require.NoError(t, err)
	defer p.Stop()
	idx, ok := p.(*IndexSqlite)
	require.True(t, ok)
	assert.True(t, idx.allowExistingData)
	var _ indexer.Indexer = idx
}

func TestCloseBeforeStart(t *testing.T) {
	idx, err := NewWithOptions()
	require.NoError(t, err)
	require.NoError(t, idx.Close())
}
