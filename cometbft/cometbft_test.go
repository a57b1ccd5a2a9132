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

package cometbft

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGenesis = `{
  "genesis_time": "2024-01-01T00:00:00Z",
  "chain_id": "reindexer-devnet",
  "initial_height": "101",
  "app_hash": "",
  "app_state": { "halt_height": "0",  "kv": {} }
}`

func TestEncodeDecodeRawBlock(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	raw, err := EncodeRawBlock(
		"reindexer-devnet",
		7,
		ts,
		[][]byte{[]byte("a=1"), []byte("b=2")},
	)
	require.NoError(t, err)

	blk, err := DecodeBlock(raw)
	require.NoError(t, err)
	assert.Equal(t, "reindexer-devnet", blk.ChainID)
	assert.Equal(t, uint64(7), blk.Height)
	assert.True(t, ts.Equal(blk.Time))
	require.Len(t, blk.Txs, 2)
	assert.Equal(t, []byte("b=2"), blk.Txs[1])
	assert.Equal(t, raw, blk.Raw)
}

func TestEncodeRawBlockZeroHeight(t *testing.T) {
	_, err := EncodeRawBlock("x", 0, time.Now(), nil)
	require.ErrorIs(t, err, ErrInvalidBlock)
}

func TestDecodeBlockGarbage(t *testing.T) {
	_, err := DecodeBlock([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestCanonicalGenesisIsStable(t *testing.T) {
	canonical, gen, err := CanonicalGenesis([]byte(testGenesis))
	require.NoError(t, err)
	assert.Equal(t, "reindexer-devnet", gen.ChainID)
	assert.Equal(t, uint64(101), gen.InitialHeight)
	assert.JSONEq(t, `{"halt_height":"0","kv":{}}`, string(gen.AppState))

	again, _, err := CanonicalGenesis(canonical)
	require.NoError(t, err)
	assert.Equal(t, canonical, again)

	parsed, err := ParseGenesis(canonical)
	require.NoError(t, err)
	assert.Equal(t, gen.Hash(), parsed.Hash())

	pretty, err := parsed.Indent()
	require.NoError(t, err)
	assert.Contains(t, string(pretty), "\n  \"chain_id\": \"reindexer-devnet\"")
}

func TestLoadNodeConfigDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := LoadNodeConfig(home)
	require.NoError(t, err)
	assert.Equal(t, DefaultDBBackend, cfg.DBBackend)
	assert.Equal(t, filepath.Join(home, "data"), cfg.DBPath())
	assert.Equal(
		t,
		filepath.Join(home, "config", "genesis.json"),
		cfg.GenesisPath(),
	)
}

func TestLoadNodeConfigFromFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "config"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(home, "config", "config.toml"),
		[]byte("moniker = \"node0\"\ndb_backend = \"pebbledb\"\ndb_dir = \"/srv/cmt\"\n"),
		0o600,
	))
	cfg, err := LoadNodeConfig(home)
	require.NoError(t, err)
	assert.Equal(t, "pebbledb", cfg.DBBackend)
	assert.Equal(t, "/srv/cmt", cfg.DBPath())
}
