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

package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/cometbft"
	dbm "github.com/cometbft/cometbft-db"
	"github.com/cometbft/cometbft/store"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = "reindexer-devnet"

// newTestNode writes a node home holding a goleveldb block store with
// heights 1 through count.
func newTestNode(t *testing.T, count int64) string {
	t.Helper()
	home := t.TempDir()
	dataDir := filepath.Join(home, cometbft.DefaultDBDir)
	db, err := dbm.NewDB(
		cometbft.BlockStoreName,
		dbm.GoLevelDBBackend,
		dataDir,
	)
	require.NoError(t, err)
	bs := store.NewBlockStore(db)
	for height := int64(1); height <= count; height++ {
		blk := cmttypes.MakeBlock(
			height,
			[]cmttypes.Tx{cmttypes.Tx(fmt.Sprintf("k%d=v%d", height, height))},
			&cmttypes.Commit{Height: height - 1},
			nil,
		)
		blk.ChainID = testChainID
		blk.Time = time.Date(2024, 1, 1, 0, 0, int(height), 0, time.UTC)
		parts, err := blk.MakePartSet(cmttypes.BlockPartSizeBytes)
		require.NoError(t, err)
		seen := &cmttypes.Commit{
			Height: height,
			BlockID: cmttypes.BlockID{
				Hash:          blk.Hash(),
				PartSetHeader: parts.Header(),
			},
		}
		bs.SaveBlock(blk, parts, seen)
	}
	require.NoError(t, db.Close())
	require.NoError(t, os.MkdirAll(filepath.Join(home, "config"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(home, "config", "genesis.json"),
		[]byte(`{
  "genesis_time": "2024-01-01T00:00:00Z",
  "chain_id": "reindexer-devnet",
  "initial_height": "1",
  "app_state": {"kv": {}, "halt_height": "0"}
}`),
		0o600,
	))
	return home
}

func TestSourceReadsBlocks(t *testing.T) {
	home := newTestNode(t, 5)
	src, err := New(home, WithBufferSize(16))
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	first, err := src.FirstHeight(ctx)
	require.NoError(t, err)
	last, err := src.LastHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(5), last)

	var heights []uint64
	err = src.Blocks(ctx, 2, 4, func(height uint64, raw []byte) error {
		blk, err := cometbft.DecodeBlock(raw)
		require.NoError(t, err)
		assert.Equal(t, height, blk.Height)
		assert.Equal(t, testChainID, blk.ChainID)
		assert.Equal(t, fmt.Sprintf("k%d=v%d", height, height), string(blk.Txs[0]))
		heights = append(heights, height)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3, 4}, heights)

	_, err = src.Block(ctx, 6)
	require.ErrorIs(t, err, reindexer.ErrBlockNotFound)
}

func TestSourceBlocksPastEndIsSourceError(t *testing.T) {
	home := newTestNode(t, 5)
	src, err := New(home)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	_, err = src.Genesis(ctx)
	require.NoError(t, err)
	var heights []uint64
	err = src.Blocks(ctx, 4, 7, func(height uint64, _ []byte) error {
		heights = append(heights, height)
		return nil
	})
	require.ErrorIs(t, err, reindexer.ErrBlockNotFound)
	var srcErr *reindexer.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, testChainID, srcErr.ChainID)
	assert.Equal(t, uint64(6), srcErr.Height)
	assert.Equal(t, []uint64{4, 5}, heights)
}

func TestSourceGenesisIsCanonical(t *testing.T) {
	home := newTestNode(t, 1)
	src, err := New(home)
	require.NoError(t, err)
	defer src.Close()

	raw, err := src.Genesis(context.Background())
	require.NoError(t, err)
	canonical, gen, err := cometbft.CanonicalGenesis(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, canonical)
	assert.Equal(t, testChainID, gen.ChainID)
}

func TestSourceMissingGenesis(t *testing.T) {
	home := newTestNode(t, 1)
	require.NoError(t, os.Remove(filepath.Join(home, "config", "genesis.json")))
	src, err := New(home)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Genesis(context.Background())
	require.ErrorIs(t, err, reindexer.ErrGenesisNotFound)
	var srcErr *reindexer.SourceError
	require.ErrorAs(t, err, &srcErr)
}

func TestHandleBufferTooSmall(t *testing.T) {
	home := newTestNode(t, 1)
	h, err := Open(filepath.Join(home, cometbft.DefaultDBDir), cometbft.DefaultDBBackend)
	require.NoError(t, err)
	defer h.Close()

	n, err := h.BlockByHeight(1, make([]byte, 1))
	var tooSmall *BufferTooSmallError
	require.ErrorAs(t, err, &tooSmall)
	assert.Equal(t, n, tooSmall.Needed)

	buf := make([]byte, tooSmall.Needed)
	n, err = h.BlockByHeight(1, buf)
	require.NoError(t, err)
	assert.Equal(t, tooSmall.Needed, n)
}

func TestHandleSecondReaderFailsFast(t *testing.T) {
	home := newTestNode(t, 1)
	dir := filepath.Join(home, cometbft.DefaultDBDir)
	h, err := Open(dir, cometbft.DefaultDBBackend)
	require.NoError(t, err)

	_, err = New(home)
	require.ErrorIs(t, err, reindexer.ErrSourceLocked)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	h, err = Open(dir, cometbft.DefaultDBBackend)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestHandleReaderLockHeld(t *testing.T) {
	home := newTestNode(t, 1)
	dir := filepath.Join(home, cometbft.DefaultDBDir)
	other := flock.New(filepath.Join(dir, readerLockFile))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock() //nolint:errcheck

	_, err = Open(dir, cometbft.DefaultDBBackend)
	require.ErrorIs(t, err, reindexer.ErrSourceLocked)
}

func TestHandleRunningNode(t *testing.T) {
	home := newTestNode(t, 1)
	dir := filepath.Join(home, cometbft.DefaultDBDir)
	db, err := dbm.NewDB(cometbft.BlockStoreName, dbm.GoLevelDBBackend, dir)
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(dir, cometbft.DefaultDBBackend)
	require.ErrorIs(t, err, reindexer.ErrSourceLocked)
}

func TestHandleMissingStore(t *testing.T) {
	_, err := Open(t.TempDir(), cometbft.DefaultDBBackend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no block store")
}
