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

package regen_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/archive"
	"github.com/blinklabs-io/reindexer/cometbft"
	_ "github.com/blinklabs-io/reindexer/execution/kvstore"
	"github.com/blinklabs-io/reindexer/indexer"
	"github.com/blinklabs-io/reindexer/indexer/sqlite"
	"github.com/blinklabs-io/reindexer/regen"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = "reindexer-devnet"

var errInjected = errors.New("injected crash")

func devnetGenesis(t *testing.T, initialHeight uint64, haltHeight uint64) []byte {
	t.Helper()
	canonical, _, err := cometbft.CanonicalGenesis(fmt.Appendf(nil, `{
  "genesis_time": "2024-01-01T00:00:00Z",
  "chain_id": %q,
  "initial_height": "%d",
  "app_state": {"kv": {"seed": "%d"}, "halt_height": "%d"}
}`, testChainID, initialHeight, initialHeight, haltHeight))
	require.NoError(t, err)
	return canonical
}

// newDevnetArchive archives era A [1,101) halting at 101 and era B from
// 101, with blocks 1 through maxHeight.
func newDevnetArchive(t *testing.T, haltHeight, maxHeight uint64) *archive.Store {
	t.Helper()
	ctx := context.Background()
	store, err := archive.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.AppendGenesis(ctx, testChainID, devnetGenesis(t, 1, haltHeight))
	require.NoError(t, err)
	_, err = store.AppendGenesis(ctx, testChainID, devnetGenesis(t, 101, 0))
	require.NoError(t, err)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	blocks := make([]archive.RawBlock, 0, maxHeight)
	for height := uint64(1); height <= maxHeight; height++ {
		txs := [][]byte{fmt.Appendf(nil, "k%d=v%d", height%7, height)}
		if height%10 == 0 {
			txs = append(txs, []byte("not-a-kv-tx"))
		}
		raw, err := cometbft.EncodeRawBlock(
			testChainID,
			height,
			base.Add(time.Duration(height)*time.Second),
			txs,
		)
		require.NoError(t, err)
		blocks = append(blocks, archive.RawBlock{Height: height, Raw: raw})
	}
	_, err = store.AppendBlocks(ctx, testChainID, blocks)
	require.NoError(t, err)
	return store
}

func newIndex(t *testing.T, opts ...sqlite.SqliteOptionFunc) *sqlite.IndexSqlite {
	t.Helper()
	idx, err := sqlite.New("", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func runEngine(t *testing.T, cfg regen.Config) (*regen.Engine, error) {
	t.Helper()
	if cfg.ChainID == "" {
		cfg.ChainID = testChainID
	}
	engine, err := regen.New(cfg)
	require.NoError(t, err)
	return engine, engine.Run(t.Context())
}

// contentHash digests everything written to the index, independent of row
// ids.
func contentHash(t *testing.T, idx *sqlite.IndexSqlite) string {
	t.Helper()
	type eventRow struct {
		Height  int64
		Type    string
		TxIndex int64
		Key     *string
		Value   *string
	}
	var events []eventRow
	err := idx.DB().Raw(`SELECT blocks.height AS height, events.type AS type,
			COALESCE(tx_results."index", -1) AS tx_index,
			attributes."key" AS "key", attributes.value AS value
		FROM events
			JOIN blocks ON blocks.rowid = events.block_id
			LEFT JOIN tx_results ON tx_results.rowid = events.tx_id
			LEFT JOIN attributes ON attributes.event_id = events.rowid
		ORDER BY events.rowid, attributes."key"`).Scan(&events).Error
	require.NoError(t, err)
	type blockRow struct {
		CreatedAt string
		AppHash   []byte
		Height    int64
	}
	var blocks []blockRow
	err = idx.DB().Raw(fmt.Sprintf(`SELECT blocks.height AS height,
			blocks.created_at AS created_at, h.app_hash AS app_hash
		FROM blocks JOIN %s h ON h.block_id = blocks.rowid
		ORDER BY blocks.height`, idx.AppHashTableName())).Scan(&blocks).Error
	require.NoError(t, err)
	type txRow struct {
		TxResult []byte
	}
	var txs []txRow
	err = idx.DB().Raw(`SELECT tx_results.tx_result AS tx_result FROM tx_results
		JOIN blocks ON blocks.rowid = tx_results.block_id
		ORDER BY blocks.height, tx_results."index"`).Scan(&txs).Error
	require.NoError(t, err)

	h := sha256.New()
	for _, blk := range blocks {
		fmt.Fprintf(h, "block %d %s %x\n", blk.Height, blk.CreatedAt, blk.AppHash)
	}
	for _, ev := range events {
		var key, value string
		if ev.Key != nil {
			key = *ev.Key
		}
		if ev.Value != nil {
			value = *ev.Value
		}
		fmt.Fprintf(h, "event %d %s %d %s=%s\n", ev.Height, ev.Type, ev.TxIndex, key, value)
	}
	for _, tx := range txs {
		fmt.Fprintf(h, "tx %x\n", tx.TxResult)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// crashingIndexer fails the write of one height, either before or after
// the underlying write lands.
type crashingIndexer struct {
	indexer.Indexer
	crashAt    uint64
	afterWrite bool
}

func (c *crashingIndexer) WriteBlock(
	ctx context.Context,
	batch indexer.BlockBatch,
) (indexer.Result, error) {
	if batch.Height != c.crashAt {
		return c.Indexer.WriteBlock(ctx, batch)
	}
	if c.afterWrite {
		if _, err := c.Indexer.WriteBlock(ctx, batch); err != nil {
			return indexer.Result{}, err
		}
	}
	return indexer.Result{}, errInjected
}

func TestRegenAcrossEras(t *testing.T) {
	store := newDevnetArchive(t, 101, 200)
	idx := newIndex(t)
	registry := prometheus.NewRegistry()
	engine, err := runEngine(t, regen.Config{
		Archive:      store,
		Indexer:      idx,
		StopHeight:   150,
		PromRegistry: registry,
	})
	require.NoError(t, err)
	assert.Equal(t, regen.PhaseFinished, engine.Phase())

	stats := engine.Stats()
	assert.Equal(t, uint64(1), stats.FirstHeight)
	assert.Equal(t, uint64(150), stats.LastHeight)
	assert.Equal(t, uint64(150), stats.Executed)
	assert.Equal(t, uint64(150), stats.Indexed)
	assert.Equal(t, 2, stats.Eras)

	ctx := t.Context()
	count, err := idx.CountBlocks(ctx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), count)
	gaps, err := idx.Gaps(ctx, testChainID)
	require.NoError(t, err)
	assert.Empty(t, gaps)
	has, err := idx.HasBlock(ctx, testChainID, 151)
	require.NoError(t, err)
	assert.False(t, has)

	var eraA, eraB int64
	require.NoError(t, idx.DB().Raw(
		"SELECT COUNT(*) FROM tx_events WHERE type = 'kv' AND height <= 100",
	).Scan(&eraA).Error)
	require.NoError(t, idx.DB().Raw(
		"SELECT COUNT(*) FROM tx_events WHERE type = 'kv.set' AND height > 100",
	).Scan(&eraB).Error)
	// key, value and era attributes for one kv tx per height
	assert.Equal(t, int64(100*3), eraA)
	assert.Equal(t, int64(50*3), eraB)
	var mixed int64
	require.NoError(t, idx.DB().Raw(
		"SELECT COUNT(*) FROM tx_events WHERE type = 'kv.set' AND height <= 100",
	).Scan(&mixed).Error)
	assert.Zero(t, mixed)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRegenIsDeterministic(t *testing.T) {
	store := newDevnetArchive(t, 101, 150)
	first := newIndex(t)
	_, err := runEngine(t, regen.Config{Archive: store, Indexer: first})
	require.NoError(t, err)
	second := newIndex(t)
	_, err = runEngine(t, regen.Config{
		Archive:    store,
		Indexer:    second,
		AsyncIndex: true,
	})
	require.NoError(t, err)
	assert.Equal(t, contentHash(t, first), contentHash(t, second))
}

func TestRegenResumesAfterCrash(t *testing.T) {
	store := newDevnetArchive(t, 101, 150)
	reference := newIndex(t)
	_, err := runEngine(t, regen.Config{Archive: store, Indexer: reference})
	require.NoError(t, err)
	want := contentHash(t, reference)

	for _, tc := range []struct {
		name       string
		crashAt    uint64
		afterWrite bool
		async      bool
	}{
		{name: "before write", crashAt: 42},
		{name: "after write", crashAt: 42, afterWrite: true},
		{name: "after write at era boundary", crashAt: 101, afterWrite: true},
		{name: "async after write", crashAt: 77, afterWrite: true, async: true},
		{name: "before first write", crashAt: 1},
		{name: "after first write", crashAt: 1, afterWrite: true},
		{name: "async after first write", crashAt: 1, afterWrite: true, async: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "work")
			idx := newIndex(t)
			engine, err := runEngine(t, regen.Config{
				Archive: store,
				Indexer: &crashingIndexer{
					Indexer:    idx,
					crashAt:    tc.crashAt,
					afterWrite: tc.afterWrite,
				},
				WorkingDir: dir,
				AsyncIndex: tc.async,
			})
			require.ErrorIs(t, err, errInjected)
			var writeErr *reindexer.IndexWriteError
			require.ErrorAs(t, err, &writeErr)
			assert.Equal(t, tc.crashAt, writeErr.Height)
			assert.Equal(t, regen.PhaseFailed, engine.Phase())
			assert.Equal(t, tc.crashAt-1, engine.Stats().LastHeight)

			engine, err = runEngine(t, regen.Config{
				Archive:    store,
				Indexer:    idx,
				WorkingDir: dir,
				AsyncIndex: tc.async,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.crashAt, engine.Stats().FirstHeight)
			if tc.afterWrite {
				assert.Equal(t, uint64(1), engine.Stats().Skipped)
			}
			assert.Equal(t, want, contentHash(t, idx))
		})
	}
}

func TestRegenResumesAfterCrashAtStartHeight(t *testing.T) {
	store := newDevnetArchive(t, 101, 150)
	reference := newIndex(t)
	_, err := runEngine(t, regen.Config{
		Archive:     store,
		Indexer:     reference,
		StartHeight: 120,
	})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "work")
	idx := newIndex(t)
	_, err = runEngine(t, regen.Config{
		Archive:     store,
		Indexer:     &crashingIndexer{Indexer: idx, crashAt: 120, afterWrite: true},
		WorkingDir:  dir,
		StartHeight: 120,
	})
	require.ErrorIs(t, err, errInjected)

	engine, err := runEngine(t, regen.Config{
		Archive:     store,
		Indexer:     idx,
		WorkingDir:  dir,
		StartHeight: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), engine.Stats().Skipped)
	assert.Equal(t, uint64(30), engine.Stats().Indexed)
	assert.Equal(t, contentHash(t, reference), contentHash(t, idx))
}

func TestRegenResumeDetectsForeignIndex(t *testing.T) {
	store := newDevnetArchive(t, 101, 60)
	dir := filepath.Join(t.TempDir(), "work")
	idx := newIndex(t)
	_, err := runEngine(t, regen.Config{
		Archive:    store,
		Indexer:    &crashingIndexer{Indexer: idx, crashAt: 30},
		WorkingDir: dir,
	})
	require.ErrorIs(t, err, errInjected)

	// Something else indexed height 30 with a different app hash
	batch := indexer.BlockBatch{
		ChainID: testChainID,
		Height:  30,
		Time:    time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC),
		AppHash: []byte{0x01},
	}
	_, err = idx.WriteBlock(t.Context(), batch)
	require.NoError(t, err)

	_, err = runEngine(t, regen.Config{
		Archive:    store,
		Indexer:    idx,
		WorkingDir: dir,
	})
	require.ErrorIs(t, err, reindexer.ErrContentMismatch)
	var consistencyErr *reindexer.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
	assert.Equal(t, uint64(30), consistencyErr.Height)
}

func TestRegenCompletedRunIsNoop(t *testing.T) {
	store := newDevnetArchive(t, 101, 120)
	dir := filepath.Join(t.TempDir(), "work")
	idx := newIndex(t)
	_, err := runEngine(t, regen.Config{Archive: store, Indexer: idx, WorkingDir: dir})
	require.NoError(t, err)

	engine, err := runEngine(t, regen.Config{Archive: store, Indexer: idx, WorkingDir: dir})
	require.NoError(t, err)
	assert.Zero(t, engine.Stats().Executed)
	assert.Equal(t, regen.PhaseFinished, engine.Phase())
}

func TestRegenAllowExistingData(t *testing.T) {
	store := newDevnetArchive(t, 101, 120)
	idx := newIndex(t)
	_, err := runEngine(t, regen.Config{Archive: store, Indexer: idx})
	require.NoError(t, err)
	want := contentHash(t, idx)

	_, err = runEngine(t, regen.Config{Archive: store, Indexer: idx})
	require.ErrorIs(t, err, reindexer.ErrAlreadyIndexed)
	var writeErr *reindexer.IndexWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, uint64(1), writeErr.Height)

	engine, err := runEngine(t, regen.Config{
		Archive:           store,
		Indexer:           idx,
		AllowExistingData: true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(120), engine.Stats().Skipped)
	assert.Zero(t, engine.Stats().Indexed)
	assert.Equal(t, want, contentHash(t, idx))
}

func TestRegenStartHeight(t *testing.T) {
	store := newDevnetArchive(t, 101, 150)
	idx := newIndex(t)
	engine, err := runEngine(t, regen.Config{
		Archive:     store,
		Indexer:     idx,
		StartHeight: 120,
	})
	require.NoError(t, err)
	stats := engine.Stats()
	// Replay starts at the beginning of the era holding the start height
	assert.Equal(t, uint64(101), stats.FirstHeight)
	assert.Equal(t, uint64(50), stats.Executed)
	assert.Equal(t, uint64(31), stats.Indexed)

	count, err := idx.CountBlocks(t.Context(), testChainID)
	require.NoError(t, err)
	assert.Equal(t, int64(31), count)
	has, err := idx.HasBlock(t.Context(), testChainID, 119)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRegenStopBeyondArchive(t *testing.T) {
	store := newDevnetArchive(t, 101, 120)
	_, err := runEngine(t, regen.Config{
		Archive:    store,
		Indexer:    newIndex(t),
		StopHeight: 200,
	})
	var gapErr *reindexer.GapError
	require.ErrorAs(t, err, &gapErr)
	assert.Equal(t, uint64(121), gapErr.From)
	assert.Equal(t, uint64(200), gapErr.To)
}

func TestRegenStartBeyondArchive(t *testing.T) {
	store := newDevnetArchive(t, 101, 120)
	idx := newIndex(t)
	engine, err := runEngine(t, regen.Config{
		Archive:     store,
		Indexer:     idx,
		StartHeight: 500,
	})
	require.ErrorIs(t, err, reindexer.ErrGap)
	var gapErr *reindexer.GapError
	require.ErrorAs(t, err, &gapErr)
	assert.Equal(t, uint64(121), gapErr.From)
	assert.Equal(t, uint64(500), gapErr.To)
	assert.Equal(t, regen.PhaseFailed, engine.Phase())
	assert.Zero(t, engine.Stats().Executed)
	count, err := idx.CountBlocks(t.Context(), testChainID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRegenEmptyArchive(t *testing.T) {
	store, err := archive.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.AppendGenesis(t.Context(), testChainID, devnetGenesis(t, 1, 0))
	require.NoError(t, err)
	_, err = runEngine(t, regen.Config{Archive: store, Indexer: newIndex(t)})
	require.ErrorIs(t, err, reindexer.ErrGap)
}

func TestRegenHaltBeforeEraEnd(t *testing.T) {
	store := newDevnetArchive(t, 90, 120)
	engine, err := runEngine(t, regen.Config{Archive: store, Indexer: newIndex(t)})
	var consistencyErr *reindexer.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
	assert.Equal(t, uint64(90), consistencyErr.Height)
	assert.Equal(t, regen.PhaseFailed, engine.Phase())
	assert.Equal(t, uint64(89), engine.Stats().LastHeight)
}

func TestRegenMissingHalt(t *testing.T) {
	store := newDevnetArchive(t, 0, 120)
	engine, err := runEngine(t, regen.Config{Archive: store, Indexer: newIndex(t)})
	var consistencyErr *reindexer.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
	assert.Equal(t, uint64(101), consistencyErr.Height)
	assert.Equal(t, uint64(100), engine.Stats().LastHeight)
}

func TestNewValidatesConfig(t *testing.T) {
	store := newDevnetArchive(t, 101, 10)
	_, err := regen.New(regen.Config{Indexer: newIndex(t), ChainID: testChainID})
	require.Error(t, err)
	_, err = regen.New(regen.Config{Archive: store, ChainID: testChainID})
	require.Error(t, err)
	_, err = regen.New(regen.Config{Archive: store, Indexer: newIndex(t)})
	require.Error(t, err)
	_, err = regen.New(regen.Config{
		Archive:     store,
		Indexer:     newIndex(t),
		ChainID:     testChainID,
		StartHeight: 20,
		StopHeight:  10,
	})
	require.Error(t, err)
}
