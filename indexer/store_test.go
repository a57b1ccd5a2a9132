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

package indexer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/indexer"
	"github.com/blinklabs-io/reindexer/indexer/sqlite"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = "reindexer-devnet"

func newTestIndex(t *testing.T, opts ...sqlite.SqliteOptionFunc) *sqlite.IndexSqlite {
	t.Helper()
	idx, err := sqlite.New("", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func kvEvent(typ, key, value string) abci.Event {
	return abci.Event{
		Type: typ,
		Attributes: []abci.EventAttribute{
			{Key: "key", Value: key, Index: true},
			{Key: "value", Value: value, Index: true},
		},
	}
}

func testBatch(height uint64) indexer.BlockBatch {
	return indexer.BlockBatch{
		ChainID: testChainID,
		Height:  height,
		Time:    time.Date(2024, 1, 1, 0, 0, int(height), 0, time.UTC),
		BeginBlockEvents: []abci.Event{
			{Type: "begin", Attributes: []abci.EventAttribute{{Key: "n", Value: "1"}}},
		},
		Txs: []indexer.TxBatch{
			{
				Raw: []byte("a=1"),
				Result: &abci.ExecTxResult{
					Events: []abci.Event{kvEvent("kv", "a", "1")},
				},
			},
			{
				Raw: []byte("b=2"),
				Result: &abci.ExecTxResult{
					Events: []abci.Event{kvEvent("kv", "b", "2")},
				},
			},
		},
		EndBlockEvents: []abci.Event{
			{Type: "commit_stats", Attributes: []abci.EventAttribute{{Key: "txs", Value: "2"}}},
		},
		AppHash: []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func TestWriteBlockOrdering(t *testing.T) {
	idx := newTestIndex(t)
	ctx := t.Context()

	res, err := idx.WriteBlock(ctx, testBatch(7))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	// block.height, begin, 2x(tx.hash, tx.height, kv), commit_stats
	assert.Equal(t, 9, res.Events)
	assert.Equal(t, 11, res.Attributes)

	var events []indexer.Event
	require.NoError(t, idx.DB().Order("rowid").Find(&events).Error)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(
		t,
		[]string{"block", "begin", "tx", "tx", "kv", "tx", "tx", "kv", "commit_stats"},
		types,
	)
	assert.Nil(t, events[0].TxID)
	assert.Nil(t, events[1].TxID)
	require.NotNil(t, events[2].TxID)
	require.NotNil(t, events[5].TxID)
	assert.Less(t, *events[2].TxID, *events[5].TxID)
	assert.Nil(t, events[8].TxID)

	var txs []indexer.TxResult
	require.NoError(t, idx.DB().Order("rowid").Find(&txs).Error)
	require.Len(t, txs, 2)
	assert.Equal(t, uint32(0), txs[0].Index)
	assert.Equal(t, uint32(1), txs[1].Index)
	assert.Equal(t, indexer.TxHash([]byte("a=1")), txs[0].TxHash)
	assert.Regexp(t, "^[0-9A-F]{64}$", txs[0].TxHash)

	var decoded abci.TxResult
	require.NoError(t, decoded.Unmarshal(txs[1].TxResult))
	assert.Equal(t, int64(7), decoded.Height)
	assert.Equal(t, uint32(1), decoded.Index)
	assert.Equal(t, []byte("b=2"), decoded.Tx)
	require.Len(t, decoded.Result.Events, 1)

	var attrs []indexer.Attribute
	require.NoError(t, idx.DB().Where("event_id = ?", events[0].RowID).Find(&attrs).Error)
	require.Len(t, attrs, 1)
	assert.Equal(t, "block.height", attrs[0].CompositeKey)
	assert.Equal(t, "7", attrs[0].Value)

	require.NoError(t, idx.DB().Where("event_id = ?", events[2].RowID).Find(&attrs).Error)
	require.Len(t, attrs, 1)
	assert.Equal(t, "tx.hash", attrs[0].CompositeKey)
	assert.Equal(t, txs[0].TxHash, attrs[0].Value)
}

func TestWriteBlockDuplicate(t *testing.T) {
	idx := newTestIndex(t)
	ctx := t.Context()

	_, err := idx.WriteBlock(ctx, testBatch(1))
	require.NoError(t, err)
	_, err = idx.WriteBlock(ctx, testBatch(1))
	require.ErrorIs(t, err, reindexer.ErrAlreadyIndexed)
	var writeErr *reindexer.IndexWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, uint64(1), writeErr.Height)
	assert.True(t, indexer.IsAlreadyIndexed(err))

	var count int64
	require.NoError(t, idx.DB().Model(&indexer.Event{}).Count(&count).Error)
	assert.Equal(t, int64(9), count)
}

func TestWriteBlockAllowExistingData(t *testing.T) {
	idx := newTestIndex(t, sqlite.WithAllowExistingData(true))
	ctx := t.Context()

	first, err := idx.WriteBlock(ctx, testBatch(3))
	require.NoError(t, err)
	again, err := idx.WriteBlock(ctx, testBatch(3))
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, first.BlockID, again.BlockID)

	var count int64
	require.NoError(t, idx.DB().Model(&indexer.TxResult{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
	require.NoError(t, idx.DB().Table(idx.AppHashTableName()).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWriteBlockIsAtomic(t *testing.T) {
	idx := newTestIndex(t)
	ctx := t.Context()

	batch := testBatch(4)
	// Duplicate attribute keys violate the attributes primary key
	batch.EndBlockEvents = append(batch.EndBlockEvents, abci.Event{
		Type: "broken",
		Attributes: []abci.EventAttribute{
			{Key: "k", Value: "1"},
			{Key: "k", Value: "2"},
		},
	})
	_, err := idx.WriteBlock(ctx, batch)
	var writeErr *reindexer.IndexWriteError
	require.ErrorAs(t, err, &writeErr)

	has, err := idx.HasBlock(ctx, testChainID, 4)
	require.NoError(t, err)
	assert.False(t, has)
	var count int64
	require.NoError(t, idx.DB().Model(&indexer.Event{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAppHashAndHasBlock(t *testing.T) {
	idx := newTestIndex(t)
	ctx := t.Context()

	_, err := idx.WriteBlock(ctx, testBatch(10))
	require.NoError(t, err)

	has, err := idx.HasBlock(ctx, testChainID, 10)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = idx.HasBlock(ctx, "other-chain", 10)
	require.NoError(t, err)
	assert.False(t, has)

	hash, ok, err := idx.AppHash(ctx, testChainID, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, hash)

	_, ok, err = idx.AppHash(ctx, testChainID, 11)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGapsAndCounts(t *testing.T) {
	idx := newTestIndex(t)
	ctx := t.Context()

	for _, h := range []uint64{1, 2, 3, 6, 7, 10} {
		_, err := idx.WriteBlock(ctx, testBatch(h))
		require.NoError(t, err)
	}
	gaps, err := idx.Gaps(ctx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, []indexer.Gap{{From: 4, To: 5}, {From: 8, To: 9}}, gaps)

	count, err := idx.CountBlocks(ctx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
	count, err = idx.CountBlocks(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)

	maxHeight, ok, err := idx.MaxHeight(ctx, testChainID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(10), maxHeight)
}

func TestViews(t *testing.T) {
	idx := newTestIndex(t)
	ctx := t.Context()
	_, err := idx.WriteBlock(ctx, testBatch(5))
	require.NoError(t, err)

	type viewRow struct {
		ChainID      string
		Type         string
		Key          string
		CompositeKey string
		Value        string
		Height       int64
	}
	var blockRows []viewRow
	require.NoError(t, idx.DB().
		Raw("SELECT * FROM block_events ORDER BY composite_key").
		Scan(&blockRows).Error)
	keys := make([]string, 0, len(blockRows))
	for _, row := range blockRows {
		assert.Equal(t, int64(5), row.Height)
		assert.Equal(t, testChainID, row.ChainID)
		keys = append(keys, row.CompositeKey)
	}
	assert.Equal(t, []string{"begin.n", "block.height", "commit_stats.txs"}, keys)

	var txRows []viewRow
	require.NoError(t, idx.DB().
		Raw("SELECT * FROM tx_events WHERE composite_key = ? ORDER BY value", "kv.key").
		Scan(&txRows).Error)
	require.Len(t, txRows, 2)
	assert.Equal(t, "a", txRows[0].Value)
	assert.Equal(t, "b", txRows[1].Value)
}

func TestWriteBlockZeroHeight(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.WriteBlock(t.Context(), indexer.BlockBatch{ChainID: testChainID})
	var writeErr *reindexer.IndexWriteError
	require.ErrorAs(t, err, &writeErr)
}
