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

package archive

import (
	"context"
	"fmt"

	"github.com/blinklabs-io/reindexer"
)

const defaultPageSize = 256

type blockRow struct {
	Data   []byte
	Height uint64
}

// BlockIterator walks an inclusive height range in ascending order, one
// page at a time. It stops with a GapError at the first missing height.
//
//	it := store.Blocks(ctx, chainID, from, to)
//	for it.Next() {
//		height, raw := it.Height(), it.Raw()
//	}
//	if err := it.Err(); err != nil { ... }
type BlockIterator struct {
	ctx      context.Context
	store    *Store
	err      error
	chainID  string
	page     []blockRow
	pos      int
	from     uint64
	to       uint64
	next     uint64
	pageSize int
	done     bool
}

// Blocks returns an iterator over the archived blocks of chainID in
// [from, to].
func (s *Store) Blocks(
	ctx context.Context,
	chainID string,
	from, to uint64,
) *BlockIterator {
	it := &BlockIterator{
		ctx:      ctx,
		store:    s,
		chainID:  chainID,
		from:     from,
		to:       to,
		pageSize: defaultPageSize,
	}
	it.Reset()
	return it
}

// WithPageSize changes the number of rows fetched per query.
func (it *BlockIterator) WithPageSize(size int) *BlockIterator {
	if size > 0 {
		it.pageSize = size
	}
	return it
}

// Reset rewinds the iterator to the start of its range.
func (it *BlockIterator) Reset() {
	it.next = it.from
	it.page = nil
	it.pos = 0
	it.err = nil
	it.done = it.from > it.to
}

func (it *BlockIterator) fail(err error) bool {
	it.err = err
	it.done = true
	it.page = nil
	return false
}

// Next advances to the next height. It returns false at the end of the
// range or on error.
func (it *BlockIterator) Next() bool {
	if it.done {
		return false
	}
	if it.pos+1 < len(it.page) {
		it.pos++
		return it.check()
	}
	if err := it.ctx.Err(); err != nil {
		return it.fail(err)
	}
	var rows []blockRow
	result := it.store.db.WithContext(it.ctx).
		Model(&Block{}).
		Select("blocks.height, blobs.data").
		Joins("JOIN blobs ON blobs.id = blocks.blob_id").
		Where(
			"blocks.chain_id = ? AND blocks.height >= ? AND blocks.height <= ?",
			it.chainID,
			it.next,
			it.to,
		).
		Order("blocks.height ASC").
		Limit(it.pageSize).
		Scan(&rows)
	if result.Error != nil {
		return it.fail(fmt.Errorf("read blocks from %d: %w", it.next, result.Error))
	}
	if len(rows) == 0 {
		return it.fail(reindexer.NewGapError(
			reindexer.ErrorContext{ChainID: it.chainID, Height: it.next},
			it.next,
			it.to,
		))
	}
	it.page = rows
	it.pos = 0
	return it.check()
}

// check verifies the current row is the expected next height.
func (it *BlockIterator) check() bool {
	row := it.page[it.pos]
	if row.Height != it.next {
		return it.fail(reindexer.NewGapError(
			reindexer.ErrorContext{ChainID: it.chainID, Height: it.next},
			it.next,
			row.Height-1,
		))
	}
	if it.next == it.to {
		// Current row stays readable; the next call ends iteration
		it.done = true
		return true
	}
	it.next++
	return true
}

// Height returns the height of the current block.
func (it *BlockIterator) Height() uint64 {
	if it.pos >= len(it.page) {
		return 0
	}
	return it.page[it.pos].Height
}

// Raw returns the raw bytes of the current block.
func (it *BlockIterator) Raw() []byte {
	if it.pos >= len(it.page) {
		return nil
	}
	return it.page[it.pos].Data
}

// Err returns the error that stopped iteration, if any.
func (it *BlockIterator) Err() error {
	return it.err
}
