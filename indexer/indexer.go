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

// Package indexer writes regenerated ABCI events into a relational index
// laid out like the CometBFT psql event sink. Back-ends live in the
// sqlite, postgres and mysql subpackages.
package indexer

import (
	"context"
	"time"

	abci "github.com/cometbft/cometbft/abci/types"
)

// TxBatch is one delivered transaction and its execution result.
type TxBatch struct {
	Result *abci.ExecTxResult
	Raw    []byte
}

// BlockBatch is everything written for one height, in one transaction.
type BlockBatch struct {
	Time             time.Time
	ChainID          string
	BeginBlockEvents []abci.Event
	Txs              []TxBatch
	EndBlockEvents   []abci.Event
	AppHash          []byte
	Height           uint64
}

// Result describes a completed WriteBlock call.
type Result struct {
	BlockID    uint64
	Events     int
	Attributes int
	// Skipped is set when the height was already indexed and existing
	// data is allowed.
	Skipped bool
}

// Gap is an inclusive range of missing heights.
type Gap struct {
	From uint64 `gorm:"column:gap_from"`
	To   uint64 `gorm:"column:gap_to"`
}

// Indexer is the event index contract used by the regeneration engine.
type Indexer interface {
	// WriteBlock writes a whole height atomically. A height that is
	// already present fails with reindexer.ErrAlreadyIndexed unless the
	// indexer allows existing data.
	WriteBlock(ctx context.Context, batch BlockBatch) (Result, error)
	HasBlock(ctx context.Context, chainID string, height uint64) (bool, error)
	// AppHash returns the recorded app hash for a height, if any.
	AppHash(ctx context.Context, chainID string, height uint64) ([]byte, bool, error)
	Gaps(ctx context.Context, chainID string) ([]Gap, error)
	// CountBlocks counts indexed blocks. An empty chainID counts all chains.
	CountBlocks(ctx context.Context, chainID string) (int64, error)
	Close() error
}
