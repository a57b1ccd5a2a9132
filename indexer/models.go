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

package indexer

import "time"

// AppHashTable is the audit table name on back-ends that support schemas.
// Back-ends without schemas use AppHashTableFlat.
const (
	AppHashSchema    = "debug"
	AppHashTable     = "debug.app_hash"
	AppHashTableFlat = "debug_app_hash"
)

// Block is a row of the blocks table.
type Block struct {
	CreatedAt time.Time `gorm:"not null"`
	ChainID   string    `gorm:"size:255;not null;uniqueIndex:idx_blocks_height_chain,priority:2"`
	Height    int64     `gorm:"not null;uniqueIndex:idx_blocks_height_chain,priority:1"`
	RowID     uint64    `gorm:"column:rowid;primaryKey;autoIncrement"`
}

func (Block) TableName() string {
	return "blocks"
}

// TxResult is a row of the tx_results table. TxResult holds the protobuf
// encoding of abci.TxResult.
type TxResult struct {
	CreatedAt time.Time `gorm:"not null"`
	Block     *Block    `gorm:"foreignKey:BlockID;references:RowID"`
	TxHash    string    `gorm:"size:64;not null;index"`
	TxResult  []byte    `gorm:"not null"`
	RowID     uint64    `gorm:"column:rowid;primaryKey;autoIncrement"`
	BlockID   uint64    `gorm:"not null;uniqueIndex:idx_tx_results_block_index,priority:1"`
	Index     uint32    `gorm:"column:index;not null;uniqueIndex:idx_tx_results_block_index,priority:2"`
}

func (TxResult) TableName() string {
	return "tx_results"
}

// Event is a row of the events table. TxID is nil for block-level events.
type Event struct {
	Block   *Block    `gorm:"foreignKey:BlockID;references:RowID"`
	Tx      *TxResult `gorm:"foreignKey:TxID;references:RowID"`
	TxID    *uint64   `gorm:"index"`
	Type    string    `gorm:"not null"`
	RowID   uint64    `gorm:"column:rowid;primaryKey;autoIncrement"`
	BlockID uint64    `gorm:"not null;index"`
}

func (Event) TableName() string {
	return "events"
}

// Attribute is a row of the attributes table.
type Attribute struct {
	Event        *Event `gorm:"foreignKey:EventID;references:RowID"`
	Key          string `gorm:"primaryKey;size:255"`
	CompositeKey string `gorm:"not null"`
	Value        string
	EventID      uint64 `gorm:"primaryKey;autoIncrement:false"`
}

func (Attribute) TableName() string {
	return "attributes"
}

// AppHash records the app hash computed for each indexed block. Its table
// name depends on the back-end, see AppHashTable.
type AppHash struct {
	AppHash []byte `gorm:"not null"`
	RowID   uint64 `gorm:"column:rowid;primaryKey;autoIncrement"`
	BlockID uint64 `gorm:"not null;uniqueIndex"`
}

// MigrateModels lists the index tables in creation order. The app hash
// table is migrated separately.
var MigrateModels = []any{
	&Block{},
	&TxResult{},
	&Event{},
	&Attribute{},
}
