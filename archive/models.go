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

// Metadata holds the archive format version.
type Metadata struct {
	Version string `gorm:"not null"`
	ID      uint   `gorm:"primaryKey"`
}

func (Metadata) TableName() string {
	return "metadata"
}

// Blob holds a block or genesis payload, deduplicated by SHA-256.
type Blob struct {
	Hash []byte `gorm:"uniqueIndex;size:32;not null"`
	Data []byte `gorm:"not null"`
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
}

func (Blob) TableName() string {
	return "blobs"
}

// Block maps a (chain, height) pair to its raw block payload.
type Block struct {
	ChainID string `gorm:"primaryKey"`
	Height  uint64 `gorm:"primaryKey;autoIncrement:false"`
	BlobID  uint64 `gorm:"not null;index"`
}

func (Block) TableName() string {
	return "blocks"
}

// Genesis maps a (chain, initial height) pair to its genesis document.
type Genesis struct {
	ChainID       string `gorm:"primaryKey"`
	InitialHeight uint64 `gorm:"primaryKey;autoIncrement:false"`
	BlobID        uint64 `gorm:"not null"`
}

func (Genesis) TableName() string {
	return "geneses"
}

// MigrateModels lists the tables created when an archive is opened.
var MigrateModels = []any{
	&Metadata{},
	&Blob{},
	&Block{},
	&Genesis{},
}
