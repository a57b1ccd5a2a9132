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

// Package execution defines the per-era state transition contract and the
// registry that maps module ids to implementations.
package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blinklabs-io/reindexer/cometbft"
	abci "github.com/cometbft/cometbft/abci/types"
)

// Metadata is the chain position a module's state is at.
type Metadata struct {
	ChainID string
	Height  uint64
}

// HaltRequestedError is returned by BeginBlock when the module has reached
// the upgrade boundary of its era. It is control flow, not a failure.
type HaltRequestedError struct {
	Height uint64
}

func (e *HaltRequestedError) Error() string {
	return fmt.Sprintf("halt requested at height %d", e.Height)
}

// Module replays the blocks of one era. Calls for a height always come in
// the order BeginBlock, DeliverTx per transaction, EndBlock, Commit.
type Module interface {
	// InitChain initializes fresh state from the era's genesis.
	InitChain(ctx context.Context, genesis *cometbft.Genesis) error
	// Restore reloads state persisted by an earlier run.
	Restore(ctx context.Context) (Metadata, error)
	BeginBlock(ctx context.Context, block *cometbft.Block) ([]abci.Event, error)
	DeliverTx(ctx context.Context, tx []byte) (*abci.ExecTxResult, error)
	EndBlock(ctx context.Context) ([]abci.Event, error)
	// Commit finalizes the block and returns the app hash.
	Commit(ctx context.Context) ([]byte, error)
	Metadata(ctx context.Context) (Metadata, error)
	Close() error
}

// Config is handed to a module factory.
type Config struct {
	State    State
	Logger   *slog.Logger
	ModuleID string
}

// State is the namespaced storage a module persists into. Writes become
// durable only when the engine commits the height.
type State interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte)
	Delete(key []byte)
	Clear() error
	Iterate(fn func(key, value []byte) error) error
}

// Factory builds a module instance.
type Factory func(cfg Config) (Module, error)
