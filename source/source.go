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

// Package source defines the uniform block source contract implemented by
// the local block-store reader and the remote RPC client.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/blinklabs-io/reindexer"
)

// BlockFunc receives blocks in strictly ascending height order.
type BlockFunc func(height uint64, raw []byte) error

// Source produces raw blocks and genesis documents on demand. All methods
// are read-only.
type Source interface {
	// Genesis returns the canonical genesis bytes served by the source.
	Genesis(ctx context.Context) ([]byte, error)
	// Block returns the raw block at height or reindexer.ErrBlockNotFound.
	Block(ctx context.Context, height uint64) ([]byte, error)
	FirstHeight(ctx context.Context) (uint64, error)
	LastHeight(ctx context.Context) (uint64, error)
	// Blocks streams the inclusive range [from, to] to fn in order.
	Blocks(ctx context.Context, from, to uint64, fn BlockFunc) error
	Close() error
}

// Sequential implements Blocks on top of per-height fetches. It suits
// sources whose reads are local and cheap. Fetch failures are returned as
// *reindexer.SourceError carrying chainID and the failed height.
func Sequential(
	ctx context.Context,
	chainID string,
	from, to uint64,
	fetch func(context.Context, uint64) ([]byte, error),
	fn BlockFunc,
) error {
	for height := from; height <= to; height++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := fetch(ctx, height)
		if err != nil {
			return wrapFetchError(ctx, chainID, height, err)
		}
		if err := fn(height, raw); err != nil {
			return err
		}
		// Guard against wraparound when to is the max uint64
		if height == to {
			break
		}
	}
	return nil
}

func wrapFetchError(
	ctx context.Context,
	chainID string,
	height uint64,
	err error,
) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var srcErr *reindexer.SourceError
	if errors.As(err, &srcErr) {
		return err
	}
	return reindexer.NewSourceError(
		reindexer.ErrorContext{ChainID: chainID, Height: height},
		fmt.Errorf("fetch block: %w", err),
	)
}
