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

// Package local reads blocks straight out of a stopped CometBFT node's
// block store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/cometbft"
	"github.com/blinklabs-io/reindexer/source"
)

const defaultBufferSize = 64 * 1024

type Source struct {
	handle  *Handle
	config  *cometbft.NodeConfig
	logger  *slog.Logger
	chainID string
	buf     []byte
}

type SourceOptionFunc func(*Source)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) SourceOptionFunc {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithBufferSize sets the initial block buffer size. The buffer grows on
// demand.
func WithBufferSize(size int) SourceOptionFunc {
	return func(s *Source) {
		if size > 0 {
			s.buf = make([]byte, size)
		}
	}
}

// New opens the block store of the node whose home directory is home.
func New(home string, opts ...SourceOptionFunc) (*Source, error) {
	s := &Source{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "source.local")
	if s.buf == nil {
		s.buf = make([]byte, defaultBufferSize)
	}
	cfg, err := cometbft.LoadNodeConfig(home)
	if err != nil {
		return nil, reindexer.NewSourceError(reindexer.ErrorContext{}, err)
	}
	s.config = cfg
	handle, err := Open(cfg.DBPath(), cfg.DBBackend)
	if err != nil {
		return nil, reindexer.NewSourceError(reindexer.ErrorContext{}, err)
	}
	s.handle = handle
	s.logger.Debug(
		"opened block store",
		"path", cfg.DBPath(),
		"backend", cfg.DBBackend,
		"base", handle.Base(),
		"height", handle.Height(),
	)
	return s, nil
}

func (s *Source) Genesis(_ context.Context) ([]byte, error) {
	raw, err := os.ReadFile(s.config.GenesisPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, reindexer.NewSourceError(
				reindexer.ErrorContext{},
				fmt.Errorf(
					"%w: %s",
					reindexer.ErrGenesisNotFound,
					s.config.GenesisPath(),
				),
			)
		}
		return nil, reindexer.NewSourceError(reindexer.ErrorContext{}, err)
	}
	canonical, gen, err := cometbft.CanonicalGenesis(raw)
	if err != nil {
		return nil, reindexer.NewSourceError(reindexer.ErrorContext{}, err)
	}
	s.chainID = gen.ChainID
	return canonical, nil
}

func (s *Source) Block(ctx context.Context, height uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if height > math.MaxInt64 {
		return nil, reindexer.ErrBlockNotFound
	}
	for {
		n, err := s.handle.BlockByHeight(int64(height), s.buf)
		if err != nil {
			var tooSmall *BufferTooSmallError
			if errors.As(err, &tooSmall) {
				s.buf = make([]byte, tooSmall.Needed)
				continue
			}
			return nil, err
		}
		ret := make([]byte, n)
		copy(ret, s.buf[:n])
		return ret, nil
	}
}

func (s *Source) FirstHeight(_ context.Context) (uint64, error) {
	return uint64(max(s.handle.Base(), 0)), nil
}

func (s *Source) LastHeight(_ context.Context) (uint64, error) {
	return uint64(max(s.handle.Height(), 0)), nil
}

func (s *Source) Blocks(
	ctx context.Context,
	from, to uint64,
	fn source.BlockFunc,
) error {
	return source.Sequential(ctx, s.chainID, from, to, s.Block, fn)
}

func (s *Source) Close() error {
	return s.handle.Close()
}
