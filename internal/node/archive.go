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

package node

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/blinklabs-io/reindexer/archive"
	"github.com/blinklabs-io/reindexer/internal/config"
	"github.com/blinklabs-io/reindexer/source"
	"github.com/blinklabs-io/reindexer/source/local"
	"github.com/blinklabs-io/reindexer/source/remote"
	"github.com/prometheus/client_golang/prometheus"
)

type ArchiveOptions struct {
	StopHeight uint64
}

// Archive copies blocks from the configured node home or remote RPC into
// the archive file.
func Archive(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	opts ArchiveOptions,
) error {
	return run(ctx, cfg, logger, func(ctx context.Context, registry prometheus.Registerer) (err error) {
		archivePath := cfg.ArchivePath()
		if archivePath == "" {
			return errors.New("an archive file or a chain id is required")
		}
		src, err := openSource(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := src.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("close source: %w", closeErr))
			}
		}()
		store, err := archive.New(archivePath, archive.WithLogger(logger))
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("close archive: %w", closeErr))
			}
		}()
		archiver, err := NewArchiver(ArchiverConfig{
			Source:       src,
			Archive:      store,
			Logger:       logger,
			PromRegistry: registry,
			ChainID:      cfg.ChainID,
			StopHeight:   opts.StopHeight,
		})
		if err != nil {
			return err
		}
		_, err = archiver.Run(ctx)
		return err
	})
}

func openSource(cfg *config.Config, logger *slog.Logger) (source.Source, error) {
	switch {
	case cfg.NodeHome != "" && cfg.RemoteRPC != "":
		return nil, errors.New("a node home and a remote rpc are mutually exclusive")
	case cfg.RemoteRPC != "":
		opts := []remote.SourceOptionFunc{
			remote.WithLogger(logger),
			remote.WithConcurrency(cfg.Concurrency),
		}
		if cfg.RequestsPerSec > 0 {
			opts = append(opts, remote.WithRateLimit(cfg.RequestsPerSec))
		}
		return remote.New(cfg.RemoteRPC, opts...)
	case cfg.NodeHome != "":
		return local.New(cfg.NodeHome, local.WithLogger(logger))
	default:
		return nil, errors.New("either a node home or a remote rpc is required")
	}
}

// openExistingArchive opens an archive file that must already exist, so a
// mistyped path is not silently created empty.
func openExistingArchive(path string, logger *slog.Logger) (*archive.Store, error) {
	if path == "" {
		return nil, errors.New("an archive file or a chain id is required")
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no archive at %s", path)
		}
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return archive.New(path, archive.WithLogger(logger))
}

// resolveChainID returns chainID, or the only chain in the archive.
func resolveChainID(
	ctx context.Context,
	store *archive.Store,
	chainID string,
) (string, error) {
	if chainID != "" {
		return chainID, nil
	}
	ids, err := store.ChainIDs(ctx)
	if err != nil {
		return "", err
	}
	if len(ids) != 1 {
		return "", fmt.Errorf(
			"archive holds %d chains, select one with a chain id",
			len(ids),
		)
	}
	return ids[0], nil
}
