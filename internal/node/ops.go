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
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/blinklabs-io/reindexer/bootstrap"
	"github.com/blinklabs-io/reindexer/check"
	"github.com/blinklabs-io/reindexer/cometbft"
	"github.com/blinklabs-io/reindexer/internal/config"
	"github.com/prometheus/client_golang/prometheus"
)

type CheckOptions struct {
	ExpectedBlocks  uint64
	ExpectedGeneses uint64
}

// Check runs the health checks against the archive file, the index, or
// both, whichever are configured. Failed checks are joined into the
// returned error.
func Check(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	opts CheckOptions,
) error {
	return run(ctx, cfg, logger, func(ctx context.Context, _ prometheus.Registerer) (err error) {
		checkCfg := check.Config{
			Logger:          logger,
			ChainID:         cfg.ChainID,
			ExpectedBlocks:  opts.ExpectedBlocks,
			ExpectedGeneses: opts.ExpectedGeneses,
		}
		// A bootstrapped archive is only checked when it is present
		archivePath := cfg.ArchivePath()
		if cfg.ArchiveFile == "" && !fileExists(archivePath) {
			archivePath = ""
		}
		if archivePath != "" {
			store, openErr := openExistingArchive(archivePath, logger)
			if openErr != nil {
				return openErr
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					err = errors.Join(err, fmt.Errorf("close archive: %w", closeErr))
				}
			}()
			checkCfg.Archive = store
		}
		if cfg.DatabaseURL != "" {
			idx, openErr := OpenIndex(cfg.DatabaseURL, true)
			if openErr != nil {
				return openErr
			}
			defer func() {
				if closeErr := idx.Close(); closeErr != nil {
					err = errors.Join(err, fmt.Errorf("close index: %w", closeErr))
				}
			}()
			checkCfg.Index = idx
		}
		report, err := check.Run(ctx, checkCfg)
		if err != nil {
			return err
		}
		if failed := report.Failed(); failed > 0 {
			return fmt.Errorf(
				"%d of %d checks failed: %w",
				failed,
				len(report.Results),
				report.Err(),
			)
		}
		logger.Info(
			"all checks passed",
			"component", "node",
			"chain_id", report.ChainID,
			"checks", len(report.Results),
		)
		return nil
	})
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// ExportGenesis writes the archived genesis starting at initialHeight to w
// as indented JSON. With a chain id set only that chain is searched.
func ExportGenesis(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	initialHeight uint64,
	w io.Writer,
) (err error) {
	store, err := openExistingArchive(cfg.ArchivePath(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close archive: %w", closeErr))
		}
	}()
	var gen *cometbft.Genesis
	if cfg.ChainID != "" {
		gen, err = store.Genesis(ctx, cfg.ChainID, initialHeight)
	} else {
		gen, err = store.GenesisAt(ctx, initialHeight)
	}
	if err != nil {
		return fmt.Errorf("genesis at height %d: %w", initialHeight, err)
	}
	pretty, err := gen.Indent()
	if err != nil {
		return err
	}
	if _, err := w.Write(pretty); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	return nil
}

const bootstrapProgressInterval = 10 * time.Second

type BootstrapOptions struct {
	URL    string
	SHA256 string
	Force  bool
}

// Bootstrap downloads and installs the published archive of the configured
// chain.
func Bootstrap(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	opts BootstrapOptions,
) error {
	return run(ctx, cfg, logger, func(ctx context.Context, _ prometheus.Registerer) error {
		if cfg.ChainID == "" {
			return errors.New("a chain id is required")
		}
		res, err := bootstrap.Run(ctx, bootstrap.Config{
			Logger:      logger,
			OnProgress:  bootstrap.LogProgress(logger, bootstrapProgressInterval),
			ChainID:     cfg.ChainID,
			Home:        cfg.Home,
			ArchiveFile: cfg.ArchiveFile,
			URL:         opts.URL,
			SHA256:      opts.SHA256,
			Force:       opts.Force,
		})
		if err != nil {
			return err
		}
		logger.Info(
			"bootstrap complete",
			"component", "node",
			"archive_file", res.ArchiveFile,
			"installed", res.Installed,
		)
		return nil
	})
}
