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
	"log/slog"
	"path/filepath"

	"github.com/blinklabs-io/reindexer/internal/config"
	"github.com/blinklabs-io/reindexer/regen"
	"github.com/prometheus/client_golang/prometheus"

	// Built-in execution modules
	_ "github.com/blinklabs-io/reindexer/execution/kvstore"
)

type RegenOptions struct {
	StartHeight       uint64
	StopHeight        uint64
	Clean             bool
	AllowExistingData bool
}

// Regen replays the archive into the index selected by the database URL.
func Regen(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	opts RegenOptions,
) error {
	return run(ctx, cfg, logger, func(ctx context.Context, registry prometheus.Registerer) (err error) {
		if cfg.DatabaseURL == "" {
			return errors.New("a database url is required")
		}
		store, err := openExistingArchive(cfg.ArchivePath(), logger)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("close archive: %w", closeErr))
			}
		}()
		chainID, err := resolveChainID(ctx, store, cfg.ChainID)
		if err != nil {
			return err
		}
		workingDir := cfg.WorkingDir
		if workingDir == "" {
			workingDir = filepath.Join(cfg.Home, chainID, "regen")
		}
		idx, err := OpenIndex(cfg.DatabaseURL, opts.AllowExistingData)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := idx.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("close index: %w", closeErr))
			}
		}()
		engine, err := regen.New(regen.Config{
			Archive:           store,
			Indexer:           idx,
			Logger:            logger,
			PromRegistry:      registry,
			ChainID:           chainID,
			WorkingDir:        workingDir,
			StartHeight:       opts.StartHeight,
			StopHeight:        opts.StopHeight,
			Clean:             opts.Clean,
			AllowExistingData: opts.AllowExistingData,
			AsyncIndex:        cfg.AsyncIndex,
		})
		if err != nil {
			return err
		}
		runErr := engine.Run(ctx)
		stats := engine.Stats()
		logger.Info(
			"regeneration stopped",
			"component", "node",
			"phase", engine.Phase().String(),
			"chain_id", chainID,
			"first_height", stats.FirstHeight,
			"last_height", stats.LastHeight,
			"executed", stats.Executed,
			"indexed", stats.Indexed,
			"skipped", stats.Skipped,
			"eras", stats.Eras,
		)
		return runErr
	})
}
