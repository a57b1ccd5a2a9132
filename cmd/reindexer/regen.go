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

package main

import (
	"log/slog"
	"os"

	"github.com/blinklabs-io/reindexer/internal/config"
	"github.com/blinklabs-io/reindexer/internal/node"
	"github.com/spf13/cobra"
)

func regenRun(cmd *cobra.Command, cfg *config.Config, opts node.RegenOptions) {
	overrideString(cmd, "archive-file", &cfg.ArchiveFile)
	overrideString(cmd, "database-url", &cfg.DatabaseURL)
	overrideString(cmd, "chain-id", &cfg.ChainID)
	overrideString(cmd, "working-dir", &cfg.WorkingDir)
	overrideBool(cmd, "async-index", &cfg.AsyncIndex)

	logger := commonRun()
	if err := node.Regen(cmd.Context(), cfg, logger, opts); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func regenCommand() *cobra.Command {
	var opts node.RegenOptions
	cmd := &cobra.Command{
		Use:   "regen",
		Short: "Replay the archive and rebuild the event index",
		Run: func(cmd *cobra.Command, args []string) {
			regenRun(cmd, configFromCommand(cmd), opts)
		},
	}
	cmd.Flags().String("archive-file", "", "archive file to replay")
	cmd.Flags().String("database-url", "", "index database (postgres://, mysql://, sqlite:// or a file path)")
	cmd.Flags().String("chain-id", "", "chain to replay, required when the archive holds several")
	cmd.Flags().String("working-dir", "", "directory for module state and the checkpoint")
	cmd.Flags().Bool("async-index", false, "write the index of a height while the next one executes")
	cmd.Flags().Uint64Var(&opts.StartHeight, "start-height", 0, "first height to write to the index")
	cmd.Flags().Uint64Var(&opts.StopHeight, "stop-height", 0, "last height to replay")
	cmd.Flags().BoolVar(&opts.Clean, "clean", false, "discard the working directory before starting")
	cmd.Flags().BoolVar(&opts.AllowExistingData, "allow-existing-data", false, "skip heights that are already indexed")
	return cmd
}
