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

func checkRun(cmd *cobra.Command, cfg *config.Config, opts node.CheckOptions) {
	overrideString(cmd, "archive-file", &cfg.ArchiveFile)
	overrideString(cmd, "database-url", &cfg.DatabaseURL)
	overrideString(cmd, "chain-id", &cfg.ChainID)

	logger := commonRun()
	if err := node.Check(cmd.Context(), cfg, logger, opts); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func checkCommand() *cobra.Command {
	var opts node.CheckOptions
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Look for gaps and unexpected counts in the archive and the index",
		Run: func(cmd *cobra.Command, args []string) {
			checkRun(cmd, configFromCommand(cmd), opts)
		},
	}
	cmd.Flags().String("archive-file", "", "archive file to check")
	cmd.Flags().String("database-url", "", "index database to check")
	cmd.Flags().String("chain-id", "", "chain to check, required when the archive holds several")
	cmd.Flags().Uint64Var(&opts.ExpectedBlocks, "expected-blocks", 0, "expected block count")
	cmd.Flags().Uint64Var(&opts.ExpectedGeneses, "expected-geneses", 0, "expected genesis count")
	return cmd
}
