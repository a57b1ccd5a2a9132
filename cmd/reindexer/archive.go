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

func archiveRun(cmd *cobra.Command, cfg *config.Config, opts node.ArchiveOptions) {
	overrideString(cmd, "home", &cfg.NodeHome)
	overrideString(cmd, "remote-rpc", &cfg.RemoteRPC)
	overrideString(cmd, "archive-file", &cfg.ArchiveFile)
	overrideString(cmd, "chain-id", &cfg.ChainID)
	overrideInt(cmd, "concurrency", &cfg.Concurrency)
	overrideFloat(cmd, "requests-per-sec", &cfg.RequestsPerSec)

	logger := commonRun()
	if err := node.Archive(cmd.Context(), cfg, logger, opts); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func archiveCommand() *cobra.Command {
	var opts node.ArchiveOptions
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy blocks from a CometBFT node home or RPC into the archive",
		Run: func(cmd *cobra.Command, args []string) {
			archiveRun(cmd, configFromCommand(cmd), opts)
		},
	}
	cmd.Flags().String("home", "", "CometBFT node home to read the block store from")
	cmd.Flags().String("remote-rpc", "", "CometBFT RPC endpoint to fetch blocks from")
	cmd.Flags().String("archive-file", "", "archive file to write")
	cmd.Flags().String("chain-id", "", "expected chain id of the source")
	cmd.Flags().Int("concurrency", config.DefaultConcurrency, "parallel RPC requests")
	cmd.Flags().Float64("requests-per-sec", 0, "RPC request rate limit, 0 for the default")
	cmd.Flags().Uint64Var(&opts.StopHeight, "stop-height", 0, "last height to archive")
	cmd.MarkFlagsMutuallyExclusive("home", "remote-rpc")
	return cmd
}
