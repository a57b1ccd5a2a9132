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

func bootstrapRun(cmd *cobra.Command, cfg *config.Config, opts node.BootstrapOptions) {
	overrideString(cmd, "chain-id", &cfg.ChainID)
	overrideString(cmd, "home", &cfg.Home)
	overrideString(cmd, "archive-file", &cfg.ArchiveFile)

	logger := commonRun()
	if err := node.Bootstrap(cmd.Context(), cfg, logger, opts); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func bootstrapCommand() *cobra.Command {
	var opts node.BootstrapOptions
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Download and install a published archive",
		Run: func(cmd *cobra.Command, args []string) {
			bootstrapRun(cmd, configFromCommand(cmd), opts)
		},
	}
	cmd.Flags().String("chain-id", "", "chain whose archive to download")
	cmd.Flags().String("home", "", "directory holding downloaded archives")
	cmd.Flags().String("archive-file", "", "where to install the archive")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "replace an existing archive file")
	cmd.Flags().StringVar(&opts.URL, "url", "", "download from this URL instead of the known archive")
	cmd.Flags().StringVar(&opts.SHA256, "sha256", "", "expected SHA-256 of the download")
	return cmd
}
