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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/blinklabs-io/reindexer/internal/config"
	"github.com/blinklabs-io/reindexer/internal/node"
	"github.com/spf13/cobra"
)

func exportGenesisRun(
	cmd *cobra.Command,
	cfg *config.Config,
	args []string,
	output string,
) (err error) {
	overrideString(cmd, "archive-file", &cfg.ArchiveFile)
	overrideString(cmd, "chain-id", &cfg.ChainID)
	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid height %q: %w", args[0], err)
	}
	// Logs go to stderr so the genesis can be piped from stdout
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	var w io.Writer = os.Stdout
	if output != "" && output != "-" {
		f, createErr := os.Create(output)
		if createErr != nil {
			return fmt.Errorf("create output file: %w", createErr)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("close output file: %w", closeErr))
			}
		}()
		w = f
	}
	if err := node.ExportGenesis(cmd.Context(), cfg, logger, height, w); err != nil {
		return err
	}
	if output != "" && output != "-" {
		logger.Info("exported genesis", "height", height, "file", output)
	}
	return nil
}

func exportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export data from the archive",
	}
	var output string
	genesisCmd := &cobra.Command{
		Use:   "genesis HEIGHT",
		Short: "Write the archived genesis starting at HEIGHT as JSON",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := configFromCommand(cmd)
			if err := exportGenesisRun(cmd, cfg, args, output); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
	genesisCmd.Flags().String("archive-file", "", "archive file to read")
	genesisCmd.Flags().String("chain-id", "", "only consider this chain")
	genesisCmd.Flags().StringVarP(&output, "output", "o", "", "output file, stdout when empty")
	cmd.AddCommand(genesisCmd)
	return cmd
}
