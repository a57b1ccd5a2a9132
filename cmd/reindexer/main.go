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
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/blinklabs-io/reindexer/indexer/plugin"
	"github.com/blinklabs-io/reindexer/internal/config"
	"github.com/blinklabs-io/reindexer/internal/version"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	// Index back-ends, so their flags are registered before parsing
	_ "github.com/blinklabs-io/reindexer/indexer/mysql"
	_ "github.com/blinklabs-io/reindexer/indexer/postgres"
	_ "github.com/blinklabs-io/reindexer/indexer/sqlite"
)

const (
	programName = "reindexer"
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...),
		"component", programName,
	)
}

var (
	globalFlags = struct {
		debug         bool
		metricsAddr   string
		tracing       bool
		tracingStdout bool
	}{}
	configFile string
)

func commonRun() *slog.Logger {
	// Configure logger
	logLevel := slog.LevelInfo
	addSource := false
	if globalFlags.debug {
		logLevel = slog.LevelDebug
		addSource = true
	}
	handlerOpts := &slog.HandlerOptions{
		AddSource: addSource,
		Level:     logLevel,
	}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) ||
		isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	// Configure max processes with our logger wrapper, toss undo func
	_, err := maxprocs.Set(maxprocs.Logger(slogPrintf))
	if err != nil {
		// If we hit this, something really wrong happened
		slog.Error(err.Error())
		os.Exit(1)
	}
	logger.Info(
		"version: "+version.GetVersionString(),
		"component", programName,
	)
	return logger
}

// configFromCommand returns the config loaded by the root command.
func configFromCommand(cmd *cobra.Command) *config.Config {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		slog.Error("no config found in context")
		os.Exit(1)
	}
	return cfg
}

func overrideString(cmd *cobra.Command, name string, dst *string) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v, err := cmd.Flags().GetString(name)
	if err == nil {
		*dst = v
	}
}

func overrideInt(cmd *cobra.Command, name string, dst *int) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v, err := cmd.Flags().GetInt(name)
	if err == nil {
		*dst = v
	}
}

func overrideFloat(cmd *cobra.Command, name string, dst *float64) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v, err := cmd.Flags().GetFloat64(name)
	if err == nil {
		*dst = v
	}
}

func overrideBool(cmd *cobra.Command, name string, dst *bool) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v, err := cmd.Flags().GetBool(name)
	if err == nil {
		*dst = v
	}
}

func listAllPlugins() string {
	var buf strings.Builder
	buf.WriteString("Available index plugins:\n")
	for _, p := range plugin.GetPlugins(plugin.PluginTypeIndex) {
		buf.WriteString(fmt.Sprintf("  %s: %s\n", p.Name, p.Description))
	}
	return buf.String()
}

func listCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all available index plugins",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(listAllPlugins())
		},
	}
	return cmd
}

func versionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", programName, version.GetVersionString())
		},
	}
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Archive CometBFT blocks and regenerate event indexes from them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().
		BoolVar(&globalFlags.tracing, "tracing", false, "export traces over OTLP/HTTP")
	rootCmd.PersistentFlags().
		BoolVar(&globalFlags.tracingStdout, "tracing-stdout", false, "print traces to stdout instead of exporting them")

	// Add plugin-specific flags
	if err := plugin.PopulateCmdlineOptions(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Error adding plugin flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// Override config with command line flags
		overrideString(cmd, "metrics-addr", &cfg.MetricsAddr)
		overrideBool(cmd, "tracing", &cfg.Tracing)
		overrideBool(cmd, "tracing-stdout", &cfg.TracingStdout)
		if cfg.TracingStdout {
			cfg.Tracing = true
		}
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	// Subcommands
	rootCmd.AddCommand(archiveCommand())
	rootCmd.AddCommand(regenCommand())
	rootCmd.AddCommand(checkCommand())
	rootCmd.AddCommand(exportCommand())
	rootCmd.AddCommand(bootstrapCommand())
	rootCmd.AddCommand(listCommand())
	rootCmd.AddCommand(versionCommand())

	// Execute cobra command
	if err := rootCmd.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
