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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/reindexer/bootstrap"
	"github.com/blinklabs-io/reindexer/indexer/plugin"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "reindexer.config"

const (
	envPrefix = "reindexer"

	DefaultShutdownTimeout = "30s"
	DefaultConcurrency     = 4
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	// Home holds bootstrapped archives, one directory per chain
	Home        string `yaml:"home"`
	ArchiveFile string `yaml:"archiveFile" split_words:"true"`
	DatabaseURL string `yaml:"databaseUrl" envconfig:"DATABASE_URL"`
	ChainID     string `yaml:"chainId"     envconfig:"CHAIN_ID"`
	WorkingDir  string `yaml:"workingDir"  split_words:"true"`
	// NodeHome is a CometBFT home directory used as a local block source
	NodeHome  string `yaml:"nodeHome"  split_words:"true"`
	RemoteRPC string `yaml:"remoteRpc" envconfig:"REMOTE_RPC"`
	// MetricsAddr enables the Prometheus endpoint when set
	MetricsAddr     string  `yaml:"metricsAddr"     split_words:"true"`
	ShutdownTimeout string  `yaml:"shutdownTimeout" split_words:"true"`
	Concurrency     int     `yaml:"concurrency"`
	RequestsPerSec  float64 `yaml:"requestsPerSec"  split_words:"true"`
	Tracing         bool    `yaml:"tracing"`
	TracingStdout   bool    `yaml:"tracingStdout"   split_words:"true"`
	AsyncIndex      bool    `yaml:"asyncIndex"      split_words:"true"`
}

// Defaults returns a Config holding the built-in defaults.
func Defaults() *Config {
	return &Config{
		ShutdownTimeout: DefaultShutdownTimeout,
		Concurrency:     DefaultConcurrency,
	}
}

// ArchivePath is the archive file to use: ArchiveFile when set, otherwise
// the bootstrapped archive for ChainID under Home.
func (c *Config) ArchivePath() string {
	if c.ArchiveFile != "" {
		return c.ArchiveFile
	}
	if c.ChainID == "" {
		return ""
	}
	return bootstrap.ArchivePath(c.Home, c.ChainID)
}

func (c *Config) ShutdownTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdownTimeout: %w", err)
	}
	return d, nil
}

// LoadConfig layers the config file, then REINDEXER_* environment
// variables, over the defaults. Without an explicit file it looks for
// ~/.reindexer/reindexer.yaml and then /etc/reindexer/reindexer.yaml.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Defaults()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := plugin.ProcessEnvVars(envPrefix); err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}
	if cfg.Home == "" {
		home, err := bootstrap.DefaultHome()
		if err != nil {
			return nil, err
		}
		cfg.Home = home
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf(
			"invalid concurrency: %d (must be at least 1)",
			cfg.Concurrency,
		)
	}
	if _, err := cfg.ShutdownTimeoutDuration(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".reindexer", "reindexer.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}
	systemPath := "/etc/reindexer/reindexer.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath
	}
	return ""
}
