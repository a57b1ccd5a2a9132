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

package cometbft

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultDBBackend   = "goleveldb"
	DefaultDBDir       = "data"
	DefaultGenesisFile = "config/genesis.json"

	// BlockStoreName is the database name CometBFT uses for its block
	// store inside the data directory.
	BlockStoreName = "blockstore"
)

// NodeConfig is the subset of a CometBFT node's config.toml needed to
// locate its block store and genesis file.
type NodeConfig struct {
	Home        string `toml:"-"`
	DBBackend   string `toml:"db_backend"`
	DBDir       string `toml:"db_dir"`
	GenesisFile string `toml:"genesis_file"`
}

// LoadNodeConfig reads <home>/config/config.toml. A missing file yields
// the CometBFT defaults.
func LoadNodeConfig(home string) (*NodeConfig, error) {
	cfg := &NodeConfig{Home: home}
	buf, err := os.ReadFile(filepath.Join(home, "config", "config.toml"))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read node config: %w", err)
		}
	} else if err := toml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parse node config: %w", err)
	}
	if cfg.DBBackend == "" {
		cfg.DBBackend = DefaultDBBackend
	}
	if cfg.DBDir == "" {
		cfg.DBDir = DefaultDBDir
	}
	if cfg.GenesisFile == "" {
		cfg.GenesisFile = DefaultGenesisFile
	}
	return cfg, nil
}

func (c *NodeConfig) rootify(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Home, path)
}

// DBPath is the directory holding the node's databases.
func (c *NodeConfig) DBPath() string {
	return c.rootify(c.DBDir)
}

// GenesisPath is the location of the node's genesis file.
func (c *NodeConfig) GenesisPath() string {
	return c.rootify(c.GenesisFile)
}
