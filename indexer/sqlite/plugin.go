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

package sqlite

import (
	"log/slog"
	"sync"

	"github.com/blinklabs-io/reindexer/indexer/plugin"
)

var (
	cmdlineOptions struct {
		path              string
		allowExistingData bool
	}
	cmdlineOptionsMutex sync.RWMutex
)

// initCmdlineOptions sets default values for cmdlineOptions
func initCmdlineOptions() {
	cmdlineOptionsMutex.Lock()
	defer cmdlineOptionsMutex.Unlock()
	cmdlineOptions.path = ""
	cmdlineOptions.allowExistingData = false
}

// Register plugin
func init() {
	initCmdlineOptions()
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeIndex,
			Name:               "sqlite",
			Description:        "SQLite event index",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				{
					Name:         "path",
					Type:         plugin.PluginOptionTypeString,
					Description:  "Index database file, in memory when empty",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.path),
				},
				{
					Name:         "allow-existing-data",
					Type:         plugin.PluginOptionTypeBool,
					Description:  "Skip heights that are already indexed",
					DefaultValue: false,
					Dest:         &(cmdlineOptions.allowExistingData),
				},
			},
		},
	)
}

func NewFromCmdlineOptions() plugin.Plugin {
	cmdlineOptionsMutex.RLock()
	path := cmdlineOptions.path
	allowExistingData := cmdlineOptions.allowExistingData
	cmdlineOptionsMutex.RUnlock()

	p, err := NewWithOptions(
		WithPath(path),
		WithAllowExistingData(allowExistingData),
		WithLogger(slog.Default()),
	)
	if err != nil {
		return plugin.NewErrorPlugin(err)
	}
	return p
}
