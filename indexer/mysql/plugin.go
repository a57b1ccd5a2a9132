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

package mysql

import (
	"log/slog"
	"sync"

	"github.com/blinklabs-io/reindexer/indexer/plugin"
)

var (
	cmdlineOptions struct {
		dsn               string
		allowExistingData bool
	}
	cmdlineOptionsMutex sync.RWMutex
)

// initCmdlineOptions sets default values for cmdlineOptions
func initCmdlineOptions() {
	cmdlineOptionsMutex.Lock()
	defer cmdlineOptionsMutex.Unlock()
	cmdlineOptions.dsn = ""
	cmdlineOptions.allowExistingData = false
}

// Register plugin
func init() {
	initCmdlineOptions()
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeIndex,
			Name:               "mysql",
			Description:        "MySQL event index",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				{
					Name:         "dsn",
					Type:         plugin.PluginOptionTypeString,
					Description:  "MySQL connection URL or DSN",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.dsn),
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
	dsn := cmdlineOptions.dsn
	allowExistingData := cmdlineOptions.allowExistingData
	cmdlineOptionsMutex.RUnlock()

	p, err := NewWithOptions(
		WithDSN(dsn),
		WithAllowExistingData(allowExistingData),
		WithLogger(slog.Default()),
	)
	if err != nil {
		return plugin.NewErrorPlugin(err)
	}
	return p
}
