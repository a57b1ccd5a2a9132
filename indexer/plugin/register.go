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

package plugin

import (
	"github.com/spf13/pflag"
)

type PluginType int

const (
	PluginTypeIndex PluginType = 1
)

func PluginTypeName(pluginType PluginType) string {
	switch pluginType {
	case PluginTypeIndex:
		return "index"
	default:
		return ""
	}
}

type PluginEntry struct {
	NewFromOptionsFunc func() Plugin
	Name               string
	Description        string
	Options            []PluginOption
	Type               PluginType
}

var pluginEntries []PluginEntry

// Register adds a plugin entry. It is called from the back-ends' init.
func Register(pluginEntry PluginEntry) {
	pluginEntries = append(pluginEntries, pluginEntry)
}

// PopulateCmdlineOptions adds every registered option to fs.
func PopulateCmdlineOptions(fs *pflag.FlagSet) error {
	for _, entry := range pluginEntries {
		for i := range entry.Options {
			if err := entry.Options[i].AddToFlagSet(
				fs,
				PluginTypeName(entry.Type),
				entry.Name,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessEnvVars applies environment overrides to every registered option.
func ProcessEnvVars(envPrefix string) error {
	for _, entry := range pluginEntries {
		for i := range entry.Options {
			if err := entry.Options[i].ProcessEnvVars(
				envPrefix,
				PluginTypeName(entry.Type),
				entry.Name,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetPlugins lists the entries of a plugin type in registration order.
func GetPlugins(pluginType PluginType) []PluginEntry {
	var ret []PluginEntry
	for _, entry := range pluginEntries {
		if entry.Type == pluginType {
			ret = append(ret, entry)
		}
	}
	return ret
}

// GetPlugin builds a new instance of the named plugin, or returns nil.
func GetPlugin(pluginType PluginType, pluginName string) Plugin {
	for _, entry := range pluginEntries {
		if entry.Type == pluginType && entry.Name == pluginName {
			return entry.NewFromOptionsFunc()
		}
	}
	return nil
}
