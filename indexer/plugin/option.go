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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

type PluginOptionType int

const (
	PluginOptionTypeString PluginOptionType = 1
	PluginOptionTypeBool   PluginOptionType = 2
	PluginOptionTypeInt    PluginOptionType = 3
	PluginOptionTypeUint   PluginOptionType = 4
)

// PluginOption describes one setting of a plugin. Dest must point at a
// value of the matching Go type.
type PluginOption struct {
	DefaultValue any
	Dest         any
	Name         string
	Description  string
	CustomFlag   string
	CustomEnvVar string
	Type         PluginOptionType
}

func (p *PluginOption) flagName(pluginType string, pluginName string) string {
	if p.CustomFlag != "" {
		return pluginType + "-" + p.CustomFlag
	}
	return pluginType + "-" + pluginName + "-" + p.Name
}

// AddToFlagSet registers the option as <type>-<plugin>-<name>.
func (p *PluginOption) AddToFlagSet(
	fs *pflag.FlagSet,
	pluginType string,
	pluginName string,
) error {
	name := p.flagName(pluginType, pluginName)
	switch p.Type {
	case PluginOptionTypeString:
		dest, ok := p.Dest.(*string)
		def, okDef := p.DefaultValue.(string)
		if !ok || !okDef {
			return fmt.Errorf("option %s: expected string", name)
		}
		fs.StringVar(dest, name, def, p.Description)
	case PluginOptionTypeBool:
		dest, ok := p.Dest.(*bool)
		def, okDef := p.DefaultValue.(bool)
		if !ok || !okDef {
			return fmt.Errorf("option %s: expected bool", name)
		}
		fs.BoolVar(dest, name, def, p.Description)
	case PluginOptionTypeInt:
		dest, ok := p.Dest.(*int)
		def, okDef := p.DefaultValue.(int)
		if !ok || !okDef {
			return fmt.Errorf("option %s: expected int", name)
		}
		fs.IntVar(dest, name, def, p.Description)
	case PluginOptionTypeUint:
		dest, ok := p.Dest.(*uint64)
		def, okDef := p.DefaultValue.(uint64)
		if !ok || !okDef {
			return fmt.Errorf("option %s: expected uint64", name)
		}
		fs.Uint64Var(dest, name, def, p.Description)
	default:
		return fmt.Errorf("unknown plugin option type %d for option %s", p.Type, name)
	}
	return nil
}

// ProcessEnvVars reads the option from <PREFIX>_<TYPE>_<PLUGIN>_<NAME>,
// or from CustomEnvVar when set.
func (p *PluginOption) ProcessEnvVars(
	envPrefix string,
	pluginType string,
	pluginName string,
) error {
	envVar := p.CustomEnvVar
	if envVar == "" {
		envVar = strings.ToUpper(
			strings.ReplaceAll(
				envPrefix+"_"+pluginType+"_"+pluginName+"_"+p.Name,
				"-",
				"_",
			),
		)
	}
	value, ok := os.LookupEnv(envVar)
	if !ok {
		return nil
	}
	switch p.Type {
	case PluginOptionTypeString:
		return assign[string](*p, value)
	case PluginOptionTypeBool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envVar, err)
		}
		return assign[bool](*p, v)
	case PluginOptionTypeInt:
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envVar, err)
		}
		return assign[int](*p, v)
	case PluginOptionTypeUint:
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envVar, err)
		}
		return assign[uint64](*p, v)
	default:
		return fmt.Errorf("unknown plugin option type %d for option %s", p.Type, p.Name)
	}
}
