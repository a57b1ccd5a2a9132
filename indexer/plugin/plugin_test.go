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

package plugin_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/blinklabs-io/reindexer/indexer/plugin"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPlugin struct {
	started bool
}

func (m *mockPlugin) Start() error {
	m.started = true
	return nil
}

func (m *mockPlugin) Stop() error { return nil }

type mockOptions struct {
	dsn     string
	verbose bool
	poolMax uint64
}

func registerMock(t *testing.T) (string, *mockOptions) {
	t.Helper()
	opts := &mockOptions{}
	name := "mock-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeIndex,
		Name:               name,
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
		Options: []plugin.PluginOption{
			{
				Name:         "dsn",
				Type:         plugin.PluginOptionTypeString,
				DefaultValue: "",
				Dest:         &(opts.dsn),
			},
			{
				Name:         "verbose",
				Type:         plugin.PluginOptionTypeBool,
				DefaultValue: false,
				Dest:         &(opts.verbose),
			},
			{
				Name:         "pool-max",
				Type:         plugin.PluginOptionTypeUint,
				DefaultValue: uint64(10),
				Dest:         &(opts.poolMax),
			},
		},
	})
	return name, opts
}

func TestRegisterAndGetPlugin(t *testing.T) {
	name, _ := registerMock(t)

	p := plugin.GetPlugin(plugin.PluginTypeIndex, name)
	require.NotNil(t, p)
	assert.IsType(t, &mockPlugin{}, p)

	found := false
	for _, entry := range plugin.GetPlugins(plugin.PluginTypeIndex) {
		if entry.Name == name {
			found = true
		}
	}
	assert.True(t, found, "plugin not in GetPlugins list")

	assert.Nil(t, plugin.GetPlugin(plugin.PluginTypeIndex, "missing-"+t.Name()))
}

func TestStartPlugin(t *testing.T) {
	name, _ := registerMock(t)

	p, err := plugin.StartPlugin(plugin.PluginTypeIndex, name)
	require.NoError(t, err)
	assert.True(t, p.(*mockPlugin).started)

	_, err = plugin.StartPlugin(plugin.PluginTypeIndex, "missing-"+t.Name())
	require.ErrorContains(t, err, "not found")
}

func TestStartErrorPlugin(t *testing.T) {
	boom := errors.New("boom")
	name := "broken-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeIndex,
		Name:               name,
		NewFromOptionsFunc: func() plugin.Plugin { return plugin.NewErrorPlugin(boom) },
	})
	_, err := plugin.StartPlugin(plugin.PluginTypeIndex, name)
	require.ErrorIs(t, err, boom)
}

func TestSetPluginOption(t *testing.T) {
	name, opts := registerMock(t)

	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeIndex, name, "dsn", "file:x.db"))
	assert.Equal(t, "file:x.db", opts.dsn)

	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeIndex, name, "verbose", true))
	assert.True(t, opts.verbose)

	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeIndex, name, "pool-max", 25))
	assert.Equal(t, uint64(25), opts.poolMax)

	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeIndex, name, "pool-max", -1))
	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeIndex, name, "dsn", 123))

	// Unknown options are ignored
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeIndex, name, "does-not-exist", "x"))

	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeIndex, "missing-"+t.Name(), "dsn", "x"))
}

func TestPopulateCmdlineOptions(t *testing.T) {
	name, opts := registerMock(t)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, plugin.PopulateCmdlineOptions(fs))
	require.NoError(t, fs.Parse([]string{
		"--index-" + name + "-dsn", "postgres://db",
		"--index-" + name + "-pool-max", "7",
	}))
	assert.Equal(t, "postgres://db", opts.dsn)
	assert.Equal(t, uint64(7), opts.poolMax)
}

func TestProcessEnvVars(t *testing.T) {
	name, opts := registerMock(t)

	t.Setenv("REINDEXER_INDEX_"+strings.ToUpper(strings.ReplaceAll(name, "-", "_"))+"_VERBOSE", "true")
	require.NoError(t, plugin.ProcessEnvVars("REINDEXER"))
	assert.True(t, opts.verbose)
}
