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

package postgres

import (
	"os"
	"testing"

	"github.com/blinklabs-io/reindexer/indexer/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOptionsDefaults(t *testing.T) {
	d, err := NewWithOptions(WithDSN("postgres://localhost/idx"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxOpenConns, d.maxOpenConns)
	assert.NotNil(t, d.logger)
	// Closing an index that was never started is a no-op
	require.NoError(t, d.Close())
}

func TestStartWithoutDSN(t *testing.T) {
	d, err := NewWithOptions()
	require.NoError(t, err)
	require.ErrorContains(t, d.Start(), "no DSN")
}

func TestRedact(t *testing.T) {
	assert.Equal(
		t,
		"postgres://indexer:xxxxx@db:5432/idx",
		Redact("postgres://indexer:s3cret@db:5432/idx"),
	)
	assert.Equal(t, "(dsn)", Redact("host=db password=s3cret"))
}

func TestPluginOptions(t *testing.T) {
	t.Cleanup(initCmdlineOptions)
	require.NoError(t, plugin.SetPluginOption(
		plugin.PluginTypeIndex, "postgres", "dsn", "postgres://db/idx",
	))
	require.NoError(t, plugin.SetPluginOption(
		plugin.PluginTypeIndex, "postgres", "max-open-conns", 5,
	))
	p := plugin.GetPlugin(plugin.PluginTypeIndex, "postgres")
	d, ok := p.(*IndexPostgres)
	require.True(t, ok)
	assert.Equal(t, "postgres://db/idx", d.dsn)
	assert.Equal(t, 5, d.maxOpenConns)
}

func TestIndexPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("REINDEXER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping postgres integration test: REINDEXER_TEST_POSTGRES_DSN not set")
	}
	d, err := New(dsn)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, "debug.app_hash", d.AppHashTableName())
	_, err = d.CountBlocks(t.Context(), "")
	require.NoError(t, err)
}
