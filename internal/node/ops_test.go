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

package node

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/archive"
	"github.com/blinklabs-io/reindexer/check"
	"github.com/blinklabs-io/reindexer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseURL(t *testing.T) {
	testDefs := []struct {
		url    string
		plugin string
		option string
		value  string
	}{
		{url: "postgres://u:p@db/idx", plugin: "postgres", option: "dsn", value: "postgres://u:p@db/idx"},
		{url: "postgresql://db/idx", plugin: "postgres", option: "dsn", value: "postgresql://db/idx"},
		{url: "mysql://u:p@db:3306/idx", plugin: "mysql", option: "dsn", value: "mysql://u:p@db:3306/idx"},
		{url: "sqlite:///var/lib/idx.sqlite", plugin: "sqlite", option: "path", value: "/var/lib/idx.sqlite"},
		{url: "sqlite://", plugin: "sqlite", option: "path", value: ""},
		{url: "file:idx.sqlite?mode=rwc", plugin: "sqlite", option: "path", value: "file:idx.sqlite?mode=rwc"},
		{url: " ./idx.sqlite ", plugin: "sqlite", option: "path", value: "./idx.sqlite"},
	}
	for _, testDef := range testDefs {
		target, err := ParseDatabaseURL(testDef.url)
		require.NoError(t, err, testDef.url)
		assert.Equal(t, testDef.plugin, target.Plugin, testDef.url)
		assert.Equal(t, testDef.value, target.Options[testDef.option], testDef.url)
	}
}

func TestParseDatabaseURLErrors(t *testing.T) {
	_, err := ParseDatabaseURL("")
	require.Error(t, err)
	_, err = ParseDatabaseURL("mongodb://db/idx")
	require.ErrorContains(t, err, "mongodb")
	_, err = OpenIndex("redis://localhost", false)
	require.Error(t, err)
}

func TestOpenIndexSqlite(t *testing.T) {
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "index.sqlite"), false)
	require.NoError(t, err)
	count, err := idx.CountBlocks(t.Context(), "")
	require.NoError(t, err)
	assert.Zero(t, count)
	require.NoError(t, idx.Close())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Home = dir
	cfg.ArchiveFile = filepath.Join(dir, "archive.sqlite")
	cfg.DatabaseURL = "sqlite://" + filepath.Join(dir, "index.sqlite")
	cfg.WorkingDir = filepath.Join(dir, "work")
	return cfg
}

func writeArchive(t *testing.T, path string, last uint64) {
	t.Helper()
	store, err := archive.New(path)
	require.NoError(t, err)
	archiver, err := NewArchiver(ArchiverConfig{
		Source:  newFakeSource(t, testChainID, 1, last),
		Archive: store,
	})
	require.NoError(t, err)
	_, err = archiver.Run(t.Context())
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestRegenThenCheck(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.DiscardHandler)
	writeArchive(t, cfg.ArchiveFile, 50)

	require.NoError(t, Regen(t.Context(), cfg, logger, RegenOptions{}))
	require.NoError(t, Check(t.Context(), cfg, logger, CheckOptions{
		ExpectedBlocks:  50,
		ExpectedGeneses: 1,
	}))

	err := Check(t.Context(), cfg, logger, CheckOptions{ExpectedBlocks: 70})
	require.ErrorIs(t, err, check.ErrBlockCount)

	// A finished run resumes at its checkpoint and has nothing left to do
	require.NoError(t, Regen(t.Context(), cfg, logger, RegenOptions{}))

	// Rebuilding from scratch into the same index needs existing data allowed
	err = Regen(t.Context(), cfg, logger, RegenOptions{Clean: true})
	require.ErrorIs(t, err, reindexer.ErrAlreadyIndexed)
	require.NoError(t, Regen(t.Context(), cfg, logger, RegenOptions{
		Clean:             true,
		AllowExistingData: true,
	}))
}

func TestRegenRequiresInputs(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	cfg := testConfig(t)
	err := Regen(t.Context(), cfg, logger, RegenOptions{})
	require.ErrorContains(t, err, "no archive")

	cfg = testConfig(t)
	writeArchive(t, cfg.ArchiveFile, 5)
	cfg.DatabaseURL = ""
	err = Regen(t.Context(), cfg, logger, RegenOptions{})
	require.ErrorContains(t, err, "database url")
}

func TestCheckNothingToScan(t *testing.T) {
	cfg := testConfig(t)
	cfg.ArchiveFile = ""
	cfg.DatabaseURL = ""
	err := Check(t.Context(), cfg, slog.New(slog.DiscardHandler), CheckOptions{})
	require.ErrorIs(t, err, check.ErrNothingToScan)
}

func TestExportGenesis(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.DiscardHandler)
	writeArchive(t, cfg.ArchiveFile, 3)

	var buf bytes.Buffer
	require.NoError(t, ExportGenesis(t.Context(), cfg, logger, 1, &buf))
	assert.Contains(t, buf.String(), "\n  \"chain_id\": \"reindexer-devnet\"")

	cfg.ChainID = testChainID
	buf.Reset()
	require.NoError(t, ExportGenesis(t.Context(), cfg, logger, 1, &buf))
	assert.NotEmpty(t, buf.Bytes())

	err := ExportGenesis(t.Context(), cfg, logger, 5, &buf)
	require.ErrorIs(t, err, reindexer.ErrGenesisNotFound)
}

func TestBootstrapRequiresChainID(t *testing.T) {
	cfg := testConfig(t)
	err := Bootstrap(t.Context(), cfg, slog.New(slog.DiscardHandler), BootstrapOptions{})
	require.Error(t, err)
}
