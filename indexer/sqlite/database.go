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
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/blinklabs-io/reindexer/indexer"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// IndexSqlite is a SQLite-based event index.
type IndexSqlite struct {
	*indexer.Store
	logger            *slog.Logger
	path              string
	allowExistingData bool
}

// New creates and opens a SQLite event index. Uses an in-memory database
// if path is empty.
func New(path string, opts ...SqliteOptionFunc) (*IndexSqlite, error) {
	d, err := NewWithOptions(append([]SqliteOptionFunc{WithPath(path)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := d.Start(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewWithOptions creates an index without opening it
func NewWithOptions(opts ...SqliteOptionFunc) (*IndexSqlite, error) {
	d := &IndexSqlite{}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return d, nil
}

// DSN returns the sqlite connection string for a database path. Paths
// already in URI form are kept as is.
func DSN(path string) string {
	if path == "" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		path,
	)
}

// Start implements the plugin.Plugin interface
func (d *IndexSqlite) Start() error {
	if d.Store != nil {
		return nil
	}
	if d.path != "" && !strings.HasPrefix(d.path, "file:") {
		// Make sure that we can read the index dir, and create if it doesn't exist
		dir := filepath.Dir(d.path)
		if _, err := os.Stat(dir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to read index dir: %w", err)
			}
			if err := os.MkdirAll(dir, fs.ModePerm); err != nil {
				return fmt.Errorf("failed to create index dir: %w", err)
			}
		}
	}
	db, err := gorm.Open(
		sqlite.Open(DSN(d.path)),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return fmt.Errorf("open sqlite index: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	// A single connection keeps an in-memory database alive and
	// serializes writers
	sqlDB.SetMaxOpenConns(1)
	store, err := indexer.NewStore(
		context.Background(),
		db,
		indexer.WithLogger(d.logger),
		indexer.WithAllowExistingData(d.allowExistingData),
	)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	d.Store = store
	d.logger.Info(
		"opened sqlite index",
		"component", "indexer",
		"path", d.path,
	)
	return nil
}

// Stop implements the plugin.Plugin interface
func (d *IndexSqlite) Stop() error {
	return d.Close()
}

// Close closes the index. It is safe to call on an index that was never
// started.
func (d *IndexSqlite) Close() error {
	if d.Store == nil {
		return nil
	}
	return d.Store.Close()
}
