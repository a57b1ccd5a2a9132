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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/blinklabs-io/reindexer/indexer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const DefaultMaxOpenConns = 100

// IndexPostgres is a Postgres event index laid out like the CometBFT psql
// event sink, with app hashes in the debug schema.
type IndexPostgres struct {
	*indexer.Store
	logger            *slog.Logger
	dsn               string
	maxOpenConns      int
	allowExistingData bool
}

// New creates and opens a Postgres event index
func New(dsn string, opts ...PostgresOptionFunc) (*IndexPostgres, error) {
	d, err := NewWithOptions(append([]PostgresOptionFunc{WithDSN(dsn)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := d.Start(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewWithOptions creates an index without connecting
func NewWithOptions(opts ...PostgresOptionFunc) (*IndexPostgres, error) {
	d := &IndexPostgres{}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if d.maxOpenConns <= 0 {
		d.maxOpenConns = DefaultMaxOpenConns
	}
	return d, nil
}

// Start implements the plugin.Plugin interface
func (d *IndexPostgres) Start() error {
	if d.Store != nil {
		return nil
	}
	dsn := strings.TrimSpace(d.dsn)
	if dsn == "" {
		return errors.New("postgres index: no DSN configured")
	}
	db, err := gorm.Open(
		postgres.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
			PrepareStmt:            true,
		},
	)
	if err != nil {
		return fmt.Errorf("connect postgres index: %w", err)
	}
	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(d.maxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
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
		"connected to postgres index",
		"component", "indexer",
		"target", Redact(dsn),
	)
	return nil
}

// Stop implements the plugin.Plugin interface
func (d *IndexPostgres) Stop() error {
	return d.Close()
}

// Close closes the index. It is safe to call on an index that was never
// started.
func (d *IndexPostgres) Close() error {
	if d.Store == nil {
		return nil
	}
	return d.Store.Close()
}

// Redact strips credentials from a DSN for logging.
func Redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "(dsn)"
	}
	return u.Redacted()
}
