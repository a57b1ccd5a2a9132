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
	"log/slog"
)

type PostgresOptionFunc func(*IndexPostgres)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) PostgresOptionFunc {
	return func(d *IndexPostgres) {
		d.logger = logger
	}
}

// WithDSN specifies the Postgres connection string, either a URL or
// key=value pairs.
func WithDSN(dsn string) PostgresOptionFunc {
	return func(d *IndexPostgres) {
		d.dsn = dsn
	}
}

// WithMaxOpenConns limits the size of the connection pool
func WithMaxOpenConns(maxOpenConns int) PostgresOptionFunc {
	return func(d *IndexPostgres) {
		d.maxOpenConns = maxOpenConns
	}
}

// WithAllowExistingData skips already indexed heights instead of failing
func WithAllowExistingData(allow bool) PostgresOptionFunc {
	return func(d *IndexPostgres) {
		d.allowExistingData = allow
	}
}
