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
)

type SqliteOptionFunc func(*IndexSqlite)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) SqliteOptionFunc {
	return func(d *IndexSqlite) {
		d.logger = logger
	}
}

// WithPath specifies the index database file. An empty path keeps the
// index in memory.
func WithPath(path string) SqliteOptionFunc {
	return func(d *IndexSqlite) {
		d.path = path
	}
}

// WithAllowExistingData skips already indexed heights instead of failing
func WithAllowExistingData(allow bool) SqliteOptionFunc {
	return func(d *IndexSqlite) {
		d.allowExistingData = allow
	}
}
