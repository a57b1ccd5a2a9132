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
)

type MysqlOptionFunc func(*IndexMysql)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) MysqlOptionFunc {
	return func(d *IndexMysql) {
		d.logger = logger
	}
}

// WithDSN specifies the MySQL connection string, either a mysql:// URL
// or a go-sql-driver DSN.
func WithDSN(dsn string) MysqlOptionFunc {
	return func(d *IndexMysql) {
		d.dsn = dsn
	}
}

// WithAllowExistingData skips already indexed heights instead of failing
func WithAllowExistingData(allow bool) MysqlOptionFunc {
	return func(d *IndexMysql) {
		d.allowExistingData = allow
	}
}
