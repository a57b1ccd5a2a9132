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
	"errors"
	"fmt"
	"strings"

	"github.com/blinklabs-io/reindexer/indexer"
	"github.com/blinklabs-io/reindexer/indexer/plugin"

	// Index back-ends
	_ "github.com/blinklabs-io/reindexer/indexer/mysql"
	_ "github.com/blinklabs-io/reindexer/indexer/postgres"
	_ "github.com/blinklabs-io/reindexer/indexer/sqlite"
)

// IndexTarget is the index back-end and plugin options selected by a
// database URL.
type IndexTarget struct {
	Options map[string]any
	Plugin  string
}

// ParseDatabaseURL selects an index back-end from a database URL:
// postgres:// and postgresql:// pick postgres, mysql:// picks mysql, and
// sqlite://, file: or a bare path pick sqlite. "sqlite://" alone is an
// in-memory index.
func ParseDatabaseURL(raw string) (IndexTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return IndexTarget{}, errors.New("no database url given")
	}
	switch {
	case strings.HasPrefix(raw, "postgres://"),
		strings.HasPrefix(raw, "postgresql://"):
		return IndexTarget{
			Plugin:  "postgres",
			Options: map[string]any{"dsn": raw},
		}, nil
	case strings.HasPrefix(raw, "mysql://"):
		return IndexTarget{
			Plugin:  "mysql",
			Options: map[string]any{"dsn": raw},
		}, nil
	case strings.HasPrefix(raw, "sqlite://"):
		return IndexTarget{
			Plugin:  "sqlite",
			Options: map[string]any{"path": strings.TrimPrefix(raw, "sqlite://")},
		}, nil
	case strings.HasPrefix(raw, "file:"):
		return IndexTarget{
			Plugin:  "sqlite",
			Options: map[string]any{"path": raw},
		}, nil
	case strings.Contains(raw, "://"):
		scheme, _, _ := strings.Cut(raw, "://")
		return IndexTarget{}, fmt.Errorf(
			"unsupported database url scheme %q",
			scheme,
		)
	default:
		return IndexTarget{
			Plugin:  "sqlite",
			Options: map[string]any{"path": raw},
		}, nil
	}
}

// OpenIndex starts the index back-end selected by databaseURL. The caller
// owns the returned index and must Close it.
func OpenIndex(databaseURL string, allowExistingData bool) (indexer.Indexer, error) {
	target, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}
	for name, value := range target.Options {
		if err := plugin.SetPluginOption(
			plugin.PluginTypeIndex,
			target.Plugin,
			name,
			value,
		); err != nil {
			return nil, err
		}
	}
	if err := plugin.SetPluginOption(
		plugin.PluginTypeIndex,
		target.Plugin,
		"allow-existing-data",
		allowExistingData,
	); err != nil {
		return nil, err
	}
	p, err := plugin.StartPlugin(plugin.PluginTypeIndex, target.Plugin)
	if err != nil {
		return nil, err
	}
	idx, ok := p.(indexer.Indexer)
	if !ok {
		_ = p.Stop()
		return nil, fmt.Errorf(
			"index plugin %q does not implement the indexer",
			target.Plugin,
		)
	}
	return idx, nil
}
