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

package indexer

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// viewStatements returns the statements creating the event_attributes,
// block_events and tx_events views in db's dialect.
func viewStatements(db *gorm.DB) []string {
	quote := func(name string) string {
		var b strings.Builder
		db.Dialector.QuoteTo(&b, name)
		return b.String()
	}
	create := "CREATE OR REPLACE VIEW"
	if db.Dialector.Name() == "sqlite" {
		create = "CREATE VIEW IF NOT EXISTS"
	}
	key := quote("key")
	index := quote("index")
	return []string{
		fmt.Sprintf(
			`%s event_attributes AS
			SELECT events.block_id, events.tx_id, events.type,
				attributes.%s, attributes.composite_key, attributes.value
			FROM events LEFT JOIN attributes ON events.rowid = attributes.event_id`,
			create, key,
		),
		fmt.Sprintf(
			`%s block_events AS
			SELECT blocks.rowid AS block_id, blocks.height, blocks.chain_id,
				event_attributes.type, event_attributes.%s,
				event_attributes.composite_key, event_attributes.value
			FROM blocks JOIN event_attributes
				ON blocks.rowid = event_attributes.block_id
			WHERE event_attributes.tx_id IS NULL`,
			create, key,
		),
		fmt.Sprintf(
			`%s tx_events AS
			SELECT blocks.height, tx_results.%s, blocks.chain_id,
				event_attributes.type, event_attributes.%s,
				event_attributes.composite_key, event_attributes.value,
				tx_results.created_at
			FROM blocks
				JOIN tx_results ON blocks.rowid = tx_results.block_id
				JOIN event_attributes ON tx_results.rowid = event_attributes.tx_id
			WHERE event_attributes.tx_id IS NOT NULL`,
			create, index, key,
		),
	}
}
