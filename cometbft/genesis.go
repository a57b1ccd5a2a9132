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

package cometbft

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	cmtjson "github.com/cometbft/cometbft/libs/json"
	cmttypes "github.com/cometbft/cometbft/types"
)

// Genesis is a parsed genesis document plus the bytes it was parsed from.
type Genesis struct {
	GenesisTime   time.Time
	ChainID       string
	AppState      json.RawMessage
	Raw           []byte
	InitialHeight uint64
}

// ParseGenesis parses genesis bytes. The input is kept verbatim in Raw.
func ParseGenesis(raw []byte) (*Genesis, error) {
	doc, err := cmttypes.GenesisDocFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	return genesisFromDoc(doc, raw), nil
}

// CanonicalGenesis re-encodes a genesis document so the archive holds the
// same bytes for a chain regardless of which source produced it.
func CanonicalGenesis(raw []byte) ([]byte, *Genesis, error) {
	doc, err := cmttypes.GenesisDocFromJSON(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse genesis: %w", err)
	}
	return CanonicalGenesisDoc(doc)
}

// CanonicalGenesisDoc is CanonicalGenesis for an already decoded document,
// as returned by the RPC client.
func CanonicalGenesisDoc(
	doc *cmttypes.GenesisDoc,
) ([]byte, *Genesis, error) {
	if doc == nil {
		return nil, nil, fmt.Errorf("parse genesis: nil document")
	}
	if len(doc.AppState) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, doc.AppState); err != nil {
			return nil, nil, fmt.Errorf("compact app state: %w", err)
		}
		doc.AppState = buf.Bytes()
	}
	canonical, err := cmtjson.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encode genesis: %w", err)
	}
	return canonical, genesisFromDoc(doc, canonical), nil
}

func genesisFromDoc(doc *cmttypes.GenesisDoc, raw []byte) *Genesis {
	initialHeight := uint64(1)
	if doc.InitialHeight > 1 {
		initialHeight = uint64(doc.InitialHeight)
	}
	return &Genesis{
		GenesisTime:   doc.GenesisTime,
		ChainID:       doc.ChainID,
		InitialHeight: initialHeight,
		AppState:      doc.AppState,
		Raw:           raw,
	}
}

// Hash returns the hex SHA-256 of the raw genesis bytes.
func (g *Genesis) Hash() string {
	sum := sha256.Sum256(g.Raw)
	return hex.EncodeToString(sum[:])
}

// Indent returns the genesis as indented JSON for export.
func (g *Genesis) Indent() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, g.Raw, "", "  "); err != nil {
		return nil, fmt.Errorf("indent genesis: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
