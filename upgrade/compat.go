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

package upgrade

import (
	"fmt"
	"strings"

	"github.com/blinklabs-io/reindexer"
)

// CompatibilityEntry binds the genesis of one era to the execution module
// that replays it. GenesisSHA256, when set, pins the exact genesis bytes.
type CompatibilityEntry struct {
	ChainID       string
	ModuleID      string
	GenesisSHA256 string
	InitialHeight uint64
}

// Compatibility is the static list of known eras.
type Compatibility []CompatibilityEntry

// DefaultCompatibility lists every era this build knows how to replay.
var DefaultCompatibility = Compatibility{
	// penumbra-1 mainnet
	{ChainID: "penumbra-1", InitialHeight: 1, ModuleID: "penumbra/v0.79"},
	{ChainID: "penumbra-1", InitialHeight: 501975, ModuleID: "penumbra/v0.80"},
	{ChainID: "penumbra-1", InitialHeight: 2611801, ModuleID: "penumbra/v0.81"},
	{ChainID: "penumbra-1", InitialHeight: 4378763, ModuleID: "penumbra/v1.3"},
	// penumbra-testnet-phobos-2
	{
		ChainID:       "penumbra-testnet-phobos-2",
		InitialHeight: 1,
		ModuleID:      "penumbra/v0.79",
	},
	{
		ChainID:       "penumbra-testnet-phobos-2",
		InitialHeight: 1459801,
		ModuleID:      "penumbra/v0.80",
	},
	{
		ChainID:       "penumbra-testnet-phobos-2",
		InitialHeight: 2358330,
		ModuleID:      "penumbra/v0.81",
	},
	// Reference devnet replayed by the built-in kvstore modules
	{ChainID: "reindexer-devnet", InitialHeight: 1, ModuleID: "kvstore/v1"},
	{ChainID: "reindexer-devnet", InitialHeight: 101, ModuleID: "kvstore/v2"},
}

// Lookup returns the entry for the era of chainID that starts at
// initialHeight. genesisHash is checked against pinned entries.
func (c Compatibility) Lookup(
	chainID string,
	initialHeight uint64,
	genesisHash string,
) (CompatibilityEntry, error) {
	errCtx := reindexer.ErrorContext{ChainID: chainID, Height: initialHeight}
	for _, entry := range c {
		if entry.ChainID != chainID || entry.InitialHeight != initialHeight {
			continue
		}
		if entry.GenesisSHA256 != "" &&
			!strings.EqualFold(entry.GenesisSHA256, genesisHash) {
			return CompatibilityEntry{}, reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf(
					"%w: genesis hash %s does not match pinned %s",
					reindexer.ErrUnsupportedVersion,
					genesisHash,
					entry.GenesisSHA256,
				),
			)
		}
		return entry, nil
	}
	return CompatibilityEntry{}, reindexer.NewConsistencyError(
		errCtx,
		fmt.Errorf(
			"%w: no execution module for genesis at initial height %d",
			reindexer.ErrUnsupportedVersion,
			initialHeight,
		),
	)
}
