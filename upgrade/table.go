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

// Package upgrade derives the ordered eras of a chain from its archived
// geneses and the static compatibility table.
package upgrade

import (
	"context"
	"fmt"
	"sort"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/cometbft"
)

// Era is a maximal height range replayed by one execution module.
// HaltHeight is the exclusive upper bound, or zero for the open-ended
// last era.
type Era struct {
	Genesis     *cometbft.Genesis
	ChainID     string
	ModuleID    string
	Index       int
	StartHeight uint64
	HaltHeight  uint64
}

// HasHalt reports whether the era ends at an upgrade.
func (e *Era) HasHalt() bool {
	return e.HaltHeight > 0
}

// Contains reports whether height falls inside the era.
func (e *Era) Contains(height uint64) bool {
	if height < e.StartHeight {
		return false
	}
	return !e.HasHalt() || height < e.HaltHeight
}

func (e *Era) String() string {
	if e.HasHalt() {
		return fmt.Sprintf(
			"%d:%s[%d,%d)",
			e.Index,
			e.ModuleID,
			e.StartHeight,
			e.HaltHeight,
		)
	}
	return fmt.Sprintf("%d:%s[%d,)", e.Index, e.ModuleID, e.StartHeight)
}

// GenesisLister is the archive capability needed to build a table.
type GenesisLister interface {
	Geneses(ctx context.Context, chainID string) ([]*cometbft.Genesis, error)
}

// Table is the ordered, gap-free partition of a chain's heights into eras.
type Table struct {
	ChainID string
	Eras    []*Era
}

// Build reads every archived genesis of chainID and resolves the execution
// module of each era through compat.
func Build(
	ctx context.Context,
	archive GenesisLister,
	chainID string,
	compat Compatibility,
) (*Table, error) {
	geneses, err := archive.Geneses(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("list geneses: %w", err)
	}
	if len(geneses) == 0 {
		return nil, reindexer.NewConsistencyError(
			reindexer.ErrorContext{ChainID: chainID},
			reindexer.ErrGenesisNotFound,
		)
	}
	sort.Slice(geneses, func(i, j int) bool {
		return geneses[i].InitialHeight < geneses[j].InitialHeight
	})
	table := &Table{ChainID: chainID}
	for i, gen := range geneses {
		if gen.ChainID != chainID {
			return nil, reindexer.NewConsistencyError(
				reindexer.ErrorContext{ChainID: chainID, Height: gen.InitialHeight},
				fmt.Errorf(
					"%w: archived genesis is for %q",
					reindexer.ErrChainIDMismatch,
					gen.ChainID,
				),
			)
		}
		entry, err := compat.Lookup(chainID, gen.InitialHeight, gen.Hash())
		if err != nil {
			return nil, err
		}
		table.Eras = append(table.Eras, &Era{
			Index:       i,
			ChainID:     chainID,
			StartHeight: gen.InitialHeight,
			ModuleID:    entry.ModuleID,
			Genesis:     gen,
		})
	}
	for i := 0; i < len(table.Eras)-1; i++ {
		table.Eras[i].HaltHeight = table.Eras[i+1].StartHeight
	}
	if err := table.Validate(0, 0); err != nil {
		return nil, err
	}
	return table, nil
}

// EraFor returns the single era containing height.
func (t *Table) EraFor(height uint64) (*Era, error) {
	idx := sort.Search(len(t.Eras), func(i int) bool {
		return t.Eras[i].StartHeight > height
	})
	if idx == 0 {
		return nil, reindexer.NewConsistencyError(
			reindexer.ErrorContext{ChainID: t.ChainID, Height: height},
			fmt.Errorf(
				"%w: height precedes the first known era",
				reindexer.ErrUnsupportedVersion,
			),
		)
	}
	era := t.Eras[idx-1]
	if !era.Contains(height) {
		return nil, reindexer.NewConsistencyError(
			reindexer.ErrorContext{ChainID: t.ChainID, Height: height},
			fmt.Errorf("%w: no era covers height", reindexer.ErrUnsupportedVersion),
		)
	}
	return era, nil
}

// Next returns the era following era, or nil for the last one.
func (t *Table) Next(era *Era) *Era {
	if era.Index+1 >= len(t.Eras) {
		return nil
	}
	return t.Eras[era.Index+1]
}

// Validate checks that the eras partition the height range without gaps
// or overlaps and, when maxHeight is non-zero, that every archived height
// in [minHeight, maxHeight] falls in exactly one era.
func (t *Table) Validate(minHeight, maxHeight uint64) error {
	if len(t.Eras) == 0 {
		return reindexer.NewConsistencyError(
			reindexer.ErrorContext{ChainID: t.ChainID},
			fmt.Errorf("%w: no eras", reindexer.ErrUnsupportedVersion),
		)
	}
	for i, era := range t.Eras {
		errCtx := reindexer.ErrorContext{
			ChainID: t.ChainID,
			Height:  era.StartHeight,
			Era:     era.ModuleID,
		}
		if era.Index != i {
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf("era %d is stored at position %d", era.Index, i),
			)
		}
		last := i == len(t.Eras)-1
		switch {
		case last && era.HasHalt():
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf("last era must be open-ended"),
			)
		case !last && era.HaltHeight != t.Eras[i+1].StartHeight:
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf(
					"era halts at %d but the next era starts at %d",
					era.HaltHeight,
					t.Eras[i+1].StartHeight,
				),
			)
		case !last && era.HaltHeight <= era.StartHeight:
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf("era is empty"),
			)
		}
	}
	if maxHeight == 0 {
		return nil
	}
	if _, err := t.EraFor(minHeight); err != nil {
		return err
	}
	_, err := t.EraFor(maxHeight)
	return err
}
