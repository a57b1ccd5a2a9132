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

// Package check inspects an archive and an index for completeness.
package check

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/reindexer/archive"
	"github.com/blinklabs-io/reindexer/indexer"
)

// ArchiveInspector is the read side of the archive used by checks.
type ArchiveInspector interface {
	ChainIDs(ctx context.Context) ([]string, error)
	Gaps(ctx context.Context, chainID string) ([]archive.Gap, error)
	CountBlocks(ctx context.Context, chainID string) (int64, error)
	CountGeneses(ctx context.Context, chainID string) (int64, error)
}

// IndexInspector is the read side of the index used by checks.
type IndexInspector interface {
	Gaps(ctx context.Context, chainID string) ([]indexer.Gap, error)
	CountBlocks(ctx context.Context, chainID string) (int64, error)
}

type Config struct {
	// Archive and Index are each optional
	Archive ArchiveInspector
	Index   IndexInspector
	Logger  *slog.Logger
	// ChainID may be empty when the archive holds exactly one chain
	ChainID string
	// ExpectedBlocks, when set, must match the block count or exceed it
	// by one
	ExpectedBlocks uint64
	// ExpectedGeneses, when set, must match the genesis count exactly
	ExpectedGeneses uint64
}

// Result is the outcome of one check.
type Result struct {
	Err    error
	Name   string
	Detail string
}

func (r Result) Passed() bool {
	return r.Err == nil
}

// Report collects every check of a run.
type Report struct {
	ChainID string
	Results []Result
}

// Failed returns the number of failed checks.
func (r *Report) Failed() int {
	var n int
	for _, res := range r.Results {
		if !res.Passed() {
			n++
		}
	}
	return n
}

// Err joins the errors of all failed checks.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if !res.Passed() {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}

func (r *Report) add(name string, err error, detail string) {
	r.Results = append(r.Results, Result{Name: name, Err: err, Detail: detail})
}

var (
	ErrGaps          = errors.New("missing heights")
	ErrBlockCount    = errors.New("unexpected block count")
	ErrGenesisCount  = errors.New("unexpected genesis count")
	ErrNothingToScan = errors.New("neither an archive nor an index was given")
)

// BlockCountOK reports whether count is expected or one less. The store
// may trail the node it was built from by one block.
func BlockCountOK(count int64, expected uint64) bool {
	if count < 0 {
		return false
	}
	c := uint64(count)
	return c == expected || (expected > 0 && c == expected-1)
}

// Run executes every applicable check. The returned error is only set when
// a check could not be carried out; failed checks are in the report.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if cfg.Archive == nil && cfg.Index == nil {
		return nil, ErrNothingToScan
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "check")
	chainID, err := resolveChainID(ctx, cfg)
	if err != nil {
		return nil, err
	}
	report := &Report{ChainID: chainID}
	if cfg.Archive != nil {
		if err := checkArchive(ctx, cfg, chainID, report); err != nil {
			return nil, err
		}
	}
	if cfg.Index != nil {
		if err := checkIndex(ctx, cfg, chainID, report); err != nil {
			return nil, err
		}
	}
	for _, res := range report.Results {
		if res.Passed() {
			logger.Info("check passed", "check", res.Name, "detail", res.Detail)
		} else {
			logger.Error("check failed", "check", res.Name, "error", res.Err)
		}
	}
	return report, nil
}

func resolveChainID(ctx context.Context, cfg Config) (string, error) {
	if cfg.ChainID != "" {
		return cfg.ChainID, nil
	}
	if cfg.Archive == nil {
		return "", errors.New("a chain id is required to check an index")
	}
	ids, err := cfg.Archive.ChainIDs(ctx)
	if err != nil {
		return "", err
	}
	if len(ids) != 1 {
		return "", fmt.Errorf(
			"archive holds %d chains, select one with a chain id",
			len(ids),
		)
	}
	return ids[0], nil
}

func checkArchive(
	ctx context.Context,
	cfg Config,
	chainID string,
	report *Report,
) error {
	gaps, err := cfg.Archive.Gaps(ctx, chainID)
	if err != nil {
		return err
	}
	if len(gaps) > 0 {
		report.add(
			"archive gaps",
			fmt.Errorf("%w: %s", ErrGaps, formatArchiveGaps(gaps)),
			"",
		)
	} else {
		report.add("archive gaps", nil, "no gaps found")
	}
	if cfg.ExpectedGeneses > 0 {
		n, err := cfg.Archive.CountGeneses(ctx, chainID)
		if err != nil {
			return err
		}
		if n < 0 || uint64(n) != cfg.ExpectedGeneses {
			report.add(
				"archive geneses",
				fmt.Errorf(
					"%w: expected %d, found %d",
					ErrGenesisCount,
					cfg.ExpectedGeneses,
					n,
				),
				"",
			)
		} else {
			report.add(
				"archive geneses",
				nil,
				fmt.Sprintf("found all %d geneses", n),
			)
		}
	}
	if cfg.ExpectedBlocks > 0 {
		n, err := cfg.Archive.CountBlocks(ctx, chainID)
		if err != nil {
			return err
		}
		report.addBlockCount("archive blocks", n, cfg.ExpectedBlocks)
	}
	return nil
}

func checkIndex(
	ctx context.Context,
	cfg Config,
	chainID string,
	report *Report,
) error {
	gaps, err := cfg.Index.Gaps(ctx, chainID)
	if err != nil {
		return err
	}
	if len(gaps) > 0 {
		report.add(
			"index gaps",
			fmt.Errorf("%w: %s", ErrGaps, formatIndexGaps(gaps)),
			"",
		)
	} else {
		report.add("index gaps", nil, "no gaps found")
	}
	if cfg.ExpectedBlocks > 0 {
		n, err := cfg.Index.CountBlocks(ctx, chainID)
		if err != nil {
			return err
		}
		report.addBlockCount("index blocks", n, cfg.ExpectedBlocks)
	}
	return nil
}

func (r *Report) addBlockCount(name string, n int64, expected uint64) {
	if !BlockCountOK(n, expected) {
		r.add(name, fmt.Errorf(
			"%w: expected %d, found %d",
			ErrBlockCount,
			expected,
			n,
		), "")
		return
	}
	r.add(name, nil, fmt.Sprintf("found %d blocks", n))
}

func formatArchiveGaps(gaps []archive.Gap) string {
	ranges := make([][2]uint64, 0, len(gaps))
	for _, gap := range gaps {
		ranges = append(ranges, [2]uint64{gap.From, gap.To})
	}
	return formatRanges(ranges)
}

func formatIndexGaps(gaps []indexer.Gap) string {
	ranges := make([][2]uint64, 0, len(gaps))
	for _, gap := range gaps {
		ranges = append(ranges, [2]uint64{gap.From, gap.To})
	}
	return formatRanges(ranges)
}

// formatRanges prints at most the first ten ranges.
func formatRanges(ranges [][2]uint64) string {
	const limit = 10
	var out string
	for i, r := range ranges {
		if i == limit {
			out += fmt.Sprintf(" and %d more", len(ranges)-limit)
			break
		}
		if i > 0 {
			out += ", "
		}
		if r[0] == r[1] {
			out += fmt.Sprintf("%d", r[0])
		} else {
			out += fmt.Sprintf("%d-%d", r[0], r[1])
		}
	}
	return out
}
