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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/archive"
	"github.com/blinklabs-io/reindexer/cometbft"
	"github.com/blinklabs-io/reindexer/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultArchiveBatchSize = 500
	DefaultProgressBlocks   = 1000
)

// ArchiveSink is the part of the archive store the archiver writes to.
type ArchiveSink interface {
	AppendGenesis(ctx context.Context, chainID string, raw []byte) (uint64, error)
	AppendBlocks(
		ctx context.Context,
		chainID string,
		blocks []archive.RawBlock,
	) (int, error)
	MaxHeight(ctx context.Context, chainID string) (uint64, bool, error)
}

type ArchiverConfig struct {
	Source       source.Source
	Archive      ArchiveSink
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// ChainID, when set, must match the chain the source serves
	ChainID string
	// StopHeight caps the archived range when non-zero
	StopHeight     uint64
	BatchSize      int
	ProgressBlocks uint64
}

// ArchiveStats summarizes one archival pass. From and To are zero when
// there was nothing to archive.
type ArchiveStats struct {
	ChainID  string
	From     uint64
	To       uint64
	Archived uint64
}

// Archiver copies a block source into the archive: the genesis first, then
// every contiguous height the archive does not hold yet.
type Archiver struct {
	config  ArchiverConfig
	logger  *slog.Logger
	metrics struct {
		blocksArchived prometheus.Counter
		height         prometheus.Gauge
		batchDuration  prometheus.Histogram
	}
}

func NewArchiver(cfg ArchiverConfig) (*Archiver, error) {
	if cfg.Source == nil {
		return nil, errors.New("archiver: no block source")
	}
	if cfg.Archive == nil {
		return nil, errors.New("archiver: no archive")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultArchiveBatchSize
	}
	if cfg.ProgressBlocks == 0 {
		cfg.ProgressBlocks = DefaultProgressBlocks
	}
	a := &Archiver{
		config: cfg,
		logger: cfg.Logger.With("component", "archiver"),
	}
	factory := promauto.With(cfg.PromRegistry)
	a.metrics.blocksArchived = factory.NewCounter(prometheus.CounterOpts{
		Name: "reindexer_archive_blocks_total",
		Help: "Blocks written to the archive",
	})
	a.metrics.height = factory.NewGauge(prometheus.GaugeOpts{
		Name: "reindexer_archive_height",
		Help: "Highest archived height",
	})
	a.metrics.batchDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "reindexer_archive_batch_seconds",
		Help:    "Time to write one batch of blocks to the archive",
		Buckets: prometheus.DefBuckets,
	})
	return a, nil
}

// Run archives the source up to its last height, or StopHeight. Running it
// again resumes after the highest archived height.
func (a *Archiver) Run(ctx context.Context) (ArchiveStats, error) {
	var stats ArchiveStats
	genRaw, err := a.config.Source.Genesis(ctx)
	if err != nil {
		return stats, err
	}
	gen, err := cometbft.ParseGenesis(genRaw)
	if err != nil {
		return stats, reindexer.NewSourceError(reindexer.ErrorContext{}, err)
	}
	if a.config.ChainID != "" && gen.ChainID != a.config.ChainID {
		return stats, reindexer.NewConsistencyError(
			reindexer.ErrorContext{ChainID: a.config.ChainID},
			fmt.Errorf(
				"%w: source serves %q",
				reindexer.ErrChainIDMismatch,
				gen.ChainID,
			),
		)
	}
	chainID := gen.ChainID
	stats.ChainID = chainID
	if _, err := a.config.Archive.AppendGenesis(ctx, chainID, genRaw); err != nil {
		return stats, err
	}
	from, to, err := a.bounds(ctx, chainID, gen.InitialHeight)
	if err != nil {
		return stats, err
	}
	if from > to {
		a.logger.Info(
			"archive is up to date",
			"chain_id", chainID,
			"height", to,
		)
		return stats, nil
	}
	a.logger.Info(
		"archiving blocks",
		"chain_id", chainID,
		"from", from,
		"to", to,
	)
	stats.From = from
	batch := make([]archive.RawBlock, 0, a.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		start := time.Now()
		added, err := a.config.Archive.AppendBlocks(ctx, chainID, batch)
		if err != nil {
			return err
		}
		a.metrics.batchDuration.Observe(time.Since(start).Seconds())
		a.metrics.blocksArchived.Add(float64(added))
		a.metrics.height.Set(float64(batch[len(batch)-1].Height))
		stats.Archived += uint64(added)
		stats.To = batch[len(batch)-1].Height
		batch = batch[:0]
		return nil
	}
	next := from
	err = a.config.Source.Blocks(
		ctx,
		from,
		to,
		func(height uint64, raw []byte) error {
			errCtx := reindexer.ErrorContext{ChainID: chainID, Height: height}
			if height != next {
				return reindexer.NewConsistencyError(
					errCtx,
					fmt.Errorf("source skipped to height %d, expected %d", height, next),
				)
			}
			blk, err := cometbft.DecodeBlock(raw)
			if err != nil {
				return reindexer.NewSourceError(errCtx, err)
			}
			if blk.ChainID != chainID {
				return reindexer.NewConsistencyError(
					errCtx,
					fmt.Errorf(
						"%w: block is for %q",
						reindexer.ErrChainIDMismatch,
						blk.ChainID,
					),
				)
			}
			if blk.Height != height {
				return reindexer.NewConsistencyError(
					errCtx,
					fmt.Errorf("block claims height %d", blk.Height),
				)
			}
			batch = append(batch, archive.RawBlock{Height: height, Raw: raw})
			if len(batch) >= a.config.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
			if (height-from+1)%a.config.ProgressBlocks == 0 {
				a.logger.Info(
					"archived blocks",
					"chain_id", chainID,
					"height", height,
					"to", to,
				)
			}
			next++
			return nil
		},
	)
	// Keep what was fetched before a failure
	if flushErr := flush(); flushErr != nil {
		err = errors.Join(err, flushErr)
	}
	if err != nil {
		return stats, err
	}
	a.logger.Info(
		"finished archiving",
		"chain_id", chainID,
		"from", stats.From,
		"to", stats.To,
		"archived", stats.Archived,
	)
	return stats, nil
}

func (a *Archiver) bounds(
	ctx context.Context,
	chainID string,
	initialHeight uint64,
) (uint64, uint64, error) {
	first, err := a.config.Source.FirstHeight(ctx)
	if err != nil {
		return 0, 0, err
	}
	last, err := a.config.Source.LastHeight(ctx)
	if err != nil {
		return 0, 0, err
	}
	from := initialHeight
	archived, ok, err := a.config.Archive.MaxHeight(ctx, chainID)
	if err != nil {
		return 0, 0, err
	}
	if ok {
		from = archived + 1
	}
	// The source no longer holds the heights the archive needs next
	if from < first {
		return 0, 0, reindexer.NewGapError(
			reindexer.ErrorContext{ChainID: chainID},
			from,
			first-1,
		)
	}
	to := last
	if a.config.StopHeight > 0 && a.config.StopHeight < to {
		to = a.config.StopHeight
	}
	return from, to, nil
}
