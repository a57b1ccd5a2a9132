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

// Package regen replays archived blocks through the execution module of
// each era and writes the resulting events into the index. Replay is
// resumable: module state and the checkpoint are committed together, and
// only after the index has acknowledged the height.
package regen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/archive"
	"github.com/blinklabs-io/reindexer/cometbft"
	"github.com/blinklabs-io/reindexer/execution"
	"github.com/blinklabs-io/reindexer/indexer"
	"github.com/blinklabs-io/reindexer/upgrade"
	"github.com/blinklabs-io/reindexer/workdir"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultProgressInterval = 10 * time.Second
	tracerName              = "reindexer/regen"
)

// Archive is the read side of the block archive used for replay.
type Archive interface {
	upgrade.GenesisLister
	Blocks(ctx context.Context, chainID string, from, to uint64) *archive.BlockIterator
	MaxHeight(ctx context.Context, chainID string) (uint64, bool, error)
}

// Config holds everything an Engine needs. There is no ambient state:
// two engines with different configs can run in one process.
type Config struct {
	Archive Archive
	Indexer indexer.Indexer
	// Registry defaults to execution.DefaultRegistry
	Registry     *execution.Registry
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// Compatibility defaults to upgrade.DefaultCompatibility
	Compatibility upgrade.Compatibility
	ChainID       string
	// WorkingDir holds module state and the checkpoint. Empty keeps them
	// in memory.
	WorkingDir string
	// StartHeight is the first height written to the index. Lower heights
	// of its era are still executed to rebuild state.
	StartHeight uint64
	// StopHeight is the last height replayed. Zero replays everything
	// archived.
	StopHeight       uint64
	ProgressInterval time.Duration
	// Clean removes WorkingDir before replay starts
	Clean bool
	// AllowExistingData skips heights that are already indexed
	AllowExistingData bool
	// AsyncIndex overlaps the index write of a height with execution of
	// the next one
	AsyncIndex bool
}

// Stats summarizes a run.
type Stats struct {
	FirstHeight uint64
	LastHeight  uint64
	Executed    uint64
	Indexed     uint64
	Skipped     uint64
	Eras        int
}

// Engine is the regeneration state machine.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics engineMetrics
	stats   Stats
	phase   Phase
	mu      sync.Mutex
}

// New validates cfg and creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Archive == nil {
		return nil, errors.New("regen: no archive configured")
	}
	if cfg.Indexer == nil {
		return nil, errors.New("regen: no indexer configured")
	}
	if cfg.ChainID == "" {
		return nil, errors.New("regen: no chain id configured")
	}
	if cfg.StopHeight > 0 && cfg.StartHeight > cfg.StopHeight {
		return nil, fmt.Errorf(
			"regen: start height %d is above stop height %d",
			cfg.StartHeight,
			cfg.StopHeight,
		)
	}
	if cfg.Registry == nil {
		cfg.Registry = execution.DefaultRegistry
	}
	if cfg.Compatibility == nil {
		cfg.Compatibility = upgrade.DefaultCompatibility
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger.With("component", "regen", "chain_id", cfg.ChainID),
		tracer: otel.Tracer(tracerName),
		phase:  PhaseLoadEra,
	}
	e.initMetrics(cfg.PromRegistry)
	return e, nil
}

// Phase returns the current state of the engine.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = p
}

// Stats returns a snapshot of the run counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) updateStats(fn func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.stats)
}

// Run replays until the stop height or the end of the archive. The
// working directory is left in place on failure so a later run resumes
// from the last committed height.
func (e *Engine) Run(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "regen.run")
	defer span.End()
	if err := e.run(ctx); err != nil {
		e.setPhase(PhaseFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	e.setPhase(PhaseFinished)
	stats := e.Stats()
	e.logger.Info(
		"regeneration finished",
		"first_height", stats.FirstHeight,
		"last_height", stats.LastHeight,
		"executed", stats.Executed,
		"indexed", stats.Indexed,
		"skipped", stats.Skipped,
	)
	return nil
}

func (e *Engine) run(ctx context.Context) (err error) {
	chainID := e.cfg.ChainID
	errCtx := reindexer.ErrorContext{ChainID: chainID}
	if e.cfg.Clean {
		e.logger.Info("removing working directory", "dir", e.cfg.WorkingDir)
		if err := workdir.Clean(e.cfg.WorkingDir); err != nil {
			return err
		}
	}
	wd, err := workdir.Open(e.cfg.WorkingDir, workdir.WithLogger(e.logger))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, wd.Close())
	}()
	table, err := upgrade.Build(ctx, e.cfg.Archive, chainID, e.cfg.Compatibility)
	if err != nil {
		return err
	}
	archiveMax, ok, err := e.cfg.Archive.MaxHeight(ctx, chainID)
	if err != nil {
		return err
	}
	first := table.Eras[0].StartHeight
	if !ok {
		return reindexer.NewGapError(errCtx, first, first)
	}
	if e.cfg.StartHeight > archiveMax {
		return reindexer.NewGapError(errCtx, archiveMax+1, e.cfg.StartHeight)
	}
	cp, err := wd.Checkpoint()
	if err != nil {
		return err
	}
	var begin uint64
	if cp != nil {
		if cp.ChainID != chainID {
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf(
					"%w: working directory belongs to %q",
					reindexer.ErrChainIDMismatch,
					cp.ChainID,
				),
			)
		}
		begin = cp.Height + 1
	} else {
		era, err := table.EraFor(max(e.cfg.StartHeight, first))
		if err != nil {
			return err
		}
		begin = era.StartHeight
	}
	end := archiveMax
	if e.cfg.StopHeight > 0 {
		if e.cfg.StopHeight > archiveMax {
			return reindexer.NewGapError(errCtx, archiveMax+1, e.cfg.StopHeight)
		}
		end = e.cfg.StopHeight
	}
	e.updateStats(func(s *Stats) {
		s.FirstHeight = begin
		if begin > 0 {
			s.LastHeight = begin - 1
		}
	})
	if begin > end {
		e.logger.Info(
			"nothing to replay",
			"next_height", begin,
			"stop_height", end,
		)
		return nil
	}
	if err := table.Validate(begin, end); err != nil {
		return err
	}
	e.logger.Info(
		"starting regeneration",
		"from", begin,
		"to", end,
		"index_from", e.cfg.StartHeight,
		"eras", len(table.Eras),
		"resumed", cp != nil,
	)
	r := &replay{
		e:            e,
		wd:           wd,
		table:        table,
		lastProgress: time.Now(),
	}
	switch {
	case cp != nil:
		r.resumeHeight = begin
	case wd.Reopened():
		// A previous run may have indexed its first height and stopped
		// before committing any checkpoint
		r.resumeHeight = max(begin, e.cfg.StartHeight)
	}
	return r.run(ctx, begin, end)
}

type pendingWrite struct {
	done    chan error
	changes *workdir.Changeset
	cp      workdir.Checkpoint
}

// replay is the mutable state of one Run.
type replay struct {
	e            *Engine
	wd           *workdir.Workdir
	table        *upgrade.Table
	era          *upgrade.Era
	module       execution.Module
	state        *workdir.State
	pending      *pendingWrite
	lastProgress time.Time
	resumeHeight uint64
}

func (r *replay) run(ctx context.Context, begin, end uint64) error {
	defer func() {
		// Abandon an in-flight write without committing it
		if r.pending != nil {
			<-r.pending.done
			r.pending = nil
		}
		r.closeModule()
	}()
	era, err := r.table.EraFor(begin)
	if err != nil {
		return err
	}
	if err := r.loadEra(ctx, era, begin); err != nil {
		return err
	}
	chainID := r.e.cfg.ChainID
	it := r.e.cfg.Archive.Blocks(ctx, chainID, begin, end)
	for it.Next() {
		height := it.Height()
		errCtx := reindexer.ErrorContext{
			ChainID: chainID,
			Height:  height,
			Era:     r.era.ModuleID,
		}
		blk, err := cometbft.DecodeBlock(it.Raw())
		if err != nil {
			return reindexer.NewConsistencyError(errCtx, err)
		}
		if blk.Height != height {
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf("archived block carries height %d", blk.Height),
			)
		}
		if blk.ChainID != chainID {
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf(
					"%w: archived block is for %q",
					reindexer.ErrChainIDMismatch,
					blk.ChainID,
				),
			)
		}
		if r.era.HasHalt() && height >= r.era.HaltHeight {
			if err := r.upgrade(ctx, blk); err != nil {
				return err
			}
		}
		if err := r.replayBlock(ctx, blk); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	return r.drain()
}

// loadEra builds the era's module and brings its state to height-1.
func (r *replay) loadEra(ctx context.Context, era *upgrade.Era, height uint64) error {
	r.e.setPhase(PhaseLoadEra)
	ctx, span := r.e.tracer.Start(
		ctx,
		"regen.load_era",
		trace.WithAttributes(
			attribute.Int("era.index", era.Index),
			attribute.String("era.module", era.ModuleID),
			attribute.Int64("height", int64(height)), //nolint:gosec
		),
	)
	defer span.End()
	chainID := r.e.cfg.ChainID
	errCtx := reindexer.ErrorContext{
		ChainID: chainID,
		Height:  height,
		Era:     era.ModuleID,
	}
	state := r.wd.State(workdir.EraNamespace(era.Index))
	module, err := r.e.cfg.Registry.New(era.ModuleID, state, r.e.logger)
	if err != nil {
		return err
	}
	if height == era.StartHeight {
		if err := module.InitChain(ctx, era.Genesis); err != nil {
			_ = module.Close()
			return reindexer.NewExecutionError(errCtx, "init_chain", err)
		}
	} else {
		meta, err := module.Restore(ctx)
		if err != nil {
			_ = module.Close()
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf("restore module state: %w", err),
			)
		}
		if meta.ChainID != chainID {
			_ = module.Close()
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf(
					"%w: module state is for %q",
					reindexer.ErrChainIDMismatch,
					meta.ChainID,
				),
			)
		}
		if meta.Height+1 != height {
			_ = module.Close()
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf(
					"module state is at height %d, checkpoint expects %d",
					meta.Height,
					height-1,
				),
			)
		}
	}
	r.era = era
	r.module = module
	r.state = state
	r.e.metrics.era.Set(float64(era.Index))
	r.e.updateStats(func(s *Stats) { s.Eras++ })
	r.e.logger.Info(
		"loaded era",
		"era", era.String(),
		"module", era.ModuleID,
		"height", height,
		"restored", height != era.StartHeight,
	)
	r.e.setPhase(PhaseReplaying)
	return nil
}

// upgrade handles the era boundary: the current module must halt exactly
// at its era's halt height.
func (r *replay) upgrade(ctx context.Context, blk *cometbft.Block) error {
	r.e.setPhase(PhaseAwaitingUpgrade)
	errCtx := reindexer.ErrorContext{
		ChainID: r.e.cfg.ChainID,
		Height:  blk.Height,
		Era:     r.era.ModuleID,
	}
	_, err := r.module.BeginBlock(ctx, blk)
	var halt *execution.HaltRequestedError
	if !errors.As(err, &halt) {
		if err != nil {
			return reindexer.NewExecutionError(errCtx, "begin_block", err)
		}
		return reindexer.NewConsistencyError(
			errCtx,
			fmt.Errorf("module did not halt at era halt height %d", r.era.HaltHeight),
		)
	}
	if halt.Height != r.era.HaltHeight {
		return reindexer.NewConsistencyError(
			errCtx,
			fmt.Errorf(
				"module halted at %d, era halts at %d",
				halt.Height,
				r.era.HaltHeight,
			),
		)
	}
	next := r.table.Next(r.era)
	if next == nil {
		return reindexer.NewConsistencyError(
			errCtx,
			fmt.Errorf("%w: no era after %s", reindexer.ErrUnsupportedVersion, r.era),
		)
	}
	if err := r.drain(); err != nil {
		return err
	}
	cp := workdir.Checkpoint{
		ChainID:  r.e.cfg.ChainID,
		Height:   halt.Height - 1,
		EraIndex: next.Index,
	}
	if err := r.wd.Commit(cp, r.state); err != nil {
		return err
	}
	r.e.metrics.eraTransitions.Inc()
	r.e.logger.Info(
		"era halted for upgrade",
		"era", r.era.String(),
		"halt_height", halt.Height,
		"next_module", next.ModuleID,
	)
	r.closeModule()
	return r.loadEra(ctx, next, blk.Height)
}

func (r *replay) replayBlock(ctx context.Context, blk *cometbft.Block) error {
	height := blk.Height
	ctx, span := r.e.tracer.Start(
		ctx,
		"regen.block",
		trace.WithAttributes(
			attribute.Int64("height", int64(height)), //nolint:gosec
			attribute.String("era.module", r.era.ModuleID),
			attribute.Int("txs", len(blk.Txs)),
		),
	)
	defer span.End()
	errCtx := reindexer.ErrorContext{
		ChainID: r.e.cfg.ChainID,
		Height:  height,
		Era:     r.era.ModuleID,
	}
	start := time.Now()
	beginEvents, err := r.module.BeginBlock(ctx, blk)
	if err != nil {
		var halt *execution.HaltRequestedError
		if errors.As(err, &halt) {
			return reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf("module halted inside era %s", r.era),
			)
		}
		return reindexer.NewExecutionError(errCtx, "begin_block", err)
	}
	txs := make([]indexer.TxBatch, 0, len(blk.Txs))
	for i, tx := range blk.Txs {
		res, err := r.module.DeliverTx(ctx, tx)
		if err != nil {
			return reindexer.NewExecutionError(
				errCtx,
				fmt.Sprintf("deliver_tx %d", i),
				err,
			)
		}
		txs = append(txs, indexer.TxBatch{Raw: tx, Result: res})
	}
	endEvents, err := r.module.EndBlock(ctx)
	if err != nil {
		return reindexer.NewExecutionError(errCtx, "end_block", err)
	}
	appHash, err := r.module.Commit(ctx)
	if err != nil {
		return reindexer.NewExecutionError(errCtx, "commit", err)
	}
	r.e.metrics.blockDuration.Observe(time.Since(start).Seconds())
	r.e.metrics.blocksExecuted.Inc()
	r.e.updateStats(func(s *Stats) { s.Executed++ })

	changes := r.state.Seal()
	cp := workdir.Checkpoint{
		ChainID:  r.e.cfg.ChainID,
		Height:   height,
		EraIndex: r.era.Index,
	}
	write, err := r.shouldWrite(ctx, height, appHash)
	if err != nil {
		return err
	}
	if !write {
		if err := r.drain(); err != nil {
			return err
		}
		return r.commit(cp, changes)
	}
	batch := indexer.BlockBatch{
		ChainID:          r.e.cfg.ChainID,
		Height:           height,
		Time:             blk.Time,
		BeginBlockEvents: beginEvents,
		Txs:              txs,
		EndBlockEvents:   endEvents,
		AppHash:          appHash,
	}
	if !r.e.cfg.AsyncIndex {
		if err := r.write(ctx, batch); err != nil {
			return err
		}
		return r.commit(cp, changes)
	}
	if err := r.drain(); err != nil {
		return err
	}
	p := &pendingWrite{
		done:    make(chan error, 1),
		changes: changes,
		cp:      cp,
	}
	r.pending = p
	go func() {
		p.done <- r.write(ctx, batch)
	}()
	return nil
}

// shouldWrite decides whether height goes to the index. Heights below the
// start height are only executed. The first height after a resume may
// already be indexed if the previous run stopped between the index write
// and the checkpoint commit; its recorded app hash must then match.
func (r *replay) shouldWrite(
	ctx context.Context,
	height uint64,
	appHash []byte,
) (bool, error) {
	if height < r.e.cfg.StartHeight {
		return false, nil
	}
	chainID := r.e.cfg.ChainID
	if height != r.resumeHeight && !r.e.cfg.AllowExistingData {
		return true, nil
	}
	has, err := r.e.cfg.Indexer.HasBlock(ctx, chainID, height)
	if err != nil {
		return false, reindexer.NewIndexWriteError(
			reindexer.ErrorContext{ChainID: chainID, Height: height},
			err,
		)
	}
	if !has {
		return true, nil
	}
	if !r.e.cfg.AllowExistingData {
		recorded, ok, err := r.e.cfg.Indexer.AppHash(ctx, chainID, height)
		if err != nil {
			return false, reindexer.NewIndexWriteError(
				reindexer.ErrorContext{ChainID: chainID, Height: height},
				err,
			)
		}
		if !ok || !bytes.Equal(recorded, appHash) {
			return false, reindexer.NewConsistencyError(
				reindexer.ErrorContext{
					ChainID: chainID,
					Height:  height,
					Era:     r.era.ModuleID,
				},
				fmt.Errorf(
					"%w: indexed app hash %X, replay computed %X",
					reindexer.ErrContentMismatch,
					recorded,
					appHash,
				),
			)
		}
		r.e.logger.Info(
			"height was indexed before the last interruption",
			"height", height,
		)
	}
	r.e.metrics.blocksSkipped.Inc()
	r.e.updateStats(func(s *Stats) { s.Skipped++ })
	return false, nil
}

func (r *replay) write(ctx context.Context, batch indexer.BlockBatch) error {
	start := time.Now()
	res, err := r.e.cfg.Indexer.WriteBlock(ctx, batch)
	if err != nil {
		var writeErr *reindexer.IndexWriteError
		if errors.As(err, &writeErr) {
			return err
		}
		return reindexer.NewIndexWriteError(
			reindexer.ErrorContext{ChainID: batch.ChainID, Height: batch.Height},
			err,
		)
	}
	r.e.metrics.indexDuration.Observe(time.Since(start).Seconds())
	if res.Skipped {
		r.e.metrics.blocksSkipped.Inc()
		r.e.updateStats(func(s *Stats) { s.Skipped++ })
		return nil
	}
	r.e.metrics.blocksIndexed.Inc()
	r.e.updateStats(func(s *Stats) { s.Indexed++ })
	return nil
}

// drain waits for the in-flight index write and commits its checkpoint.
func (r *replay) drain() error {
	if r.pending == nil {
		return nil
	}
	p := r.pending
	r.pending = nil
	if err := <-p.done; err != nil {
		return err
	}
	return r.commit(p.cp, p.changes)
}

func (r *replay) commit(cp workdir.Checkpoint, changes *workdir.Changeset) error {
	if err := r.wd.CommitChanges(cp, changes); err != nil {
		return err
	}
	r.e.metrics.height.Set(float64(cp.Height))
	r.e.updateStats(func(s *Stats) { s.LastHeight = cp.Height })
	if time.Since(r.lastProgress) >= r.e.cfg.ProgressInterval {
		stats := r.e.Stats()
		r.e.logger.Info(
			"replay progress",
			"height", cp.Height,
			"era", r.era.String(),
			"executed", stats.Executed,
			"indexed", stats.Indexed,
			"skipped", stats.Skipped,
		)
		r.lastProgress = time.Now()
	}
	return nil
}

func (r *replay) closeModule() {
	if r.module == nil {
		return
	}
	if err := r.module.Close(); err != nil {
		r.e.logger.Warn(
			"failed to close execution module",
			"module", r.era.ModuleID,
			"error", err,
		)
	}
	r.module = nil
}
