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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/blinklabs-io/reindexer"
	abci "github.com/cometbft/cometbft/abci/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Synthetic event types and attribute keys written for every block and tx.
const (
	EventTypeBlock = "block"
	EventTypeTx    = "tx"
	AttrKeyHeight  = "height"
	AttrKeyHash    = "hash"
)

// Store is the gorm implementation of Indexer shared by all back-ends.
type Store struct {
	db                *gorm.DB
	logger            *slog.Logger
	appHashTable      string
	allowExistingData bool
}

type StoreOptionFunc func(*Store)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) StoreOptionFunc {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithAllowExistingData makes WriteBlock skip heights that are already
// indexed instead of failing. Existing rows are never modified.
func WithAllowExistingData(allow bool) StoreOptionFunc {
	return func(s *Store) {
		s.allowExistingData = allow
	}
}

// NewStore prepares db as an event index: it installs tracing, creates the
// tables and the views.
func NewStore(
	ctx context.Context,
	db *gorm.DB,
	opts ...StoreOptionFunc,
) (*Store, error) {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "indexer")
	s.appHashTable = AppHashTableFlat
	if supportsSchemas(db) {
		s.appHashTable = AppHashTable
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("install tracing: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func supportsSchemas(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

func (s *Store) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, model := range MigrateModels {
		s.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	if s.appHashTable == AppHashTable {
		if err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + AppHashSchema).Error; err != nil {
			return fmt.Errorf("create %s schema: %w", AppHashSchema, err)
		}
	}
	if err := db.Table(s.appHashTable).AutoMigrate(&AppHash{}); err != nil {
		return fmt.Errorf("migrate %s: %w", s.appHashTable, err)
	}
	for _, stmt := range viewStatements(s.db) {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create views: %w", err)
		}
	}
	return nil
}

// DB returns the database handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AppHashTableName is the table holding the app hash audit rows.
func (s *Store) AppHashTableName() string {
	return s.appHashTable
}

// WriteBlock implements Indexer.
func (s *Store) WriteBlock(
	ctx context.Context,
	batch BlockBatch,
) (Result, error) {
	errCtx := reindexer.ErrorContext{
		ChainID: batch.ChainID,
		Height:  batch.Height,
	}
	if batch.Height == 0 || batch.Height > math.MaxInt64 {
		return Result{}, reindexer.NewIndexWriteError(
			errCtx,
			fmt.Errorf("height %d out of range", batch.Height),
		)
	}
	var res Result
	err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var existing Block
		result := txn.Where(
			"chain_id = ? AND height = ?",
			batch.ChainID,
			int64(batch.Height), //nolint:gosec
		).Limit(1).Find(&existing)
		if result.Error != nil {
			return fmt.Errorf("lookup block: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			if !s.allowExistingData {
				return reindexer.ErrAlreadyIndexed
			}
			res = Result{BlockID: existing.RowID, Skipped: true}
			return nil
		}
		block := Block{
			Height:    int64(batch.Height), //nolint:gosec
			ChainID:   batch.ChainID,
			CreatedAt: batch.Time,
		}
		result = txn.Clauses(clause.OnConflict{DoNothing: true}).Create(&block)
		if result.Error != nil {
			return fmt.Errorf("insert block: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return reindexer.ErrAlreadyIndexed
		}
		w := &blockWriter{txn: txn, block: &block, res: &res}
		height := strconv.FormatUint(batch.Height, 10)
		if err := w.events(nil, []abci.Event{
			syntheticEvent(EventTypeBlock, AttrKeyHeight, height),
		}); err != nil {
			return err
		}
		if err := w.events(nil, batch.BeginBlockEvents); err != nil {
			return err
		}
		for i, tx := range batch.Txs {
			if err := w.tx(batch.Height, uint32(i), tx); err != nil { //nolint:gosec
				return err
			}
		}
		if err := w.events(nil, batch.EndBlockEvents); err != nil {
			return err
		}
		appHash := batch.AppHash
		if appHash == nil {
			appHash = []byte{}
		}
		if err := txn.Table(s.appHashTable).Create(&AppHash{
			BlockID: block.RowID,
			AppHash: appHash,
		}).Error; err != nil {
			return fmt.Errorf("insert app hash: %w", err)
		}
		res.BlockID = block.RowID
		return nil
	})
	if err != nil {
		return Result{}, reindexer.NewIndexWriteError(errCtx, err)
	}
	if res.Skipped {
		s.logger.Debug(
			"block already indexed, skipping",
			"chain_id", batch.ChainID,
			"height", batch.Height,
		)
	}
	return res, nil
}

type blockWriter struct {
	txn   *gorm.DB
	block *Block
	res   *Result
}

func (w *blockWriter) tx(height uint64, index uint32, tx TxBatch) error {
	var execResult abci.ExecTxResult
	if tx.Result != nil {
		execResult = *tx.Result
	}
	encoded, err := (&abci.TxResult{
		Height: int64(height), //nolint:gosec
		Index:  index,
		Tx:     tx.Raw,
		Result: execResult,
	}).Marshal()
	if err != nil {
		return fmt.Errorf("encode tx result %d: %w", index, err)
	}
	txHash := TxHash(tx.Raw)
	row := TxResult{
		BlockID:   w.block.RowID,
		Index:     index,
		CreatedAt: w.block.CreatedAt,
		TxHash:    txHash,
		TxResult:  encoded,
	}
	if err := w.txn.Create(&row).Error; err != nil {
		return fmt.Errorf("insert tx result %d: %w", index, err)
	}
	events := make([]abci.Event, 0, len(execResult.Events)+2)
	events = append(
		events,
		syntheticEvent(EventTypeTx, AttrKeyHash, txHash),
		syntheticEvent(
			EventTypeTx,
			AttrKeyHeight,
			strconv.FormatUint(height, 10),
		),
	)
	events = append(events, execResult.Events...)
	return w.events(&row.RowID, events)
}

func (w *blockWriter) events(txID *uint64, events []abci.Event) error {
	for _, ev := range events {
		row := Event{
			BlockID: w.block.RowID,
			TxID:    txID,
			Type:    ev.Type,
		}
		if err := w.txn.Create(&row).Error; err != nil {
			return fmt.Errorf("insert event %q: %w", ev.Type, err)
		}
		w.res.Events++
		if len(ev.Attributes) == 0 {
			continue
		}
		attrs := make([]Attribute, 0, len(ev.Attributes))
		for _, attr := range ev.Attributes {
			attrs = append(attrs, Attribute{
				EventID:      row.RowID,
				Key:          attr.Key,
				CompositeKey: ev.Type + "." + attr.Key,
				Value:        attr.Value,
			})
		}
		if err := w.txn.Create(&attrs).Error; err != nil {
			return fmt.Errorf("insert attributes of %q: %w", ev.Type, err)
		}
		w.res.Attributes += len(attrs)
	}
	return nil
}

func syntheticEvent(typ, key, value string) abci.Event {
	return abci.Event{
		Type: typ,
		Attributes: []abci.EventAttribute{
			{Key: key, Value: value, Index: true},
		},
	}
}

// TxHash is the uppercase hex SHA-256 of a raw transaction.
func TxHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// HasBlock implements Indexer.
func (s *Store) HasBlock(
	ctx context.Context,
	chainID string,
	height uint64,
) (bool, error) {
	if height > math.MaxInt64 {
		return false, nil
	}
	var count int64
	result := s.db.WithContext(ctx).Model(&Block{}).Where(
		"chain_id = ? AND height = ?",
		chainID,
		int64(height),
	).Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("lookup block %d: %w", height, result.Error)
	}
	return count > 0, nil
}

// AppHash implements Indexer.
func (s *Store) AppHash(
	ctx context.Context,
	chainID string,
	height uint64,
) ([]byte, bool, error) {
	if height > math.MaxInt64 {
		return nil, false, nil
	}
	var rows []AppHash
	result := s.db.WithContext(ctx).
		Table(s.appHashTable).
		Joins(
			"JOIN blocks ON blocks.rowid = "+s.appHashTable+".block_id",
		).
		Where("blocks.chain_id = ? AND blocks.height = ?", chainID, int64(height)).
		Select(s.appHashTable + ".*").
		Limit(1).
		Find(&rows)
	if result.Error != nil {
		return nil, false, fmt.Errorf("lookup app hash %d: %w", height, result.Error)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0].AppHash, true, nil
}

// Gaps implements Indexer.
func (s *Store) Gaps(ctx context.Context, chainID string) ([]Gap, error) {
	var gaps []Gap
	result := s.db.WithContext(ctx).Raw(
		`WITH numbered_blocks AS (
			SELECT height, LEAD(height) OVER (ORDER BY height) AS next_height
			FROM blocks WHERE chain_id = ?
		)
		SELECT height + 1 AS gap_from, next_height - 1 AS gap_to
		FROM numbered_blocks
		WHERE next_height - height > 1
		ORDER BY height`,
		chainID,
	).Scan(&gaps)
	if result.Error != nil {
		return nil, fmt.Errorf("find index gaps: %w", result.Error)
	}
	return gaps, nil
}

// CountBlocks implements Indexer.
func (s *Store) CountBlocks(ctx context.Context, chainID string) (int64, error) {
	var count int64
	query := s.db.WithContext(ctx).Model(&Block{})
	if chainID != "" {
		query = query.Where("chain_id = ?", chainID)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count indexed blocks: %w", err)
	}
	return count, nil
}

// MaxHeight returns the highest indexed height of chainID.
func (s *Store) MaxHeight(
	ctx context.Context,
	chainID string,
) (uint64, bool, error) {
	var blocks []Block
	result := s.db.WithContext(ctx).
		Where("chain_id = ?", chainID).
		Order("height DESC").
		Limit(1).
		Find(&blocks)
	if result.Error != nil {
		return 0, false, fmt.Errorf("max indexed height: %w", result.Error)
	}
	if len(blocks) == 0 {
		return 0, false, nil
	}
	return uint64(blocks[0].Height), true, nil //nolint:gosec
}

// Close gets the database handle and closes it
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsAlreadyIndexed reports whether err is a duplicate height failure.
func IsAlreadyIndexed(err error) bool {
	return errors.Is(err, reindexer.ErrAlreadyIndexed)
}
