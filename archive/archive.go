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

// Package archive stores raw blocks and genesis documents in a single,
// append-only sqlite file.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/cometbft"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Version identifies the archive file layout.
const Version = "reindexer-archive-v1"

var ErrUnsupportedArchive = errors.New("unsupported archive version")

// RawBlock is a block payload keyed by height.
type RawBlock struct {
	Raw    []byte
	Height uint64
}

// Gap is an inclusive range of missing heights.
type Gap struct {
	From uint64
	To   uint64
}

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string
}

type StoreOptionFunc func(*Store)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) StoreOptionFunc {
	return func(s *Store) {
		s.logger = logger
	}
}

// New opens or creates the archive at path. An empty path opens a private
// in-memory archive.
func New(path string, opts ...StoreOptionFunc) (*Store, error) {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "archive")
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read archive dir: %w", err)
			}
			if err := os.MkdirAll(dir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create archive dir: %w", err)
			}
		}
		dsn = fmt.Sprintf(
			"file:%s?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)",
			path,
		)
	}
	db, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database handle: %w", err)
	}
	// A single connection keeps the in-memory database alive and
	// serializes writers
	sqlDB.SetMaxOpenConns(1)
	s.db = db
	if err := s.init(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if err := s.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	for _, model := range MigrateModels {
		if err := s.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate archive: %w", err)
		}
	}
	var meta Metadata
	result := s.db.Limit(1).Find(&meta)
	if result.Error != nil {
		return fmt.Errorf("read archive metadata: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		meta = Metadata{ID: 1, Version: Version}
		if err := s.db.Create(&meta).Error; err != nil {
			return fmt.Errorf("write archive metadata: %w", err)
		}
		s.logger.Debug("created archive", "path", s.path, "version", Version)
		return nil
	}
	if meta.Version != Version {
		return fmt.Errorf(
			"%w: %q (expected %q)",
			ErrUnsupportedArchive,
			meta.Version,
			Version,
		)
	}
	return nil
}

// Path returns the archive file path, or an empty string for an in-memory
// archive.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying GORM database handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return sqlDB.Close()
}

// putBlob stores data if no blob with the same hash exists and returns
// the blob id.
func putBlob(tx *gorm.DB, hash [32]byte, data []byte) (uint64, error) {
	blob := Blob{Hash: hash[:], Data: data}
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoNothing: true,
	}).Create(&blob)
	if result.Error != nil {
		return 0, fmt.Errorf("insert blob: %w", result.Error)
	}
	if result.RowsAffected > 0 && blob.ID != 0 {
		return blob.ID, nil
	}
	var existing Blob
	if err := tx.Select("id").Where("hash = ?", hash[:]).First(&existing).Error; err != nil {
		return 0, fmt.Errorf("lookup blob: %w", err)
	}
	return existing.ID, nil
}

func blobHash(tx *gorm.DB, id uint64) ([]byte, error) {
	var blob Blob
	if err := tx.Select("hash").Where("id = ?", id).First(&blob).Error; err != nil {
		return nil, fmt.Errorf("lookup blob %d: %w", id, err)
	}
	return blob.Hash, nil
}

// AppendBlock archives one block. Re-appending identical bytes is a no-op;
// different bytes at an archived height are a ConsistencyError.
func (s *Store) AppendBlock(
	ctx context.Context,
	chainID string,
	height uint64,
	raw []byte,
) error {
	_, err := s.AppendBlocks(
		ctx,
		chainID,
		[]RawBlock{{Height: height, Raw: raw}},
	)
	return err
}

// AppendBlocks archives a batch of blocks in one transaction and returns
// the number of heights that were not already present.
func (s *Store) AppendBlocks(
	ctx context.Context,
	chainID string,
	blocks []RawBlock,
) (int, error) {
	var added int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, blk := range blocks {
			hash := sha256.Sum256(blk.Raw)
			var existing Block
			result := tx.Where(
				"chain_id = ? AND height = ?",
				chainID,
				blk.Height,
			).Limit(1).Find(&existing)
			if result.Error != nil {
				return fmt.Errorf("lookup block: %w", result.Error)
			}
			if result.RowsAffected > 0 {
				existingHash, err := blobHash(tx, existing.BlobID)
				if err != nil {
					return err
				}
				if !bytes.Equal(existingHash, hash[:]) {
					return reindexer.NewConsistencyError(
						reindexer.ErrorContext{
							ChainID: chainID,
							Height:  blk.Height,
						},
						reindexer.ErrContentMismatch,
					)
				}
				continue
			}
			blobID, err := putBlob(tx, hash, blk.Raw)
			if err != nil {
				return err
			}
			row := Block{ChainID: chainID, Height: blk.Height, BlobID: blobID}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert block %d: %w", blk.Height, err)
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// AppendGenesis archives a genesis document for chainID and returns its
// initial height.
func (s *Store) AppendGenesis(
	ctx context.Context,
	chainID string,
	raw []byte,
) (uint64, error) {
	gen, err := cometbft.ParseGenesis(raw)
	if err != nil {
		return 0, err
	}
	errCtx := reindexer.ErrorContext{
		ChainID: chainID,
		Height:  gen.InitialHeight,
	}
	if gen.ChainID != chainID {
		return 0, reindexer.NewConsistencyError(
			errCtx,
			fmt.Errorf(
				"%w: genesis is for %q",
				reindexer.ErrChainIDMismatch,
				gen.ChainID,
			),
		)
	}
	hash := sha256.Sum256(raw)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Genesis
		result := tx.Where(
			"chain_id = ? AND initial_height = ?",
			chainID,
			gen.InitialHeight,
		).Limit(1).Find(&existing)
		if result.Error != nil {
			return fmt.Errorf("lookup genesis: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			existingHash, err := blobHash(tx, existing.BlobID)
			if err != nil {
				return err
			}
			if !bytes.Equal(existingHash, hash[:]) {
				return reindexer.NewConsistencyError(
					errCtx,
					reindexer.ErrContentMismatch,
				)
			}
			return nil
		}
		blobID, err := putBlob(tx, hash, raw)
		if err != nil {
			return err
		}
		row := Genesis{
			ChainID:       chainID,
			InitialHeight: gen.InitialHeight,
			BlobID:        blobID,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert genesis: %w", err)
		}
		s.logger.Debug(
			"archived genesis",
			"chain_id", chainID,
			"initial_height", gen.InitialHeight,
		)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return gen.InitialHeight, nil
}

// Block returns the raw block at height or reindexer.ErrBlockNotFound.
func (s *Store) Block(
	ctx context.Context,
	chainID string,
	height uint64,
) ([]byte, error) {
	var blob Blob
	result := s.db.WithContext(ctx).
		Model(&Blob{}).
		Select("blobs.data").
		Joins("JOIN blocks ON blocks.blob_id = blobs.id").
		Where("blocks.chain_id = ? AND blocks.height = ?", chainID, height).
		Limit(1).
		Find(&blob)
	if result.Error != nil {
		return nil, fmt.Errorf("read block %d: %w", height, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, reindexer.ErrBlockNotFound
	}
	return blob.Data, nil
}

func (s *Store) heightBound(
	ctx context.Context,
	chainID string,
	order string,
) (uint64, bool, error) {
	var blk Block
	result := s.db.WithContext(ctx).
		Where("chain_id = ?", chainID).
		Order("height " + order).
		Limit(1).
		Find(&blk)
	if result.Error != nil {
		return 0, false, fmt.Errorf("read height bound: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, false, nil
	}
	return blk.Height, true, nil
}

// MaxHeight returns the highest archived height for chainID. The boolean
// is false when no blocks are archived.
func (s *Store) MaxHeight(
	ctx context.Context,
	chainID string,
) (uint64, bool, error) {
	return s.heightBound(ctx, chainID, "DESC")
}

// MinHeight returns the lowest archived height for chainID.
func (s *Store) MinHeight(
	ctx context.Context,
	chainID string,
) (uint64, bool, error) {
	return s.heightBound(ctx, chainID, "ASC")
}

type genesisRow struct {
	Data          []byte
	InitialHeight uint64
}

func (s *Store) genesisRows(
	ctx context.Context,
	query string,
	args ...any,
) ([]*cometbft.Genesis, error) {
	var rows []genesisRow
	result := s.db.WithContext(ctx).
		Model(&Genesis{}).
		Select("geneses.initial_height, blobs.data").
		Joins("JOIN blobs ON blobs.id = geneses.blob_id").
		Where(query, args...).
		Order("geneses.initial_height ASC").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("read geneses: %w", result.Error)
	}
	ret := make([]*cometbft.Genesis, 0, len(rows))
	for _, row := range rows {
		gen, err := cometbft.ParseGenesis(row.Data)
		if err != nil {
			return nil, fmt.Errorf(
				"archived genesis at %d: %w",
				row.InitialHeight,
				err,
			)
		}
		ret = append(ret, gen)
	}
	return ret, nil
}

// Geneses returns every archived genesis for chainID ordered by initial
// height.
func (s *Store) Geneses(
	ctx context.Context,
	chainID string,
) ([]*cometbft.Genesis, error) {
	return s.genesisRows(ctx, "geneses.chain_id = ?", chainID)
}

// Genesis returns the genesis of chainID that starts at initialHeight.
func (s *Store) Genesis(
	ctx context.Context,
	chainID string,
	initialHeight uint64,
) (*cometbft.Genesis, error) {
	gens, err := s.genesisRows(
		ctx,
		"geneses.chain_id = ? AND geneses.initial_height = ?",
		chainID,
		initialHeight,
	)
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 {
		return nil, reindexer.ErrGenesisNotFound
	}
	return gens[0], nil
}

// GenesisAt returns the genesis starting at initialHeight regardless of
// chain. It is an error for more than one chain to match.
func (s *Store) GenesisAt(
	ctx context.Context,
	initialHeight uint64,
) (*cometbft.Genesis, error) {
	gens, err := s.genesisRows(
		ctx,
		"geneses.initial_height = ?",
		initialHeight,
	)
	if err != nil {
		return nil, err
	}
	switch len(gens) {
	case 0:
		return nil, reindexer.ErrGenesisNotFound
	case 1:
		return gens[0], nil
	default:
		return nil, fmt.Errorf(
			"%d chains have a genesis at height %d",
			len(gens),
			initialHeight,
		)
	}
}

// ChainIDs lists every chain with archived blocks or geneses.
func (s *Store) ChainIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, model := range []any{&Block{}, &Genesis{}} {
		var ids []string
		if err := s.db.WithContext(ctx).Model(model).Distinct().Pluck("chain_id", &ids).Error; err != nil {
			return nil, fmt.Errorf("list chain ids: %w", err)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	ret := make([]string, 0, len(seen))
	for id := range seen {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret, nil
}

func (s *Store) count(
	ctx context.Context,
	model any,
	chainID string,
) (int64, error) {
	var n int64
	query := s.db.WithContext(ctx).Model(model)
	if chainID != "" {
		query = query.Where("chain_id = ?", chainID)
	}
	if err := query.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// CountBlocks counts archived blocks. An empty chainID counts all chains.
func (s *Store) CountBlocks(ctx context.Context, chainID string) (int64, error) {
	return s.count(ctx, &Block{}, chainID)
}

// CountGeneses counts archived geneses. An empty chainID counts all chains.
func (s *Store) CountGeneses(
	ctx context.Context,
	chainID string,
) (int64, error) {
	return s.count(ctx, &Genesis{}, chainID)
}

// Gaps returns every hole between the lowest and highest archived heights
// of chainID.
func (s *Store) Gaps(ctx context.Context, chainID string) ([]Gap, error) {
	var gaps []Gap
	result := s.db.WithContext(ctx).Raw(
		`WITH numbered_blocks AS (
			SELECT height, LEAD(height) OVER (ORDER BY height) AS next_height
			FROM blocks WHERE chain_id = ?
		)
		SELECT height + 1 AS "from", next_height - 1 AS "to"
		FROM numbered_blocks
		WHERE next_height - height > 1
		ORDER BY height`,
		chainID,
	).Scan(&gaps)
	if result.Error != nil {
		return nil, fmt.Errorf("find archive gaps: %w", result.Error)
	}
	return gaps, nil
}
