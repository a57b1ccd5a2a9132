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

package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/cometbft"
	dbm "github.com/cometbft/cometbft-db"
	"github.com/cometbft/cometbft/store"
	"github.com/gofrs/flock"
)

const readerLockFile = "reindexer.lock"

// BufferTooSmallError is returned by BlockByHeight when the caller's
// buffer cannot hold the encoded block.
type BufferTooSmallError struct {
	Needed int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("buffer too small: need %d bytes", e.Needed)
}

// Handle is an exclusively owned, read-only view of a CometBFT block
// store. It must be released with Close.
type Handle struct {
	db     dbm.DB
	store  *store.BlockStore
	lock   *flock.Flock
	dir    string
	mu     sync.Mutex
	closed bool
}

// Open opens the block store in dir using the named cometbft-db backend.
// It fails fast with reindexer.ErrSourceLocked when another reader or a
// running node holds the store.
func Open(dir string, backend string) (*Handle, error) {
	storeDir := filepath.Join(dir, cometbft.BlockStoreName+".db")
	if _, err := os.Stat(storeDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no block store at %s", storeDir)
		}
		return nil, fmt.Errorf("stat block store: %w", err)
	}
	lock := flock.New(filepath.Join(dir, readerLockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock block store: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf(
			"%w: %s is held by another reader",
			reindexer.ErrSourceLocked,
			dir,
		)
	}
	if err := probeStoreLock(storeDir); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	db, err := dbm.NewDB(
		cometbft.BlockStoreName,
		dbm.BackendType(backend),
		dir,
	)
	if err != nil {
		_ = lock.Unlock()
		if isLockError(err) {
			return nil, fmt.Errorf(
				"%w: %s",
				reindexer.ErrSourceLocked,
				err,
			)
		}
		return nil, fmt.Errorf("open block store: %w", err)
	}
	return &Handle{
		db:    db,
		store: store.NewBlockStore(db),
		lock:  lock,
		dir:   dir,
	}, nil
}

// probeStoreLock checks whether a running node holds the store's own lock
// file. The probe is released before the store is opened.
func probeStoreLock(storeDir string) error {
	lockPath := filepath.Join(storeDir, "LOCK")
	if _, err := os.Stat(lockPath); err != nil {
		// Backends without a lock file are checked on open
		return nil
	}
	probe := flock.New(lockPath)
	locked, err := probe.TryLock()
	if err != nil {
		if isLockError(err) {
			return fmt.Errorf("%w: %s", reindexer.ErrSourceLocked, err)
		}
		return fmt.Errorf("probe block store lock: %w", err)
	}
	if !locked {
		return fmt.Errorf(
			"%w: %s is in use by a running node",
			reindexer.ErrSourceLocked,
			storeDir,
		)
	}
	return probe.Unlock()
}

func isLockError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "resource temporarily unavailable") ||
		strings.Contains(msg, "lock held") ||
		strings.Contains(msg, "already locked")
}

// Base is the lowest height still held by the store, or 0 when empty.
func (h *Handle) Base() int64 {
	return h.store.Base()
}

// Height is the highest height held by the store, or 0 when empty.
func (h *Handle) Height() int64 {
	return h.store.Height()
}

// BlockByHeight encodes the block at height into buf and returns the
// number of bytes written. It returns reindexer.ErrBlockNotFound for
// heights outside the store and *BufferTooSmallError when buf is short.
func (h *Handle) BlockByHeight(height int64, buf []byte) (n int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, errors.New("block store handle is closed")
	}
	if height < h.store.Base() || height > h.store.Height() {
		return 0, reindexer.ErrBlockNotFound
	}
	// The block store panics on undecodable entries
	defer func() {
		if r := recover(); r != nil {
			n = 0
			err = fmt.Errorf("load block %d: %v", height, r)
		}
	}()
	blk := h.store.LoadBlock(height)
	if blk == nil {
		return 0, reindexer.ErrBlockNotFound
	}
	raw, err := cometbft.EncodeBlock(blk)
	if err != nil {
		return 0, err
	}
	if len(raw) > len(buf) {
		return len(raw), &BufferTooSmallError{Needed: len(raw)}
	}
	return copy(buf, raw), nil
}

// Close releases the store and the reader lock. It is safe to call more
// than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return errors.Join(h.db.Close(), h.lock.Unlock())
}
