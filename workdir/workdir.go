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

// Package workdir persists the regeneration working directory: execution
// module state and the replay checkpoint, committed together.
package workdir

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/fxamacker/cbor/v2"
)

const (
	// StateDir is the badger directory inside the working directory
	StateDir          = "state"
	DefaultGcInterval = 5 * time.Minute
)

var (
	ErrNotFound            = errors.New("key not found")
	ErrCheckpointRegressed = errors.New("checkpoint moved backwards")

	checkpointKey = []byte("checkpoint")

	// Core deterministic encoding so identical state always produces
	// identical bytes
	cborEncMode = func() cbor.EncMode {
		em, err := cbor.CoreDetEncOptions().EncMode()
		if err != nil {
			panic(err)
		}
		return em
	}()
)

// Marshal encodes v with deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// Unmarshal decodes CBOR produced by Marshal.
func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// Checkpoint is the last fully indexed and committed height.
type Checkpoint struct {
	ChainID  string `json:"chain_id"`
	Height   uint64 `json:"last_committed_height"`
	EraIndex int    `json:"era_index"`
}

type Workdir struct {
	db         *badger.DB
	logger     *slog.Logger
	gcTicker   *time.Ticker
	gcStopCh   chan struct{}
	dir        string
	gcInterval time.Duration
	gcWg       sync.WaitGroup
	mu         sync.Mutex
	gcEnabled  bool
	reopened   bool
}

// Open opens or creates the working directory at dir. An empty dir keeps
// everything in memory.
func Open(dir string, opts ...WorkdirOptionFunc) (*Workdir, error) {
	w := &Workdir{
		dir:        dir,
		gcEnabled:  true,
		gcInterval: DefaultGcInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	w.logger = w.logger.With("component", "workdir")
	var badgerOpts badger.Options
	if dir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
		w.gcEnabled = false
	} else {
		if _, err := os.Stat(dir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read working dir: %w", err)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create working dir: %w", err)
			}
		}
		if _, err := os.Stat(filepath.Join(dir, StateDir)); err == nil {
			w.reopened = true
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(dir, StateDir)).
			WithCompression(options.Snappy).
			WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.
		WithLogger(NewBadgerLogger(w.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open working dir state: %w", err)
	}
	w.db = db
	if w.gcEnabled {
		w.gcTicker = time.NewTicker(w.gcInterval)
		w.gcStopCh = make(chan struct{})
		w.gcWg.Add(1)
		go w.valueLogGc(w.gcTicker, w.gcStopCh)
	}
	return w, nil
}

// Reopened reports whether the state already existed on disk when the
// working directory was opened.
func (w *Workdir) Reopened() bool {
	return w.reopened
}

// Clean removes the working directory and everything in it.
func Clean(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove working dir: %w", err)
	}
	return nil
}

func (w *Workdir) valueLogGc(t *time.Ticker, stop <-chan struct{}) {
	defer w.gcWg.Done()
	for {
		select {
		case <-t.C:
			for {
				err := w.db.RunValueLogGC(0.5)
				if err == nil {
					// Run it again if it just ran successfully
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					w.logger.Warn(
						"value log GC failure",
						"error", err,
					)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

// Dir returns the working directory path.
func (w *Workdir) Dir() string {
	return w.dir
}

// Checkpoint returns the committed checkpoint, or nil when replay has not
// committed any height yet.
func (w *Workdir) Checkpoint() (*Checkpoint, error) {
	var cp *Checkpoint
	err := w.db.View(func(txn *badger.Txn) error {
		var err error
		cp, err = readCheckpoint(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func readCheckpoint(txn *badger.Txn) (*Checkpoint, error) {
	item, err := txn.Get(checkpointKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Commit writes the pending changes of every state together with cp in a
// single transaction. Nothing is written if any part fails.
func (w *Workdir) Commit(cp Checkpoint, states ...*State) error {
	sets := make([]*Changeset, 0, len(states))
	for _, state := range states {
		sets = append(sets, state.Seal())
	}
	return w.CommitChanges(cp, sets...)
}

// CommitChanges writes sealed changesets together with cp in a single
// transaction. Changesets of one state must be committed in the order
// they were sealed.
func (w *Workdir) CommitChanges(cp Checkpoint, sets ...*Changeset) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	locked := make(map[*State]bool, len(sets))
	for _, cs := range sets {
		if locked[cs.state] {
			continue
		}
		locked[cs.state] = true
		cs.state.mu.Lock()
		defer cs.state.mu.Unlock()
	}
	err = w.db.Update(func(txn *badger.Txn) error {
		prev, err := readCheckpoint(txn)
		if err != nil {
			return err
		}
		if prev != nil {
			if prev.ChainID != cp.ChainID {
				return fmt.Errorf(
					"checkpoint belongs to chain %q, not %q",
					prev.ChainID,
					cp.ChainID,
				)
			}
			if cp.Height < prev.Height ||
				(cp.Height == prev.Height && cp.EraIndex < prev.EraIndex) {
				return fmt.Errorf(
					"%w: %d (era %d) after %d (era %d)",
					ErrCheckpointRegressed,
					cp.Height,
					cp.EraIndex,
					prev.Height,
					prev.EraIndex,
				)
			}
		}
		for _, cs := range sets {
			if err := cs.flush(txn); err != nil {
				return err
			}
		}
		return txn.Set(checkpointKey, data)
	})
	if err != nil {
		return fmt.Errorf("commit working dir: %w", err)
	}
	for _, cs := range sets {
		cs.release()
	}
	return nil
}

// Close stops background GC and closes the database.
func (w *Workdir) Close() error {
	if w.gcTicker != nil {
		w.gcTicker.Stop()
		close(w.gcStopCh)
		w.gcWg.Wait()
		w.gcTicker = nil
	}
	return w.db.Close()
}
