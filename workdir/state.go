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

package workdir

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// EraNamespace is the key prefix holding the module state of an era.
func EraNamespace(index int) string {
	return fmt.Sprintf("era/%d/", index)
}

// State is a namespaced key/value view for one execution module. Writes
// are buffered until Workdir.Commit and are visible to reads before that.
// Sealed changesets stay visible until they are committed.
type State struct {
	w       *Workdir
	pending map[string][]byte
	sealed  []*Changeset
	prefix  string
	mu      sync.Mutex
}

// Changeset is a sealed batch of buffered writes awaiting commit.
type Changeset struct {
	state   *State
	changes map[string][]byte
}

// Seal moves the buffered writes into a changeset. Later writes start a
// new batch, so the changeset can be committed while the module keeps
// running.
func (s *State) Seal() *Changeset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealLocked()
}

func (s *State) sealLocked() *Changeset {
	cs := &Changeset{state: s, changes: s.pending}
	s.sealed = append(s.sealed, cs)
	s.pending = make(map[string][]byte)
	return cs
}

// lookup finds key in the buffered layers, newest first.
func (s *State) lookup(key string) ([]byte, bool) {
	if val, ok := s.pending[key]; ok {
		return val, true
	}
	for i := len(s.sealed) - 1; i >= 0; i-- {
		if val, ok := s.sealed[i].changes[key]; ok {
			return val, true
		}
	}
	return nil, false
}

// State returns the state view for namespace. Views of different
// namespaces never see each other's keys.
func (w *Workdir) State(namespace string) *State {
	return &State{
		w:       w,
		prefix:  namespace,
		pending: make(map[string][]byte),
	}
}

func (s *State) Namespace() string {
	return s.prefix
}

// Get returns the value of key or ErrNotFound.
func (s *State) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if val, ok := s.lookup(string(key)); ok {
		if val == nil {
			return nil, ErrNotFound
		}
		return append([]byte{}, val...), nil
	}
	var ret []byte
	err := s.w.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.prefix + string(key)))
		if err != nil {
			return err
		}
		ret, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	return ret, nil
}

// Set buffers a write of key.
func (s *State) Set(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[string(key)] = append([]byte{}, value...)
}

// Delete buffers a removal of key.
func (s *State) Delete(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[string(key)] = nil
}

// Clear buffers the removal of every key in the namespace.
func (s *State) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.committedKeys()
	if err != nil {
		return err
	}
	for _, cs := range s.sealed {
		for key := range cs.changes {
			keys = append(keys, key)
		}
	}
	s.pending = make(map[string][]byte, len(keys))
	for _, key := range keys {
		s.pending[key] = nil
	}
	return nil
}

// Discard drops buffered writes that are not sealed.
func (s *State) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string][]byte)
}

// Dirty reports whether there are buffered or sealed writes.
func (s *State) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0 || len(s.sealed) > 0
}

func (s *State) committedKeys() ([]string, error) {
	var keys []string
	err := s.w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(s.prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(s.prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list state keys: %w", err)
	}
	return keys, nil
}

// Iterate calls fn for every key in ascending order, with buffered writes
// applied.
func (s *State) Iterate(fn func(key, value []byte) error) error {
	s.mu.Lock()
	merged := make(map[string][]byte)
	err := s.w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(s.prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			merged[string(item.Key()[len(s.prefix):])] = val
		}
		return nil
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("iterate state: %w", err)
	}
	layers := make([]map[string][]byte, 0, len(s.sealed)+1)
	for _, cs := range s.sealed {
		layers = append(layers, cs.changes)
	}
	layers = append(layers, s.pending)
	for _, layer := range layers {
		for key, val := range layer {
			if val == nil {
				delete(merged, key)
				continue
			}
			merged[key] = append([]byte{}, val...)
		}
	}
	s.mu.Unlock()
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn([]byte(key), merged[key]); err != nil {
			return err
		}
	}
	return nil
}

// flush applies the changeset to txn. The caller holds the state's mu.
func (cs *Changeset) flush(txn *badger.Txn) error {
	for key, val := range cs.changes {
		fullKey := []byte(cs.state.prefix + key)
		if val == nil {
			if err := txn.Delete(fullKey); err != nil {
				return fmt.Errorf("delete state key: %w", err)
			}
			continue
		}
		if err := txn.Set(fullKey, val); err != nil {
			return fmt.Errorf("write state key: %w", err)
		}
	}
	return nil
}

// release drops a committed changeset from the visible layers. The caller
// holds the state's mu.
func (cs *Changeset) release() {
	s := cs.state
	for i, layer := range s.sealed {
		if layer == cs {
			s.sealed = append(s.sealed[:i:i], s.sealed[i+1:]...)
			return
		}
	}
}
