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

// Package kvstore provides deterministic key/value execution modules used
// for devnets and tests. Transactions have the form key=value.
package kvstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/blinklabs-io/reindexer/cometbft"
	"github.com/blinklabs-io/reindexer/execution"
	"github.com/blinklabs-io/reindexer/workdir"
	abci "github.com/cometbft/cometbft/abci/types"
)

const (
	ModuleIDv1       = "kvstore/v1"
	ModuleIDv2       = "kvstore/v2"
	EventCommitStats = "commit_stats"
)

const (
	CodeOK uint32 = iota
	CodeInvalidTx
)

var (
	ErrNotInitialized = errors.New("module state not initialized")

	metaKey  = []byte("meta")
	kvPrefix = "kv/"
)

func init() {
	Register(execution.DefaultRegistry)
}

// Register adds both module versions to r.
func Register(r *execution.Registry) {
	r.Register(ModuleIDv1, func(cfg execution.Config) (execution.Module, error) {
		return New(cfg, 1), nil
	})
	r.Register(ModuleIDv2, func(cfg execution.Config) (execution.Module, error) {
		return New(cfg, 2), nil
	})
}

// AppState is the genesis app_state understood by the module.
type AppState struct {
	KV         map[string]string `json:"kv"`
	HaltHeight string            `json:"halt_height"`
}

type meta struct {
	ChainID    string `json:"chain_id"`
	Height     uint64 `json:"height"`
	HaltHeight uint64 `json:"halt_height"`
}

type Module struct {
	state    execution.State
	logger   *slog.Logger
	kv       map[string]string
	block    *cometbft.Block
	moduleID string
	meta     meta
	version  int
	blockTxs int
}

func New(cfg execution.Config, version int) *Module {
	return &Module{
		state:    cfg.State,
		logger:   cfg.Logger,
		moduleID: cfg.ModuleID,
		version:  version,
	}
}

func (m *Module) eventType() string {
	if m.version >= 2 {
		return "kv.set"
	}
	return "kv"
}

func (m *Module) InitChain(
	_ context.Context,
	genesis *cometbft.Genesis,
) error {
	var appState AppState
	if len(genesis.AppState) > 0 {
		if err := json.Unmarshal(genesis.AppState, &appState); err != nil {
			return fmt.Errorf("decode app state: %w", err)
		}
	}
	var haltHeight uint64
	if appState.HaltHeight != "" {
		var err error
		haltHeight, err = strconv.ParseUint(appState.HaltHeight, 10, 64)
		if err != nil {
			return fmt.Errorf("decode halt height: %w", err)
		}
	}
	if err := m.state.Clear(); err != nil {
		return err
	}
	m.kv = make(map[string]string, len(appState.KV))
	for key, val := range appState.KV {
		m.kv[key] = val
		m.state.Set([]byte(kvPrefix+key), []byte(val))
	}
	m.meta = meta{
		ChainID:    genesis.ChainID,
		Height:     genesis.InitialHeight - 1,
		HaltHeight: haltHeight,
	}
	m.logger.Debug(
		"initialized chain",
		"chain_id", genesis.ChainID,
		"initial_height", genesis.InitialHeight,
		"halt_height", haltHeight,
		"keys", len(m.kv),
	)
	return m.saveMeta()
}

func (m *Module) saveMeta() error {
	data, err := workdir.Marshal(m.meta)
	if err != nil {
		return fmt.Errorf("encode module metadata: %w", err)
	}
	m.state.Set(metaKey, data)
	return nil
}

func (m *Module) Restore(_ context.Context) (execution.Metadata, error) {
	data, err := m.state.Get(metaKey)
	if err != nil {
		if errors.Is(err, workdir.ErrNotFound) {
			return execution.Metadata{}, ErrNotInitialized
		}
		return execution.Metadata{}, err
	}
	if err := workdir.Unmarshal(data, &m.meta); err != nil {
		return execution.Metadata{}, fmt.Errorf("decode module metadata: %w", err)
	}
	m.kv = make(map[string]string)
	err = m.state.Iterate(func(key, value []byte) error {
		if k, ok := bytes.CutPrefix(key, []byte(kvPrefix)); ok {
			m.kv[string(k)] = string(value)
		}
		return nil
	})
	if err != nil {
		return execution.Metadata{}, err
	}
	return execution.Metadata{ChainID: m.meta.ChainID, Height: m.meta.Height}, nil
}

func (m *Module) BeginBlock(
	_ context.Context,
	block *cometbft.Block,
) ([]abci.Event, error) {
	if m.kv == nil {
		return nil, ErrNotInitialized
	}
	if block.ChainID != m.meta.ChainID {
		return nil, fmt.Errorf(
			"block is for chain %q, state is for %q",
			block.ChainID,
			m.meta.ChainID,
		)
	}
	if m.meta.HaltHeight > 0 && block.Height >= m.meta.HaltHeight {
		return nil, &execution.HaltRequestedError{Height: block.Height}
	}
	if block.Height != m.meta.Height+1 {
		return nil, fmt.Errorf(
			"expected height %d, got %d",
			m.meta.Height+1,
			block.Height,
		)
	}
	m.block = block
	m.blockTxs = 0
	return nil, nil
}

func (m *Module) DeliverTx(
	_ context.Context,
	tx []byte,
) (*abci.ExecTxResult, error) {
	if m.block == nil {
		return nil, errors.New("deliver tx outside of a block")
	}
	m.blockTxs++
	key, value, ok := bytes.Cut(tx, []byte("="))
	if !ok || len(key) == 0 {
		return &abci.ExecTxResult{
			Code: CodeInvalidTx,
			Log:  "transaction must have the form key=value",
		}, nil
	}
	m.kv[string(key)] = string(value)
	m.state.Set([]byte(kvPrefix+string(key)), value)
	return &abci.ExecTxResult{
		Code:    CodeOK,
		Data:    key,
		GasUsed: int64(len(tx)),
		Events: []abci.Event{
			{
				Type: m.eventType(),
				Attributes: []abci.EventAttribute{
					{Key: "key", Value: string(key), Index: true},
					{Key: "value", Value: string(value), Index: true},
					{Key: "era", Value: m.moduleID, Index: true},
				},
			},
		},
	}, nil
}

func (m *Module) EndBlock(_ context.Context) ([]abci.Event, error) {
	if m.block == nil {
		return nil, errors.New("end block outside of a block")
	}
	return []abci.Event{
		{
			Type: EventCommitStats,
			Attributes: []abci.EventAttribute{
				{Key: "txs", Value: strconv.Itoa(m.blockTxs), Index: true},
				{Key: "keys", Value: strconv.Itoa(len(m.kv)), Index: true},
			},
		},
	}, nil
}

func (m *Module) Commit(_ context.Context) ([]byte, error) {
	if m.block == nil {
		return nil, errors.New("commit outside of a block")
	}
	m.meta.Height = m.block.Height
	m.block = nil
	if err := m.saveMeta(); err != nil {
		return nil, err
	}
	return m.appHash(), nil
}

// appHash is SHA-256 over the version domain and every key/value pair in
// key order, each length prefixed.
func (m *Module) appHash() []byte {
	keys := make([]string, 0, len(m.kv))
	for key := range m.kv {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(m.moduleID))
	var lenBuf [8]byte
	for _, key := range keys {
		for _, part := range []string{key, m.kv[key]} {
			binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
			h.Write(lenBuf[:])
			h.Write([]byte(part))
		}
	}
	return h.Sum(nil)
}

func (m *Module) Metadata(_ context.Context) (execution.Metadata, error) {
	return execution.Metadata{ChainID: m.meta.ChainID, Height: m.meta.Height}, nil
}

func (m *Module) Close() error {
	m.kv = nil
	m.block = nil
	return nil
}
