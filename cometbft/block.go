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

// Package cometbft wraps the CometBFT wire formats used by the archive:
// protobuf-encoded blocks, JSON genesis documents and the node home
// configuration.
package cometbft

import (
	"errors"
	"fmt"
	"time"

	cmtproto "github.com/cometbft/cometbft/proto/tendermint/types"
	cmttypes "github.com/cometbft/cometbft/types"
)

var ErrInvalidBlock = errors.New("invalid block")

// Block is the decoded view of an archived block that execution modules
// consume.
type Block struct {
	Time    time.Time
	ChainID string
	AppHash []byte
	Txs     [][]byte
	Raw     []byte
	Height  uint64
}

// DecodeBlock decodes the protobuf encoding of a tendermint.types.Block.
// Header hashes are not validated here.
func DecodeBlock(raw []byte) (*Block, error) {
	var pb cmtproto.Block
	if err := pb.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if pb.Header.Height <= 0 {
		return nil, fmt.Errorf(
			"%w: non-positive height %d",
			ErrInvalidBlock,
			pb.Header.Height,
		)
	}
	return &Block{
		ChainID: pb.Header.ChainID,
		Height:  uint64(pb.Header.Height),
		Time:    pb.Header.Time,
		AppHash: pb.Header.AppHash,
		Txs:     pb.Data.Txs,
		Raw:     raw,
	}, nil
}

// EncodeBlock produces the archived representation of a block loaded from
// a block store or returned by RPC.
func EncodeBlock(block *cmttypes.Block) ([]byte, error) {
	if block == nil {
		return nil, fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}
	pb, err := block.ToProto()
	if err != nil {
		return nil, fmt.Errorf("convert block to proto: %w", err)
	}
	return pb.Marshal()
}

// EncodeRawBlock builds a minimal block from header fields and
// transactions. Devnet tooling and tests use it to produce archive
// content without a running node.
func EncodeRawBlock(
	chainID string,
	height uint64,
	blockTime time.Time,
	txs [][]byte,
) ([]byte, error) {
	if height == 0 {
		return nil, fmt.Errorf("%w: zero height", ErrInvalidBlock)
	}
	pb := cmtproto.Block{
		Header: cmtproto.Header{
			ChainID: chainID,
			Height:  int64(height), //nolint:gosec
			Time:    blockTime.UTC(),
		},
		Data: cmtproto.Data{
			Txs: txs,
		},
	}
	return pb.Marshal()
}

// BlockHeight returns the header height of a raw block without keeping
// the decoded transactions around.
func BlockHeight(raw []byte) (uint64, error) {
	blk, err := DecodeBlock(raw)
	if err != nil {
		return 0, err
	}
	return blk.Height, nil
}
