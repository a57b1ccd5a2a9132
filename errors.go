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

// Package reindexer holds the error taxonomy shared by the archive,
// block sources, execution dispatch, regeneration engine and indexer.
package reindexer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSourceLocked       = errors.New("source locked")
	ErrBlockNotFound      = errors.New("block not found")
	ErrGenesisNotFound    = errors.New("genesis not found")
	ErrContentMismatch    = errors.New("content mismatch")
	ErrChainIDMismatch    = errors.New("chain id mismatch")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrAlreadyIndexed     = errors.New("height already indexed")
	ErrGap                = errors.New("missing heights")
)

// ErrorContext identifies where a failure happened. Height is zero and Era
// is empty when not known.
type ErrorContext struct {
	ChainID string
	Era     string
	Height  uint64
}

func (c ErrorContext) String() string {
	var parts []string
	if c.ChainID != "" {
		parts = append(parts, "chain "+c.ChainID)
	}
	if c.Height > 0 {
		parts = append(parts, fmt.Sprintf("height %d", c.Height))
	}
	if c.Era != "" {
		parts = append(parts, "era "+c.Era)
	}
	return strings.Join(parts, " ")
}

func formatError(kind string, ctx ErrorContext, err error) string {
	where := ctx.String()
	switch {
	case where == "" && err == nil:
		return kind
	case where == "":
		return fmt.Sprintf("%s: %s", kind, err)
	case err == nil:
		return fmt.Sprintf("%s (%s)", kind, where)
	default:
		return fmt.Sprintf("%s (%s): %s", kind, where, err)
	}
}

// SourceError reports an unreachable or locked block source.
type SourceError struct {
	Err error
	ErrorContext
}

func NewSourceError(ctx ErrorContext, err error) *SourceError {
	return &SourceError{ErrorContext: ctx, Err: err}
}

func (e *SourceError) Error() string {
	return formatError("source error", e.ErrorContext, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// ConsistencyError reports conflicting history: archived bytes that differ
// from a new fetch, a chain id that does not match the request, or a height
// no known era covers.
type ConsistencyError struct {
	Err error
	ErrorContext
}

func NewConsistencyError(ctx ErrorContext, err error) *ConsistencyError {
	return &ConsistencyError{ErrorContext: ctx, Err: err}
}

func (e *ConsistencyError) Error() string {
	return formatError("consistency error", e.ErrorContext, e.Err)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// GapError reports a requested height range that the archive does not
// fully cover.
type GapError struct {
	ErrorContext
	From uint64
	To   uint64
}

func NewGapError(ctx ErrorContext, from, to uint64) *GapError {
	return &GapError{ErrorContext: ctx, From: from, To: to}
}

func (e *GapError) Error() string {
	return formatError(
		"gap error",
		e.ErrorContext,
		fmt.Errorf("%w: %d..%d", ErrGap, e.From, e.To),
	)
}

func (e *GapError) Unwrap() error {
	return ErrGap
}

// ExecutionError reports a failure inside an execution module.
type ExecutionError struct {
	Err error
	ErrorContext
	Step string
}

func NewExecutionError(
	ctx ErrorContext,
	step string,
	err error,
) *ExecutionError {
	return &ExecutionError{ErrorContext: ctx, Step: step, Err: err}
}

func (e *ExecutionError) Error() string {
	return formatError(
		"execution error",
		e.ErrorContext,
		fmt.Errorf("%s: %w", e.Step, e.Err),
	)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IndexWriteError reports a failed index batch. The checkpoint is never
// advanced past a height that returned this error.
type IndexWriteError struct {
	Err error
	ErrorContext
}

func NewIndexWriteError(ctx ErrorContext, err error) *IndexWriteError {
	return &IndexWriteError{ErrorContext: ctx, Err: err}
}

func (e *IndexWriteError) Error() string {
	return formatError("index write error", e.ErrorContext, e.Err)
}

func (e *IndexWriteError) Unwrap() error {
	return e.Err
}
