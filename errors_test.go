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

package reindexer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	ctx := ErrorContext{ChainID: "penumbra-1", Height: 42, Era: "penumbra/v0.80"}
	testDefs := []struct {
		err      error
		expected string
	}{
		{
			err:      NewSourceError(ErrorContext{}, ErrSourceLocked),
			expected: "source error: source locked",
		},
		{
			err:      NewConsistencyError(ctx, ErrContentMismatch),
			expected: "consistency error (chain penumbra-1 height 42 era penumbra/v0.80): content mismatch",
		},
		{
			err:      NewGapError(ErrorContext{ChainID: "penumbra-1"}, 5, 7),
			expected: "gap error (chain penumbra-1): missing heights: 5..7",
		},
		{
			err:      NewExecutionError(ctx, "deliver_tx 3", errors.New("boom")),
			expected: "execution error (chain penumbra-1 height 42 era penumbra/v0.80): deliver_tx 3: boom",
		},
		{
			err:      NewIndexWriteError(ErrorContext{Height: 9}, ErrAlreadyIndexed),
			expected: "index write error (height 9): height already indexed",
		},
	}
	for _, testDef := range testDefs {
		assert.Equal(t, testDef.expected, testDef.err.Error())
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	var err error = NewSourceError(ErrorContext{}, cause)
	require.ErrorIs(t, err, cause)

	err = NewConsistencyError(ErrorContext{}, ErrChainIDMismatch)
	require.ErrorIs(t, err, ErrChainIDMismatch)
	var consistencyErr *ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)

	err = NewGapError(ErrorContext{}, 1, 2)
	require.ErrorIs(t, err, ErrGap)
	var gapErr *GapError
	require.ErrorAs(t, err, &gapErr)
	assert.Equal(t, uint64(1), gapErr.From)
	assert.Equal(t, uint64(2), gapErr.To)

	err = NewIndexWriteError(ErrorContext{}, ErrAlreadyIndexed)
	require.ErrorIs(t, err, ErrAlreadyIndexed)

	err = NewExecutionError(ErrorContext{}, "commit", cause)
	require.ErrorIs(t, err, cause)
}

func TestErrorContextString(t *testing.T) {
	assert.Empty(t, ErrorContext{}.String())
	assert.Equal(t, "height 3", ErrorContext{Height: 3}.String())
}
