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

// Package remote fetches blocks and genesis documents from a CometBFT
// JSON-RPC endpoint.
package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/reindexer"
	"github.com/blinklabs-io/reindexer/cometbft"
	"github.com/blinklabs-io/reindexer/source"
	"github.com/cenkalti/backoff/v5"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultConcurrency     = 4
	DefaultPerPage         = 100
	DefaultRequestsPerSec  = 10
	DefaultMaxTries        = 5
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second

	httpTimeout = 60 * time.Second
)

// rpcClient is the subset of the CometBFT RPC client used here.
type rpcClient interface {
	Status(ctx context.Context) (*ctypes.ResultStatus, error)
	Genesis(ctx context.Context) (*ctypes.ResultGenesis, error)
	GenesisChunked(ctx context.Context, id uint) (*ctypes.ResultGenesisChunk, error)
	Block(ctx context.Context, height *int64) (*ctypes.ResultBlock, error)
	BlockSearch(
		ctx context.Context,
		query string,
		page, perPage *int,
		orderBy string,
	) (*ctypes.ResultBlockSearch, error)
}

type Source struct {
	client          rpcClient
	httpClient      *http.Client
	logger          *slog.Logger
	limiter         *rate.Limiter
	remote          string
	concurrency     int
	perPage         int
	requestsPerSec  float64
	maxTries        uint
	initialInterval time.Duration
	maxInterval     time.Duration
	searchDisabled  atomic.Bool
}

type SourceOptionFunc func(*Source)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) SourceOptionFunc {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithConcurrency sets the number of block pages fetched in parallel
func WithConcurrency(concurrency int) SourceOptionFunc {
	return func(s *Source) {
		if concurrency > 0 {
			s.concurrency = concurrency
		}
	}
}

// WithPerPage sets the number of heights requested per block_search page
func WithPerPage(perPage int) SourceOptionFunc {
	return func(s *Source) {
		if perPage > 0 {
			s.perPage = perPage
		}
	}
}

// WithRateLimit caps the request rate shared by all fetchers. A value of
// zero disables pacing.
func WithRateLimit(requestsPerSec float64) SourceOptionFunc {
	return func(s *Source) {
		s.requestsPerSec = requestsPerSec
	}
}

// WithRetryPolicy overrides the retry schedule for failed requests
func WithRetryPolicy(
	initial, maxInterval time.Duration,
	maxTries uint,
) SourceOptionFunc {
	return func(s *Source) {
		s.initialInterval = initial
		s.maxInterval = maxInterval
		s.maxTries = maxTries
	}
}

// New creates a source for the RPC endpoint at remote, for example
// http://localhost:26657.
func New(remote string, opts ...SourceOptionFunc) (*Source, error) {
	s := &Source{
		remote:          remote,
		concurrency:     DefaultConcurrency,
		perPage:         DefaultPerPage,
		requestsPerSec:  DefaultRequestsPerSec,
		maxTries:        DefaultMaxTries,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "source.remote")
	if s.requestsPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.requestsPerSec), 1)
	} else {
		s.limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if s.client == nil {
		transport, _ := http.DefaultTransport.(*http.Transport)
		s.httpClient = &http.Client{
			Timeout:   httpTimeout,
			Transport: transport.Clone(),
		}
		client, err := rpchttp.NewWithClient(remote, "/websocket", s.httpClient)
		if err != nil {
			return nil, reindexer.NewSourceError(
				reindexer.ErrorContext{},
				fmt.Errorf("create rpc client for %s: %w", remote, err),
			)
		}
		s.client = client
	}
	return s, nil
}

func (s *Source) Genesis(ctx context.Context) ([]byte, error) {
	res, err := retry(ctx, s, "genesis", func() (*ctypes.ResultGenesis, error) {
		res, err := s.client.Genesis(ctx)
		if err != nil && strings.Contains(err.Error(), "genesis_chunked") {
			return nil, backoff.Permanent(errGenesisChunked)
		}
		return res, err
	})
	if errors.Is(err, errGenesisChunked) {
		return s.chunkedGenesis(ctx)
	}
	if err != nil {
		return nil, reindexer.NewSourceError(reindexer.ErrorContext{}, err)
	}
	if res == nil || res.Genesis == nil {
		return nil, reindexer.NewSourceError(
			reindexer.ErrorContext{},
			reindexer.ErrGenesisNotFound,
		)
	}
	canonical, _, err := cometbft.CanonicalGenesisDoc(res.Genesis)
	if err != nil {
		return nil, reindexer.NewSourceError(reindexer.ErrorContext{}, err)
	}
	return canonical, nil
}

var errGenesisChunked = errors.New("genesis only available in chunks")

// chunkedGenesis reassembles a genesis document too large for the plain
// genesis endpoint.
func (s *Source) chunkedGenesis(ctx context.Context) ([]byte, error) {
	var raw []byte
	for chunk := uint(0); ; chunk++ {
		res, err := retry(
			ctx,
			s,
			"genesis_chunked",
			func() (*ctypes.ResultGenesisChunk, error) {
				return s.client.GenesisChunked(ctx, chunk)
			},
		)
		if err != nil {
			return nil, reindexer.NewSourceError(reindexer.ErrorContext{}, err)
		}
		data, err := base64.StdEncoding.DecodeString(res.Data)
		if err != nil {
			return nil, reindexer.NewSourceError(
				reindexer.ErrorContext{},
				fmt.Errorf("decode genesis chunk %d: %w", chunk, err),
			)
		}
		raw = append(raw, data...)
		if res.TotalChunks <= 0 || int(chunk)+1 >= res.TotalChunks {
			break
		}
	}
	canonical, _, err := cometbft.CanonicalGenesis(raw)
	if err != nil {
		return nil, reindexer.NewSourceError(reindexer.ErrorContext{}, err)
	}
	return canonical, nil
}

func (s *Source) status(ctx context.Context) (*ctypes.ResultStatus, error) {
	res, err := retry(ctx, s, "status", func() (*ctypes.ResultStatus, error) {
		return s.client.Status(ctx)
	})
	if err != nil {
		return nil, reindexer.NewSourceError(reindexer.ErrorContext{}, err)
	}
	return res, nil
}

func (s *Source) FirstHeight(ctx context.Context) (uint64, error) {
	res, err := s.status(ctx)
	if err != nil {
		return 0, err
	}
	return uint64(max(res.SyncInfo.EarliestBlockHeight, 1)), nil
}

func (s *Source) LastHeight(ctx context.Context) (uint64, error) {
	res, err := s.status(ctx)
	if err != nil {
		return 0, err
	}
	return uint64(max(res.SyncInfo.LatestBlockHeight, 0)), nil
}

func (s *Source) Block(ctx context.Context, height uint64) ([]byte, error) {
	errCtx := reindexer.ErrorContext{Height: height}
	h := int64(height) //nolint:gosec
	raw, err := retry(ctx, s, "block", func() ([]byte, error) {
		res, err := s.client.Block(ctx, &h)
		if err != nil {
			if isNotFound(err) {
				return nil, backoff.Permanent(reindexer.ErrBlockNotFound)
			}
			return nil, err
		}
		if res == nil || res.Block == nil {
			return nil, backoff.Permanent(reindexer.ErrBlockNotFound)
		}
		if res.Block.Height != h {
			return nil, backoff.Permanent(reindexer.NewConsistencyError(
				errCtx,
				fmt.Errorf("source returned block at height %d", res.Block.Height),
			))
		}
		raw, err := cometbft.EncodeBlock(res.Block)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return raw, nil
	})
	if err != nil {
		return nil, wrapFetchError(errCtx, err)
	}
	return raw, nil
}

// Blocks fetches [from, to] in pages, with at most concurrency pages in
// flight, and hands them to fn in ascending order.
func (s *Source) Blocks(
	ctx context.Context,
	from, to uint64,
	fn source.BlockFunc,
) error {
	if from > to {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fetch, fetchCtx := errgroup.WithContext(ctx)
	fetch.SetLimit(s.concurrency)
	pending := make(chan chan [][]byte, s.concurrency)
	perPage := uint64(s.perPage) //nolint:gosec
	go func() {
		defer close(pending)
		for start := from; ; start += perPage {
			end := to
			if to-start >= perPage {
				end = start + perPage - 1
			}
			result := make(chan [][]byte, 1)
			select {
			case pending <- result:
			case <-fetchCtx.Done():
				return
			}
			fetch.Go(func() error {
				blocks, err := s.fetchPage(fetchCtx, start, end)
				if err != nil {
					return err
				}
				result <- blocks
				return nil
			})
			if end == to {
				return
			}
		}
	}()
	var err error
	next := from
	stopped := false
	for result := range pending {
		if stopped {
			continue
		}
		select {
		case blocks := <-result:
			for _, raw := range blocks {
				if err = fn(next, raw); err != nil {
					stopped = true
					cancel()
					break
				}
				next++
			}
		case <-fetchCtx.Done():
			stopped = true
		}
	}
	if fetchErr := fetch.Wait(); fetchErr != nil && err == nil {
		err = fetchErr
	}
	if err == nil && stopped {
		err = ctx.Err()
	}
	return err
}

// fetchPage returns the blocks for [start, end] indexed from start. Heights
// missing from the search page are fetched one at a time.
func (s *Source) fetchPage(
	ctx context.Context,
	start, end uint64,
) ([][]byte, error) {
	out := make([][]byte, end-start+1)
	if !s.searchDisabled.Load() {
		if err := s.searchPage(ctx, start, end, out); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var consistencyErr *reindexer.ConsistencyError
			if errors.As(err, &consistencyErr) {
				return nil, err
			}
			s.logger.Warn(
				"block_search failed, falling back to single block requests",
				"error", err,
			)
			s.searchDisabled.Store(true)
		}
	}
	var fallback int
	for i := range out {
		if out[i] != nil {
			continue
		}
		raw, err := s.Block(ctx, start+uint64(i)) //nolint:gosec
		if err != nil {
			return nil, err
		}
		out[i] = raw
		fallback++
	}
	if fallback > 0 {
		s.logger.Debug(
			"fetched blocks missing from search page",
			"from", start,
			"to", end,
			"count", fallback,
		)
	}
	return out, nil
}

func (s *Source) searchPage(
	ctx context.Context,
	start, end uint64,
	out [][]byte,
) error {
	query := fmt.Sprintf(
		"block.height >= %d AND block.height < %d",
		start,
		end+1,
	)
	page := 1
	perPage := len(out)
	res, err := retry(ctx, s, "block_search", func() (*ctypes.ResultBlockSearch, error) {
		return s.client.BlockSearch(ctx, query, &page, &perPage, "asc")
	})
	if err != nil {
		return err
	}
	for _, rb := range res.Blocks {
		if rb == nil || rb.Block == nil {
			continue
		}
		height := rb.Block.Height
		if height < int64(start) || height > int64(end) { //nolint:gosec
			return reindexer.NewConsistencyError(
				reindexer.ErrorContext{Height: uint64(max(height, 0))},
				fmt.Errorf(
					"block_search for %d..%d returned height %d",
					start,
					end,
					height,
				),
			)
		}
		raw, err := cometbft.EncodeBlock(rb.Block)
		if err != nil {
			return reindexer.NewConsistencyError(
				reindexer.ErrorContext{Height: uint64(height)},
				err,
			)
		}
		out[uint64(height)-start] = raw
	}
	return nil
}

func (s *Source) Close() error {
	if s.httpClient != nil {
		s.httpClient.CloseIdleConnections()
	}
	return nil
}

// retry runs op under the source's rate limit and backoff policy. Errors
// marked permanent are returned without further attempts.
func retry[T any](
	ctx context.Context,
	s *Source,
	method string,
	op func() (T, error),
) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialInterval
	policy.MaxInterval = s.maxInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2
	policy.Reset()
	return backoff.Retry(
		ctx,
		func() (T, error) {
			if err := s.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, backoff.Permanent(err)
			}
			return op()
		},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Debug(
				"retrying rpc request",
				"method", method,
				"error", err,
				"wait", wait,
			)
		}),
	)
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "must be less than or equal to the current blockchain height") ||
		strings.Contains(msg, "is not available, lowest height is") ||
		strings.Contains(msg, "not found")
}

func wrapFetchError(errCtx reindexer.ErrorContext, err error) error {
	var consistencyErr *reindexer.ConsistencyError
	if errors.As(err, &consistencyErr) ||
		errors.Is(err, reindexer.ErrBlockNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return reindexer.NewSourceError(errCtx, err)
}
