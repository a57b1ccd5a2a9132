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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/blinklabs-io/reindexer/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// opFunc is the body of one command. registry is nil when metrics are
// disabled.
type opFunc func(ctx context.Context, registry prometheus.Registerer) error

// run executes op with the plumbing every command shares: a signal-aware
// context, the optional metrics listener and optional tracing.
func run(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	op opFunc,
) (err error) {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	shutdownTimeout, err := cfg.ShutdownTimeoutDuration()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Tracing {
		shutdown, tracingErr := setupTracing(ctx, cfg.TracingStdout)
		if tracingErr != nil {
			return tracingErr
		}
		defer func() {
			sctx, cancel := context.WithTimeout(
				context.Background(),
				shutdownTimeout,
			)
			defer cancel()
			if shutdownErr := shutdown(sctx); shutdownErr != nil {
				err = errors.Join(
					err,
					fmt.Errorf("shut down tracing: %w", shutdownErr),
				)
			}
		}()
	}
	var registerer prometheus.Registerer
	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		server := startMetrics(cfg.MetricsAddr, registry, logger)
		defer func() {
			if stopErr := stopMetrics(server, shutdownTimeout); stopErr != nil {
				err = errors.Join(
					err,
					fmt.Errorf("stop metrics listener: %w", stopErr),
				)
			}
		}()
		registerer = registry
	}
	err = op(ctx, registerer)
	if ctx.Err() != nil && err != nil {
		logger.Warn("interrupted", "component", "node")
	}
	return err
}
