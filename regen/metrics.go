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

package regen

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	blocksExecuted prometheus.Counter
	blocksIndexed  prometheus.Counter
	blocksSkipped  prometheus.Counter
	eraTransitions prometheus.Counter
	height         prometheus.Gauge
	era            prometheus.Gauge
	blockDuration  prometheus.Histogram
	indexDuration  prometheus.Histogram
}

// initMetrics creates the engine metrics. A nil registry leaves them
// unregistered.
func (e *Engine) initMetrics(registry prometheus.Registerer) {
	factory := promauto.With(registry)
	e.metrics.blocksExecuted = factory.NewCounter(prometheus.CounterOpts{
		Name: "reindexer_regen_blocks_executed_total",
		Help: "blocks replayed through an execution module",
	})
	e.metrics.blocksIndexed = factory.NewCounter(prometheus.CounterOpts{
		Name: "reindexer_regen_blocks_indexed_total",
		Help: "blocks written to the event index",
	})
	e.metrics.blocksSkipped = factory.NewCounter(prometheus.CounterOpts{
		Name: "reindexer_regen_blocks_skipped_total",
		Help: "executed blocks whose index rows already existed",
	})
	e.metrics.eraTransitions = factory.NewCounter(prometheus.CounterOpts{
		Name: "reindexer_regen_era_transitions_total",
		Help: "upgrade boundaries crossed",
	})
	e.metrics.height = factory.NewGauge(prometheus.GaugeOpts{
		Name: "reindexer_regen_height",
		Help: "last committed height",
	})
	e.metrics.era = factory.NewGauge(prometheus.GaugeOpts{
		Name: "reindexer_regen_era",
		Help: "index of the era being replayed",
	})
	e.metrics.blockDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "reindexer_regen_block_execution_seconds",
		Help:    "time spent executing one block",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	e.metrics.indexDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "reindexer_regen_index_write_seconds",
		Help:    "time spent writing one block to the index",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
}
