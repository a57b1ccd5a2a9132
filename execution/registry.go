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

package execution

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/blinklabs-io/reindexer"
)

var ErrUnknownModule = errors.New("unknown execution module")

// Registry maps execution module ids to factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry holds the modules compiled into this build.
var DefaultRegistry = NewRegistry()

// Register adds a module factory to the default registry.
func Register(id string, factory Factory) {
	DefaultRegistry.Register(id, factory)
}

// New builds a module from the default registry.
func New(id string, state State, logger *slog.Logger) (Module, error) {
	return DefaultRegistry.New(id, state, logger)
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// New builds the module registered as id on top of state.
func (r *Registry) New(
	id string,
	state State,
	logger *slog.Logger,
) (Module, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, reindexer.NewConsistencyError(
			reindexer.ErrorContext{Era: id},
			fmt.Errorf(
				"%w: %w: %s",
				reindexer.ErrUnsupportedVersion,
				ErrUnknownModule,
				id,
			),
		)
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return factory(Config{
		ModuleID: id,
		State:    state,
		Logger:   logger.With("component", "execution", "module", id),
	})
}

// IDs lists the registered module ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret
}
