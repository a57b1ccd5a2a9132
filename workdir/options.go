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
	"log/slog"
	"time"
)

type WorkdirOptionFunc func(*Workdir)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) WorkdirOptionFunc {
	return func(w *Workdir) {
		w.logger = logger
	}
}

// WithGc specifies whether value log garbage collection is enabled
func WithGc(enabled bool) WorkdirOptionFunc {
	return func(w *Workdir) {
		w.gcEnabled = enabled
	}
}

// WithGcInterval specifies how often value log garbage collection runs
func WithGcInterval(interval time.Duration) WorkdirOptionFunc {
	return func(w *Workdir) {
		if interval > 0 {
			w.gcInterval = interval
		}
	}
}
