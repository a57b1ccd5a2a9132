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

// Phase is the state of the regeneration state machine.
type Phase int

const (
	PhaseLoadEra Phase = iota
	PhaseReplaying
	PhaseAwaitingUpgrade
	PhaseFinished
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoadEra:
		return "LoadEra"
	case PhaseReplaying:
		return "Replaying"
	case PhaseAwaitingUpgrade:
		return "AwaitingUpgrade"
	case PhaseFinished:
		return "Finished"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
