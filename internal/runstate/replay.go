// Copyright 2025 Tom Barlow
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

package runstate

import (
	"fmt"
	"strings"

	"github.com/flowforge/engine/pkg/engine"
)

// ReplaySummary is a debugging view derived from an already-produced
// FINISH payload: the resolved outcome alongside every recorded failure,
// in the order the outcome resolver considered them. It touches no live
// run state and re-invokes nothing.
type ReplaySummary struct {
	Status      engine.Status
	FailedStep  string
	FailureKind engine.FailureKind
	DurationS   float64
	Errors      []engine.FailureRecord
}

// Replay reconstructs a ReplaySummary from a terminal run's FINISH
// payload, for post-hoc inspection of why a run ended the way it did.
func Replay(payload engine.FinishPayload) ReplaySummary {
	return ReplaySummary{
		Status:      payload.Status,
		FailedStep:  payload.FailedStep,
		FailureKind: payload.FailureKind,
		DurationS:   payload.DurationS,
		Errors:      append([]engine.FailureRecord(nil), payload.Errors...),
	}
}

// String renders a one-line-per-failure human-readable report, the way
// a developer would want it printed to a terminal.
func (s ReplaySummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "status=%s duration=%.3fs", s.Status, s.DurationS)
	if s.FailedStep != "" {
		fmt.Fprintf(&b, " failed_step=%s", s.FailedStep)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "\n  [%s/%s] %s: %s", e.Kind, e.Source, e.Reason, e.Message)
	}
	return b.String()
}
