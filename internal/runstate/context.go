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
	"sync"

	"github.com/flowforge/engine/pkg/engine"
)

// ExecutionLog is the append-only record of every step invocation
// attempted during a run (spec §3), independent from the FailureJournal:
// it records successes too, so a caller inspecting a finished run can
// see the full attempt history, not just what ended up in FinishPayload.
type ExecutionLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

// LogEntry is one completed invocation attempt.
type LogEntry struct {
	Step         string
	InvocationID string
	Attempt      int
	Status       engine.Status
	Err          error
}

// NewExecutionLog returns an empty log.
func NewExecutionLog() *ExecutionLog { return &ExecutionLog{} }

// Append records one invocation's outcome.
func (l *ExecutionLog) Append(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Entries returns a snapshot copy in recorded order.
func (l *ExecutionLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// RunContext is the ambient per-run object made available to every step
// via DI when a registry declares a run-context type (spec §4.2). It
// carries identity and the shared ExecutionLog; applications typically
// embed this in their own run-context struct.
type RunContext struct {
	RunID       string
	OriginRunID string
	ParentRunID string
	Log         *ExecutionLog
}

// NewRunContext builds a root run's context (OriginRunID == ParentRunID == RunID).
func NewRunContext(runID string) *RunContext {
	return &RunContext{RunID: runID, OriginRunID: runID, ParentRunID: runID, Log: NewExecutionLog()}
}

// Child derives a sub-pipeline run's context, sharing the origin's
// ExecutionLog so a post-hoc inspector can see the whole nested tree's
// invocation history in one place (spec §4: sub-pipeline runs re-emit
// under the parent's origin).
func (r *RunContext) Child(childRunID string) *RunContext {
	return &RunContext{RunID: childRunID, OriginRunID: r.OriginRunID, ParentRunID: r.RunID, Log: r.Log}
}
