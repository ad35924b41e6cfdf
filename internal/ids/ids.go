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

// Package ids generates run and invocation identifiers and the per-run
// monotonic sequence numbers stamped onto events.
package ids

import (
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// NewRunID returns an opaque 128-bit hex run identifier, matching the way
// the teacher mints run IDs with google/uuid in StateManager.CreateRun.
// Unlike the teacher (which truncates to 8 hex chars for display), the
// full 128 bits are kept here since origin_run_id/parent_run_id/scope
// chains need global uniqueness across nested sub-pipeline runs.
func NewRunID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewInvocationID returns an opaque identifier for a single step invocation.
func NewInvocationID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Generator hands out the per-run monotonic seq and invocation counters
// described in spec §2 IdGen. Safe for concurrent use: the event seq is
// incremented only by the scheduler's single consumer goroutine in
// practice, but invocation IDs are minted from worker goroutines, so both
// counters use atomic operations.
type Generator struct {
	eventSeq      atomic.Uint64
	invocationSeq atomic.Uint64
}

// NewGenerator returns a Generator with counters at zero.
func NewGenerator() *Generator {
	return &Generator{}
}

// NextEventSeq returns the next seq value for an Event. The first call
// returns 1, matching the invariant that START.seq == 1.
func (g *Generator) NextEventSeq() uint64 {
	return g.eventSeq.Add(1)
}

// NextInvocationSeq returns a run-unique monotonically increasing counter.
// NewInvocationID does not use it; invocation IDs are random.
func (g *Generator) NextInvocationSeq() uint64 {
	return g.invocationSeq.Add(1)
}
