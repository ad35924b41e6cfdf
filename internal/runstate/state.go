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

// Package runstate implements the run lifecycle state machine (spec
// §4.6): the linear INIT -> STARTUP -> EXECUTING -> SHUTDOWN -> TERMINAL
// phase progression, and the RunSession that fills its terminal record
// exactly once regardless of which path (success, failure, cancellation)
// reaches it first.
package runstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/engine/pkg/engine"
)

// Phase is one stage of a run's lifecycle.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseStartup   Phase = "startup"
	PhaseExecuting Phase = "executing"
	PhaseShutdown  Phase = "shutdown"
	PhaseTerminal  Phase = "terminal"
)

// legalFrom lists, for each destination phase, the phases a run may
// advance to it from (spec §4.6). SHUTDOWN and TERMINAL are each
// reachable early, skipping phases, because a run can fail during
// STARTUP (no EXECUTING ever happens) or have no steps to execute at
// all (EXECUTING is skipped straight to SHUTDOWN).
var legalFrom = map[Phase][]Phase{
	PhaseStartup:   {PhaseInit},
	PhaseExecuting: {PhaseStartup},
	PhaseShutdown:  {PhaseStartup, PhaseExecuting},
	PhaseTerminal:  {PhaseStartup, PhaseExecuting, PhaseShutdown},
}

// Machine tracks the current phase of a single run. It is owned
// exclusively by the scheduler's consumer goroutine; no locking.
type Machine struct {
	phase Phase
}

// NewMachine starts a Machine in PhaseInit.
func NewMachine() *Machine { return &Machine{phase: PhaseInit} }

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Advance moves the machine to to, if that is a legal destination from
// the current phase (spec §4.6); phases never move backwards, and a
// run can only reach EXECUTING by way of STARTUP, but it may jump
// straight from STARTUP or EXECUTING to SHUTDOWN or TERMINAL for the
// no-steps-registered and startup-hook-failure fast paths.
func (m *Machine) Advance(to Phase) error {
	for _, from := range legalFrom[to] {
		if from == m.phase {
			m.phase = to
			return nil
		}
	}
	return fmt.Errorf("runstate: illegal transition from %q to %q", m.phase, to)
}

// Terminal is the single-fill terminal record of a run.
type Terminal struct {
	Status   engine.Status
	Err      error
	Reason   string
	Duration time.Duration
}

// Session binds a run's identity to its wall-clock start and guarantees
// its terminal record is filled exactly once, by whichever of success,
// failure, timeout, or cancellation reaches Close first (spec §4.6,
// §8 invariant 2: "FINISH is emitted exactly once").
type Session struct {
	RunID string
	start time.Time

	mu       sync.Mutex
	closed   bool
	terminal Terminal
}

// NewSession starts a session clocked from now.
func NewSession(runID string, now time.Time) *Session {
	return &Session{RunID: runID, start: now}
}

// Close fills the terminal record on its first call; subsequent calls
// are no-ops and return the original terminal record, so a late-arriving
// failure after a successful close (e.g. a shutdown hook erroring after
// FINISH has already been decided) cannot overwrite the outcome.
// Duration is clamped to zero to guard against a non-monotonic clock.
func (s *Session) Close(now time.Time, status engine.Status, err error, reason string) Terminal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.terminal
	}
	d := now.Sub(s.start)
	if d < 0 {
		d = 0
	}
	s.terminal = Terminal{Status: status, Err: err, Reason: reason, Duration: d}
	s.closed = true
	return s.terminal
}

// Closed reports whether Close has already filled the terminal record.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
