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

package engine

import "fmt"

// DefinitionError is raised synchronously from Registry.AddStep or from
// graph validation in scheduler.New/flowcore.New — never during a run
// (spec §7).
type DefinitionError struct {
	Step    string
	Message string
}

func (e *DefinitionError) Error() string {
	if e.Step == "" {
		return e.Message
	}
	return fmt.Sprintf("step %q: %s", e.Step, e.Message)
}

// StepError wraps a user step or hook panic/error with the taxonomy
// classification attached (spec §7). A step may return one: the built-in
// classifier takes its non-empty Source when no external-dependency
// fragment matches the message. The scheduler stores the step's own error
// in FailureEntry.Err as returned; it does not wrap it in a StepError.
type StepError struct {
	Kind   FailureKind
	Source FailureSource
	Reason FailureReason
	Step   string
	Cause  error
}

func (e *StepError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %s (%s/%s): %v", e.Step, e.Reason, e.Kind, e.Source, e.Cause)
	}
	return fmt.Sprintf("%s (%s/%s): %v", e.Reason, e.Kind, e.Source, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// TimeoutError is the error produced when a step exceeds its declared
// Timeout (spec §4.2) or a barrier exceeds its BarrierTimeout (spec §4.1).
type TimeoutError struct {
	Step     string
	Duration string
	Barrier  bool
}

func (e *TimeoutError) Error() string {
	if e.Barrier {
		return fmt.Sprintf("barrier timeout for step %q after %s", e.Step, e.Duration)
	}
	return fmt.Sprintf("step %q timed out after %s", e.Step, e.Duration)
}
