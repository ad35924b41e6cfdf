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

// Directive is the set of tagged values a step may return to instruct the
// scheduler (spec §3 Directives). A step's return value that is not one
// of these concrete types, and not a plain string, is routed as "any
// other value": ignored for routing, becomes the STEP_END payload.
type Directive interface {
	isDirective()
}

// Next routes to a single named successor. A plain string return value
// from a step of any kind but switch is coerced to Next by the scheduler;
// a switch step's string is a route key.
type Next struct {
	Target string
}

func (Next) isDirective() {}

// Map fans out Items to Target, one worker per item, all sharing a
// single owner (the map step) for STEP_END collapsing purposes.
type Map struct {
	Items  []any
	Target string
}

func (Map) isDirective() {}

// Run invokes a sub-pipeline with its own state, forming a nested run
// whose events are re-emitted with stage rewritten to "owner:inner".
type Run struct {
	Pipeline *Registry
	State    any
}

func (Run) isDirective() {}

// Suspend pauses the run: a SUSPEND event is emitted and no further work
// is scheduled, but in-flight steps run to completion.
type Suspend struct {
	Reason string
}

func (Suspend) isDirective() {}

type stopDirective struct{}

func (stopDirective) isDirective() {}

// Stop is the sentinel directive that halts scheduling of new work.
var Stop Directive = stopDirective{}

type retryDirective struct{}

func (retryDirective) isDirective() {}

// Retry is the sentinel directive that re-invokes the step with the same
// payload it was given, advancing its attempt counter.
var Retry Directive = retryDirective{}

type skipDirective struct{}

func (skipDirective) isDirective() {}

// Skip is the sentinel directive that suppresses the step's own STEP_END
// and all of its successors.
var Skip Directive = skipDirective{}

// Raise explicitly fails the step, optionally carrying a cause. A step
// can also fail by returning a non-nil error instead of using Raise.
type Raise struct {
	Err error
}

func (Raise) isDirective() {}

// coerce normalizes a raw step return value into a Directive: a plain
// string becomes Next{Target: s}; an existing Directive passes through;
// anything else is returned unchanged so the caller can treat it as an
// opaque STEP_END payload (spec §3: "any other value ... ignored by
// routing; becomes STEP_END payload").
func coerce(v any) any {
	if s, ok := v.(string); ok {
		return Next{Target: s}
	}
	return v
}

// Coerce is the exported form of coerce.
func Coerce(v any) any { return coerce(v) }
