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

import "context"

// Observer is the four-callback contract external collaborators implement
// to watch a run without affecting its outcome (spec §6). Exceptions from
// any of these are caught, logged and swallowed by the EventManager;
// observers must never be able to change the emitted event stream or the
// FINISH status (spec §8 invariant 9).
type Observer interface {
	OnPipelineStart(ctx context.Context, state, runContext any, meta map[string]any)
	OnEvent(ctx context.Context, state, runContext any, meta map[string]any, event Event)
	OnPipelineEnd(ctx context.Context, state, runContext any, meta map[string]any, duration float64)
	OnPipelineError(ctx context.Context, state, runContext any, meta map[string]any, status Status, err error)
}

// EventHook transforms an event before it reaches observers and the
// caller. Returning ok=false aborts the run with a definition-time-style
// failure — the one caller-visible failure mode of the publisher (spec §4.4).
type EventHook func(Event) (Event, bool)

// HookFunc is a startup or shutdown hook (spec §6).
type HookFunc func(ctx context.Context, state, runContext any) error

// Middleware composes a transform around a step body at registration time
// (spec §6 add_middleware), e.g. retry policy or logging.
type Middleware func(fn any, cfg *StepConfig) any

// SourceClassifier lets a caller override a failure's FailureSource: a
// (FailureSource, true) return is used in place of the built-in
// external-dependency classification (spec §4.5). A non-(FailureSource,
// true) return or a panic recovered by the caller is ignored and logged as
// a CLASSIFIER_ERROR diagnostic.
type SourceClassifier func(ctx context.Context, err error) (FailureSource, bool)
