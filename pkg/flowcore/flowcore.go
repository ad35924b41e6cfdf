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

// Package flowcore is the public embedding surface over the engine: it
// wires a pkg/engine.Registry to the internal scheduler and exposes the
// run(state, context?, start?, queue_size?) -> stream of Event execution
// surface described by the spec's external interfaces, the way the
// teacher's cmd/conductord wires internal/controller/runner behind a
// small public-facing type rather than letting callers reach into
// internal packages directly.
package flowcore

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/flowforge/engine/internal/scheduler"
	"github.com/flowforge/engine/pkg/engine"
)

// Engine drives runs of a single Registry's graph. It is safe to start
// multiple concurrent Run calls against the same Engine; each gets its
// own independent run state (spec §4.6 RunSession).
type Engine struct {
	sched *scheduler.Scheduler
}

// Option configures an Engine at construction time.
type Option func(*options)

type options struct {
	logger *slog.Logger
	tracer trace.Tracer
}

// WithLogger installs a structured logger used for framework-level
// diagnostics (step failures, classifier fallback); defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithTracer installs an OpenTelemetry tracer; absent, the scheduler
// runs with no tracer and spans are simply not recorded.
func WithTracer(t trace.Tracer) Option { return func(o *options) { o.tracer = t } }

// New validates registry's static topology (cycles, dangling targets,
// self-routing) and returns an Engine ready to run it. Validation
// failures are returned synchronously as *engine.DefinitionError (spec
// §7: "Validation errors are raised synchronously ... never during a
// run").
func New(registry *engine.Registry, opts ...Option) (*Engine, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	sched, err := scheduler.New(registry, o.logger, o.tracer)
	if err != nil {
		return nil, err
	}
	return &Engine{sched: sched}, nil
}

// RunOption configures a single Run call.
type RunOption = scheduler.RunOption

// Run starts one run of the graph from start (or from the graph's
// natural roots if start is empty) and returns a channel of Events
// terminated by exactly one FINISH event (spec §6). The channel is
// closed once FINISH has been delivered; callers should drain it to
// completion even if they only care about the final status.
func (e *Engine) Run(ctx context.Context, state any, start string, opts ...RunOption) (<-chan engine.Event, error) {
	return e.sched.Run(ctx, state, start, opts...)
}

// WithQueueSize bounds one run's work queue (spec §6 run(...queue_size?)).
func WithQueueSize(n int) RunOption { return scheduler.WithQueueSize(n) }

// Registry exposes the backing registry, e.g. for introspection or to
// build a nested Engine over the same steps.
func (e *Engine) Registry() *engine.Registry { return e.sched.Registry() }

// Drain stops the Engine from accepting new root Run calls (they
// return scheduler.ErrDraining) and blocks until every run already
// started reaches FINISH, or ctx is done first, mirroring the shutdown
// discipline of a long-lived server embedding this engine.
func (e *Engine) Drain(ctx context.Context) error { return e.sched.Drain(ctx) }
