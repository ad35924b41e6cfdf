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

// Package scheduler implements the PipelineRunner from spec §4.3: the
// structured-concurrency work-queue control loop that drives a single run
// of a Registry's graph of steps from START to FINISH.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/flowforge/engine/internal/graph"
	"github.com/flowforge/engine/pkg/engine"
)

// ErrDraining is returned by Run once Drain has been called: the
// scheduler stops accepting new root runs but lets any already in
// flight finish normally.
var ErrDraining = errors.New("scheduler: draining, not accepting new runs")

// Scheduler is built once per Registry and can drive many independent
// Runs of it (e.g. a sub-pipeline invoked repeatedly, or concurrent runs
// of the same graph).
type Scheduler struct {
	registry *engine.Registry
	graph    *graph.Graph
	logger   *slog.Logger
	tracer   trace.Tracer

	// QueueSize bounds the work queue (spec §5); 0 or less is unbounded.
	QueueSize int

	mu       sync.Mutex
	draining bool
	inFlight sync.WaitGroup
}

// New validates registry's static topology and returns a Scheduler ready
// to drive runs of it. Validation failures are DefinitionErrors returned
// synchronously, never surfaced mid-run (spec §7).
func New(registry *engine.Registry, logger *slog.Logger, tracer trace.Tracer) (*Scheduler, error) {
	g := graph.Build(registry.Steps, registry.Order())
	if err := g.Validate(); err != nil {
		return nil, &engine.DefinitionError{Message: err.Error()}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{registry: registry, graph: g, logger: logger, tracer: tracer}, nil
}

// Graph exposes the built dependency graph, e.g. for a dry-run planner.
func (s *Scheduler) Graph() *graph.Graph { return s.graph }

// Registry exposes the backing registry.
func (s *Scheduler) Registry() *engine.Registry { return s.registry }

// runOptions are resolved from functional options before Run starts.
type runOptions struct {
	queueSize int
}

// RunOption configures a single Run call.
type RunOption func(*runOptions)

// WithQueueSize bounds one run's work queue (spec §6 run(...queue_size?)).
func WithQueueSize(n int) RunOption { return func(o *runOptions) { o.queueSize = n } }

// Drain stops s from accepting new root Run calls (they return
// ErrDraining) and blocks until every run already started has reached
// FINISH, or ctx is done first. Sub-pipeline runs are not tracked
// independently here: they complete as part of their parent root run.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
