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

// Package graph implements the DependencyGraph from spec §4.1: a
// reverse-index of the step topology, barrier-readiness tracking per run,
// and static-topology validation (cycles, dangling targets, self-routing).
package graph

import (
	"fmt"
	"time"

	"github.com/flowforge/engine/pkg/engine"
)

// Graph is built once from a Registry and is read-only thereafter; the
// per-run CompletedParents bookkeeping lives in a separate Barriers value
// so one Graph can back concurrent runs (e.g. sub-pipelines sharing a
// parent registry).
type Graph struct {
	steps   map[string]*engine.StepConfig
	order   []string
	parents map[string][]string
}

// Build constructs a Graph from a registry's steps in registration order.
//
// The Parents index backing barrier joins is built only from plain
// KindStep `to` edges: a barrier is a multi-parent join at an ordinary
// step (spec §8 scenario "a,b both feed c"). Map fan-out and switch
// routing are directive-driven at invocation time, not barrier-driven —
// a map step's MapTarget is invoked directly by the fan-out, and a
// switch's resolved route is scheduled directly — so including those
// edges here would cause the target to be (incorrectly) rescheduled a
// second time once the map/switch step's own completion runs through
// successor-completion handling. Validate, below, still considers every
// edge kind for cycle/reachability checking.
func Build(steps map[string]*engine.StepConfig, order []string) *Graph {
	g := &Graph{steps: steps, order: order, parents: make(map[string][]string)}
	for _, name := range order {
		cfg := steps[name]
		if cfg.Kind != engine.KindStep {
			continue
		}
		for _, t := range cfg.Targets {
			g.parents[t] = append(g.parents[t], name)
		}
	}
	return g
}

// Parents returns the static parents of step s (possibly empty).
func (g *Graph) Parents(s string) []string {
	return append([]string(nil), g.parents[s]...)
}

// Roots returns the root step(s) to schedule at the start of a run. If
// start is non-empty, it resolves to a singleton containing that step.
// Otherwise it is every step that no edge of any kind (to, map target,
// switch route or default) points at; if that set is empty but
// steps exist, it falls back to a deterministic singleton (first
// insertion order), per spec §4.1.
func (g *Graph) Roots(start string) ([]string, error) {
	if start != "" {
		if _, ok := g.steps[start]; !ok {
			return nil, fmt.Errorf("start step %q is not registered", start)
		}
		return []string{start}, nil
	}
	allTargets := make(map[string]bool)
	for _, parents := range g.parents {
		_ = parents
	}
	for _, name := range g.order {
		for _, t := range g.steps[name].AllTargets() {
			allTargets[t] = true
		}
	}
	var roots []string
	for _, name := range g.order {
		if !allTargets[name] {
			roots = append(roots, name)
		}
	}
	if len(roots) == 0 && len(g.order) > 0 {
		return []string{g.order[0]}, nil
	}
	return roots, nil
}

// Validate checks: every target referenced exists, no cycles considering
// topology + map targets + switch routes (excluding Stop) + switch
// defaults + sub-pipeline edges (sub-pipelines have no outgoing edge into
// the parent graph, so they can't contribute to a parent-graph cycle).
// Self-routing is checked separately at registration time (spec §6) but
// is also caught here as a 1-node cycle for defense in depth.
func (g *Graph) Validate() error {
	for _, name := range g.order {
		cfg := g.steps[name]
		for _, t := range cfg.AllTargets() {
			if _, ok := g.steps[t]; !ok {
				return fmt.Errorf("step %q targets unregistered step %q", name, t)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.order))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("cycle detected: %v -> %s", path, name)
		}
		color[name] = gray
		path = append(path, name)
		for _, t := range g.steps[name].AllTargets() {
			if err := visit(t); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil
	}

	for _, name := range g.order {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Barriers tracks per-run barrier state: which parents of each successor
// have completed so far, and which successors have an armed timeout
// watcher. A Barriers value is owned exclusively by one run's scheduler
// goroutine (spec §3 Ownership) — no internal locking.
type Barriers struct {
	graph     *Graph
	completed map[string]map[string]bool
	armed     map[string]bool
}

// NewBarriers creates barrier tracking state for one run over g.
func NewBarriers(g *Graph) *Barriers {
	return &Barriers{graph: g, completed: make(map[string]map[string]bool), armed: make(map[string]bool)}
}

// MarkCompleted records that owner has completed and is a parent of succ.
// It returns whether succ's barrier is now ready, whether any armed
// timeout watcher for succ should be cancelled, and — if this is the
// first parent to complete for a multi-parent successor — the
// BarrierTimeout that should be armed (spec §4.1).
func (b *Barriers) MarkCompleted(owner, succ string, barrierTimeout time.Duration) (ready bool, cancelTimeout bool, scheduleTimeout time.Duration, shouldArm bool) {
	set, ok := b.completed[succ]
	if !ok {
		set = make(map[string]bool)
		b.completed[succ] = set
	}
	firstCompletion := len(set) == 0
	set[owner] = true

	parents := b.graph.Parents(succ)
	ready = len(parents) > 0
	for _, p := range parents {
		if !set[p] {
			ready = false
			break
		}
	}
	if len(parents) == 0 {
		ready = true
	}

	if ready {
		cancelTimeout = b.armed[succ]
		b.armed[succ] = false
		return ready, cancelTimeout, 0, false
	}

	if firstCompletion && len(parents) > 1 && barrierTimeout > 0 {
		b.armed[succ] = true
		return false, false, barrierTimeout, true
	}
	return false, false, 0, false
}

// DisarmTimeout clears the armed flag, e.g. once a timeout watcher fires
// or is explicitly cancelled.
func (b *Barriers) DisarmTimeout(succ string) { b.armed[succ] = false }

// IsReady reports whether succ's barrier is currently satisfied (used by
// barrier-timeout watchers to check-on-wake).
func (b *Barriers) IsReady(succ string) bool {
	parents := b.graph.Parents(succ)
	if len(parents) == 0 {
		return true
	}
	set := b.completed[succ]
	for _, p := range parents {
		if !set[p] {
			return false
		}
	}
	return true
}
