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

package flowcore

import "github.com/flowforge/engine/pkg/engine"

// Plan is the statically resolvable execution plan for a graph: the
// roots a run would start from, and, per step, its kind and the parents
// that must complete before a barrier join releases it. It is computed
// entirely from registration-time data — no step runs, no hooks fire —
// so it supplements the spec's "graph visualization" Non-goal (it
// returns structured data, not a rendering) the way the teacher's
// DryRun returns a DryRunPlan without invoking any step or LLM call.
type Plan struct {
	Name  string
	Roots []string
	Steps []PlanStep
}

// PlanStep describes one registered step's static shape.
type PlanStep struct {
	Name           string
	Kind           engine.Kind
	Targets        []string
	Parents        []string
	IsBarrier      bool // len(Parents) > 1
	BarrierTimeout string
	Timeout        string
	HasOnError     bool
	HasRetries     bool
}

// Plan returns the static execution plan for the engine's graph, rooted
// at start (or the graph's natural roots if start is empty). It fails
// only if start names an unregistered step.
func (e *Engine) Plan(start string) (*Plan, error) {
	g := e.sched.Graph()
	roots, err := g.Roots(start)
	if err != nil {
		return nil, err
	}

	reg := e.sched.Registry()
	order := reg.Order()
	plan := &Plan{Roots: roots, Steps: make([]PlanStep, 0, len(order))}

	for _, name := range order {
		cfg := reg.Steps[name]
		parents := g.Parents(name)
		ps := PlanStep{
			Name:       name,
			Kind:       cfg.Kind,
			Targets:    cfg.AllTargets(),
			Parents:    parents,
			IsBarrier:  len(parents) > 1,
			HasOnError: cfg.OnError != nil,
			HasRetries: cfg.Retries != nil,
		}
		if cfg.Timeout > 0 {
			ps.Timeout = cfg.Timeout.String()
		}
		if cfg.BarrierTimeout > 0 {
			ps.BarrierTimeout = cfg.BarrierTimeout.String()
		}
		plan.Steps = append(plan.Steps, ps)
	}
	return plan, nil
}
