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

import "time"

// Kind is the step kind, which uniquely determines which routing fields
// of StepConfig are populated (spec §3 invariant).
type Kind string

const (
	KindStep   Kind = "step"
	KindMap    Kind = "map"
	KindSwitch Kind = "switch"
	KindSub    Kind = "sub"
)

// RetryPolicy is the interface a user-supplied retry policy descriptor
// must satisfy (spec §3: "retries (int or policy descriptor)"). IntRetries
// implements it for the common integer-N case; callers may supply their
// own to be applied "verbatim" per spec §9.
type RetryPolicy interface {
	// MaxAttempts returns the total number of attempts (including the
	// first), so an IntRetries(2) policy allows up to 3 attempts.
	MaxAttempts() int
}

// IntRetries is a RetryPolicy backed by a plain attempt count.
type IntRetries int

// MaxAttempts implements RetryPolicy.
func (n IntRetries) MaxAttempts() int { return int(n) + 1 }

// StepConfig describes one registered step (spec §3).
type StepConfig struct {
	Name string
	Kind Kind

	// Fn is the user step function. Its signature is introspected at
	// registration time by the invoker's DI resolver (spec §4.2).
	Fn any

	Timeout        time.Duration
	Retries        RetryPolicy
	BarrierTimeout time.Duration

	// OnError is the step-local error handler (spec §4.3.3), same calling
	// convention as Fn but additionally may request the error value.
	OnError any

	// Targets are the static successor step names this step's topology
	// edge declares (the `to` field of add_step). Populated for kind=step;
	// other kinds route via the kind-specific fields below.
	Targets []string

	// MapTarget is the single successor every fanned-out item is sent to
	// (kind=map).
	MapTarget string

	// SwitchRoutes maps a returned route key to a target step name
	// (kind=switch, static routing table).
	SwitchRoutes map[any]string

	// SwitchDynamic, if set, resolves a route key to a target step name
	// at runtime instead of (or in addition to) SwitchRoutes.
	SwitchDynamic func(key any) (string, bool)

	// SwitchDefault is used when neither SwitchRoutes nor SwitchDynamic
	// resolves the returned key.
	SwitchDefault string

	// SubPipeline is the nested Registry invoked for kind=sub.
	SubPipeline *Registry

	// Extra carries opaque user data through to DI and observers.
	Extra map[string]any

	// isGenerator is computed at registration time: true if Fn accepts an
	// Emit parameter, triggering the async-generator/token protocol
	// (spec §4.2).
	isGenerator bool
}

// AllTargets returns every step name this step's config can route to,
// across all kinds, used for root detection (spec §3 Topology) and cycle
// validation (spec §4.1). The Stop sentinel is never a step name and is
// excluded by callers, not here.
func (c *StepConfig) AllTargets() []string {
	switch c.Kind {
	case KindMap:
		if c.MapTarget != "" {
			return []string{c.MapTarget}
		}
		return nil
	case KindSwitch:
		targets := make([]string, 0, len(c.SwitchRoutes)+1)
		for _, t := range c.SwitchRoutes {
			targets = append(targets, t)
		}
		if c.SwitchDefault != "" {
			targets = append(targets, c.SwitchDefault)
		}
		return targets
	case KindSub:
		return nil
	default:
		return append([]string(nil), c.Targets...)
	}
}
