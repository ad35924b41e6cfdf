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

import (
	"reflect"
	"time"
)

// Registry is the code-first declaration surface for a graph of steps
// (spec §6 "Registration"). It corresponds to the teacher's decorator
// registry, made programmatic: callers build a Registry with AddStep and
// friends, then hand it to flowcore.New.
type Registry struct {
	Steps         map[string]*StepConfig
	descriptors   map[string]*Descriptor
	order         []string
	startupHooks  []HookFunc
	shutdownHooks []HookFunc
	globalError   any
	eventHooks    []EventHook
	observers     []Observer
	middlewares   []Middleware

	classifier SourceClassifier

	stateType      reflect.Type
	runContextType reflect.Type
}

// NewRegistry creates an empty Registry. stateType/runContextType declare
// the Go types steps may request via DI (spec §4.2); pass reflect.TypeOf
// a representative value, or nil if a dimension is unused. Both may be
// interface types (e.g. reflect.TypeOf((*MyState)(nil)).Elem()) so
// concrete implementations are matched by assignability.
func NewRegistry(stateType, runContextType reflect.Type) *Registry {
	return &Registry{
		Steps:          make(map[string]*StepConfig),
		descriptors:    make(map[string]*Descriptor),
		stateType:      stateType,
		runContextType: runContextType,
	}
}

// StepOption configures a StepConfig at registration time.
type StepOption func(*StepConfig)

// WithKind overrides the step kind; kind-specific options below already
// imply it, so this is only needed for plain KindStep steps with no
// routing fields set (a dead end).
func WithKind(k Kind) StepOption { return func(c *StepConfig) { c.Kind = k } }

// WithTo declares static successor edges for a standard step.
func WithTo(targets ...string) StepOption {
	return func(c *StepConfig) { c.Targets = append(c.Targets, targets...) }
}

// WithTimeout bounds a single step invocation (spec §4.2).
func WithTimeout(d time.Duration) StepOption { return func(c *StepConfig) { c.Timeout = d } }

// WithRetries declares an integer-N retry count (spec §3, §9).
func WithRetries(n int) StepOption { return func(c *StepConfig) { c.Retries = IntRetries(n) } }

// WithRetryPolicy installs a caller-supplied retry policy, applied
// verbatim (spec §9).
func WithRetryPolicy(p RetryPolicy) StepOption { return func(c *StepConfig) { c.Retries = p } }

// WithBackoffRetries declares an N-attempt retry count paced by an
// exponential backoff instead of firing back-to-back.
func WithBackoffRetries(maxAttempts int) StepOption {
	return func(c *StepConfig) { c.Retries = NewBackoffRetries(maxAttempts) }
}

// WithBarrierTimeout bounds how long a multi-parent successor waits for
// its barrier to become ready (spec §4.1).
func WithBarrierTimeout(d time.Duration) StepOption {
	return func(c *StepConfig) { c.BarrierTimeout = d }
}

// WithOnError installs the step-local error handler (spec §4.3.3).
func WithOnError(fn any) StepOption { return func(c *StepConfig) { c.OnError = fn } }

// WithMapTarget declares a map step's fan-out target (spec §3).
func WithMapTarget(target string) StepOption {
	return func(c *StepConfig) { c.MapTarget = target; c.Kind = KindMap }
}

// WithSwitchRoutes declares a switch step's static route table (spec §3).
func WithSwitchRoutes(routes map[any]string) StepOption {
	return func(c *StepConfig) { c.SwitchRoutes = routes; c.Kind = KindSwitch }
}

// WithSwitchDynamic declares a switch step's dynamic route resolver.
func WithSwitchDynamic(fn func(any) (string, bool)) StepOption {
	return func(c *StepConfig) { c.SwitchDynamic = fn; c.Kind = KindSwitch }
}

// WithSwitchDefault declares the fallback target for unresolved switch keys.
func WithSwitchDefault(target string) StepOption {
	return func(c *StepConfig) { c.SwitchDefault = target; c.Kind = KindSwitch }
}

// WithSubPipeline declares a sub-pipeline step's nested Registry.
func WithSubPipeline(r *Registry) StepOption {
	return func(c *StepConfig) { c.SubPipeline = r; c.Kind = KindSub }
}

// WithExtra attaches opaque user data to a step's config.
func WithExtra(key string, val any) StepOption {
	return func(c *StepConfig) {
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[key] = val
	}
}

// AddStep registers a step function under name. It fails immediately
// (never during a run, per spec §7) if: the DI signature can't be
// resolved, the step targets itself statically (self-routing, spec §6),
// or the name is already registered.
func (r *Registry) AddStep(name string, fn any, opts ...StepOption) error {
	if _, exists := r.Steps[name]; exists {
		return &DefinitionError{Step: name, Message: "step already registered"}
	}
	cfg := &StepConfig{Name: name, Kind: KindStep, Fn: fn}
	for _, opt := range opts {
		opt(cfg)
	}

	expectedUnknowns := 0
	if cfg.Kind == KindMap || r.isMapTarget(name) {
		expectedUnknowns = 1 // the map item
	}
	desc, err := ComputeDescriptor(fn, r.stateType, r.runContextType, expectedUnknowns)
	if err != nil {
		return &DefinitionError{Step: name, Message: err.Error()}
	}
	cfg.isGenerator = desc.IsGenerator()
	if cfg.isGenerator && cfg.Retries != nil {
		// spec §9: async-generator steps cannot be auto-retried (the
		// generator cannot be rewound); disable rather than fail.
		cfg.Retries = nil
	}

	if cfg.OnError != nil {
		if _, err := ComputeDescriptor(cfg.OnError, r.stateType, r.runContextType, 1); err != nil {
			return &DefinitionError{Step: name, Message: "on_error handler: " + err.Error()}
		}
	}

	for _, t := range cfg.Targets {
		if t == name {
			return &DefinitionError{Step: name, Message: "self-routing in static topology is rejected"}
		}
	}

	for _, mw := range r.middlewares {
		cfg.Fn = mw(cfg.Fn, cfg)
	}

	r.descriptors[name] = desc
	r.Steps[name] = cfg
	r.order = append(r.order, name)
	return nil
}

// Descriptor returns the DI plan computed for a registered step's
// function, for use by the invoker.
func (r *Registry) Descriptor(name string) *Descriptor { return r.descriptors[name] }

// isMapTarget reports whether name is already declared as some
// registered step's MapTarget, so its own (otherwise-plain KindStep)
// registration is allowed the one unknown parameter a map worker needs
// for its fanned-out item (spec §3, §4.2). A map step must be
// registered before the worker it fans out to for this to take effect,
// matching every example in this codebase and the teacher's own
// decorator-registration order.
func (r *Registry) isMapTarget(name string) bool {
	for _, cfg := range r.Steps {
		if cfg.Kind == KindMap && cfg.MapTarget == name {
			return true
		}
	}
	return false
}

// AddStartupHook registers a hook run sequentially before any step (spec §6).
func (r *Registry) AddStartupHook(fn HookFunc) { r.startupHooks = append(r.startupHooks, fn) }

// AddShutdownHook registers a hook run after execution, each failure
// collected but never aborting subsequent hooks (spec §6, §4.3 step 8).
func (r *Registry) AddShutdownHook(fn HookFunc) { r.shutdownHooks = append(r.shutdownHooks, fn) }

// SetGlobalErrorHandler sets the fallback error handler tried after a
// step's local on_error handler (spec §4.3.3).
func (r *Registry) SetGlobalErrorHandler(fn any) { r.globalError = fn }

// AddEventHook registers a hook threading every event before it is
// published (spec §4.4, §6).
func (r *Registry) AddEventHook(fn EventHook) { r.eventHooks = append(r.eventHooks, fn) }

// AddObserver registers an observer for the four pipeline callbacks (spec §6).
func (r *Registry) AddObserver(o Observer) { r.observers = append(r.observers, o) }

// AddMiddleware registers a step-body transform applied, in registration
// order, to every step registered after it (spec §6).
func (r *Registry) AddMiddleware(m Middleware) { r.middlewares = append(r.middlewares, m) }

// SetSourceClassifier installs the user-supplied failure source override
// (spec §4.5).
func (r *Registry) SetSourceClassifier(c SourceClassifier) { r.classifier = c }

// Order returns step names in registration order, used for deterministic
// root selection when the topology has no natural root (spec §4.1).
func (r *Registry) Order() []string { return append([]string(nil), r.order...) }

func (r *Registry) StartupHooks() []HookFunc     { return r.startupHooks }
func (r *Registry) ShutdownHooks() []HookFunc    { return r.shutdownHooks }
func (r *Registry) GlobalErrorHandler() any      { return r.globalError }
func (r *Registry) EventHooks() []EventHook      { return r.eventHooks }
func (r *Registry) Observers() []Observer        { return r.observers }
func (r *Registry) Classifier() SourceClassifier { return r.classifier }
func (r *Registry) StateType() reflect.Type      { return r.stateType }
func (r *Registry) RunContextType() reflect.Type { return r.runContextType }
