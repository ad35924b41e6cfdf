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

package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowforge/engine/internal/cancel"
	"github.com/flowforge/engine/internal/events"
	"github.com/flowforge/engine/internal/failure"
	"github.com/flowforge/engine/internal/graph"
	"github.com/flowforge/engine/internal/ids"
	"github.com/flowforge/engine/internal/invoker"
	"github.com/flowforge/engine/internal/metrics"
	"github.com/flowforge/engine/internal/runstate"
	"github.com/flowforge/engine/internal/scopemeta"
	"github.com/flowforge/engine/pkg/engine"
)

// taskSpec describes one unit of work to schedule onto the work queue
// (spec §4.3.1 schedule(name, owner?, payload?)). It is only ever
// constructed and consumed by the consumer goroutine.
type taskSpec struct {
	name  string
	owner string
	item  any
	payload any
	attempt int

	parentInvocationID string
	scope               []string
}

// rawEvent wraps a worker-goroutine-originated event for the consumer
// to publish; workers never call evMgr.Publish directly since Manager
// and Barriers/Recorder state is consumer-owned (spec §5).
type rawEvent struct {
	ev   engine.Event
	meta map[string]any
}

// stepResult is what a worker pushes back once an invocation finishes.
type stepResult struct {
	task    taskSpec
	invocationID string
	startedAt    time.Time
	finishedAt   time.Time
	res     invoker.Result
	cfg     *engine.StepConfig
}

// barrierWake is pushed by a timeout watcher goroutine once its wait
// expires, so the consumer checks readiness and fails the successor if
// it is still not satisfied (spec §4.1, §4.3.4).
type barrierWake struct {
	succ string
}

// subDone is pushed once a nested sub-pipeline run's own FINISH event
// has been observed, carrying the owner task that spawned it.
type subDone struct {
	task    taskSpec
	payload engine.FinishPayload
}

// run is the mutable state of one active Run call. All of its fields
// except queue/out are touched only by the single consumer goroutine
// (spec §5 "single logical thread owns all scheduler bookkeeping").
type run struct {
	sched *Scheduler
	ctx   context.Context

	state      any
	runContext *runstate.RunContext
	runID      string
	originRunID string
	parentRunID string
	stage      string // "" for a root run, "owner:" prefix for a nested one's re-emitted stage

	gen       *ids.Generator
	cancelTok *cancel.Token
	barriers  *graph.Barriers
	journal   *failure.Journal
	metricsRec *metrics.Recorder
	evMgr     *events.Manager
	session   *runstate.Session
	machine   *runstate.Machine

	queue *workQueue
	out   chan engine.Event

	totalActive   int
	logicalActive map[string]int
	pendingTargets map[string][]string
	skippedOwners map[string]bool
	barrierSpans  map[string]trace.Span

	stopping bool
	startTime time.Time
	doneCh    chan struct{}

	tracer trace.Tracer
	onDone func()
}

// ctxCancelled is pushed by the context watcher goroutine once the
// run's context is done, so cancellation is observed on the consumer
// goroutine like everything else (spec §5).
type ctxCancelled struct{ err error }

// Run drives one execution of sched's graph over state, starting at
// start (or the graph's natural roots if start == ""), and returns a
// channel of Events terminated by exactly one FINISH event (spec §4.3,
// §8 invariant 1 & 2). The returned channel is closed once FINISH has
// been sent.
func (s *Scheduler) Run(ctx context.Context, state any, start string, opts ...RunOption) (<-chan engine.Event, error) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return nil, ErrDraining
	}
	s.inFlight.Add(1)
	s.mu.Unlock()

	ch, err := s.run(ctx, state, start, nil, s.inFlight.Done, opts...)
	if err != nil {
		s.inFlight.Done()
		return nil, err
	}
	return ch, nil
}

// run is Run's implementation, additionally accepting the parent run's
// RunContext when this is a nested sub-pipeline invocation and an
// optional onDone callback invoked once this run reaches FINISH. A nil
// parent starts a fresh root context (OriginRunID == ParentRunID ==
// RunID); a non-nil parent derives a child context sharing its
// ExecutionLog and OriginRunID, so DI-injected *RunContext values inside
// a sub-pipeline agree with the origin/parent already stamped onto its
// re-emitted events (spec §4.3.1).
func (s *Scheduler) run(ctx context.Context, state any, start string, parent *runstate.RunContext, onDone func(), opts ...RunOption) (<-chan engine.Event, error) {
	o := runOptions{queueSize: s.QueueSize}
	for _, opt := range opts {
		opt(&o)
	}

	runID := ids.NewRunID()
	rc := runstate.NewRunContext(runID)
	if parent != nil {
		rc = parent.Child(runID)
	}
	r := &run{
		sched:         s,
		ctx:           ctx,
		state:         state,
		runContext:    rc,
		runID:         runID,
		originRunID:   rc.OriginRunID,
		parentRunID:   rc.ParentRunID,
		gen:           ids.NewGenerator(),
		cancelTok:     cancel.New(),
		barriers:      graph.NewBarriers(s.graph),
		journal:       failure.New(),
		metricsRec:    metrics.New(),
		session:       runstate.NewSession(runID, time.Now()),
		machine:       runstate.NewMachine(),
		queue:         newWorkQueue(o.queueSize),
		out:           make(chan engine.Event, 64),
		logicalActive: make(map[string]int),
		pendingTargets: make(map[string][]string),
		skippedOwners: make(map[string]bool),
		barrierSpans:  make(map[string]trace.Span),
		startTime:     time.Now(),
		doneCh:        make(chan struct{}),
		tracer:        s.tracer,
		onDone:        onDone,
	}
	r.evMgr = events.New(r.gen, r.startTime, s.registry.EventHooks(), s.registry.Observers(), s.logger, r.out)

	go r.watchCancellation()
	go r.drive(start)
	return r.out, nil
}

// watchCancellation pushes a ctxCancelled item once ctx is done, so the
// consumer goroutine observes cancellation through the same queue as
// every other signal (spec §5); it exits once the run itself is done.
func (r *run) watchCancellation() {
	select {
	case <-r.ctx.Done():
		r.cancelTok.Cancel(r.ctx.Err().Error())
		r.queue.push(ctxCancelled{err: r.ctx.Err()})
	case <-r.doneCh:
	}
}

// emit stamps this run's identifiers onto ev unless it already carries a
// RunID (a re-emitted sub-pipeline event keeps its own), then publishes
// it. It returns false if an EventHook aborted it, per spec §4.4; that
// records an EVENT_HOOK_ERROR failure and stops further scheduling.
func (r *run) emit(ev engine.Event) bool {
	if ev.RunID == "" {
		ev.RunID = r.runID
		ev.OriginRunID = r.originRunID
		ev.ParentRunID = r.parentRunID
	}
	r.metricsRec.ObserveEvent(ev)
	if !r.evMgr.Publish(r.ctx, ev, r.state, r.runContext, nil) {
		r.journal.Append(engine.FailureEntry{
			Kind: engine.FailureKindValidation, Source: engine.SourceUserCode,
			Reason: engine.ReasonEventHookError, Step: ev.Stage,
			Message: fmt.Sprintf("event hook rejected %s event", ev.Type),
		})
		r.stopping = true
		return false
	}
	return true
}

// drive is the consumer goroutine's entry point and owns the full
// control flow of spec §4.3 steps 1-8.
func (r *run) drive(start string) {
	defer close(r.out)
	defer close(r.doneCh)
	if r.onDone != nil {
		defer r.onDone()
	}

	r.evMgr.NotifyStart(r.ctx, r.state, r.runContext, nil)

	// Step 2: startup hooks, sequentially; first failure aborts to shutdown.
	r.machine.Advance(runstate.PhaseStartup)
	for _, hook := range r.sched.registry.StartupHooks() {
		if err := r.runHookSafely(hook); err != nil {
			r.journal.Append(engine.FailureEntry{
				Kind: engine.FailureKindStartup, Source: engine.SourceFramework,
				Reason: engine.ReasonStartupHookError, Message: err.Error(), Err: err,
			})
			r.emit(engine.Event{Type: engine.EventError, Stage: engine.SystemStage, NodeKind: engine.NodeSystem, Payload: err.Error()})
			r.finish()
			return
		}
	}

	// Step 3: compute roots.
	roots, err := r.sched.graph.Roots(start)
	if err != nil {
		r.journal.Append(engine.FailureEntry{
			Kind: engine.FailureKindValidation, Source: engine.SourceFramework,
			Reason: engine.ReasonValidationError, Message: err.Error(), Err: err,
		})
		r.emit(engine.Event{Type: engine.EventError, Stage: engine.SystemStage, NodeKind: engine.NodeSystem, Payload: err.Error()})
		r.finish()
		return
	}
	if len(roots) == 0 {
		r.journal.Append(engine.FailureEntry{
			Kind: engine.FailureKindValidation, Source: engine.SourceFramework,
			Reason: engine.ReasonNoSteps, Message: "no steps registered",
		})
		r.emit(engine.Event{Type: engine.EventError, Stage: engine.SystemStage, NodeKind: engine.NodeSystem, Payload: "no steps registered"})
		r.finish()
		return
	}

	r.machine.Advance(runstate.PhaseExecuting)
	r.emit(engine.Event{Type: engine.EventStart, Stage: engine.SystemStage, NodeKind: engine.NodeSystem})

	for _, name := range roots {
		r.schedule(taskSpec{name: name, owner: name})
	}

	r.loop()

	// Step 7/8: shutdown hooks, then resolve outcome and finish.
	r.machine.Advance(runstate.PhaseShutdown)
	for _, hook := range r.sched.registry.ShutdownHooks() {
		if err := r.runHookSafely(hook); err != nil {
			r.journal.Append(engine.FailureEntry{
				Kind: engine.FailureKindShutdown, Source: engine.SourceFramework,
				Reason: engine.ReasonShutdownHookError, Message: err.Error(), Err: err,
			})
		}
	}
	r.finish()
}

func (r *run) runHookSafely(hook engine.HookFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook panicked: %v", rec)
		}
	}()
	return hook(r.ctx, r.state, r.runContext)
}

// loop drains the work queue until no task is in flight and nothing
// pending remains, dispatching each item by its dynamic type (spec
// §4.3.2).
func (r *run) loop() {
	for {
		if r.totalActive == 0 {
			break
		}
		item, ok := r.queue.pop()
		if !ok {
			break
		}
		r.metricsRec.ObserveQueueDepth(r.queue.depth())
		switch v := item.(type) {
		case stepResult:
			r.handleStepResult(v)
		case rawEvent:
			r.emit(v.ev)
		case barrierWake:
			r.handleBarrierWake(v.succ)
		case subDone:
			r.handleSubDone(v)
		case ctxCancelled:
			r.stopping = true
		}
	}
}

// schedule enqueues name for invocation. owner defaults to name (spec
// §4.3.1); a map fan-out passes owner = the map step's own name for
// every item worker so their completions collapse under one STEP_END.
func (r *run) schedule(t taskSpec) {
	if t.owner == "" {
		t.owner = t.name
	}
	if r.skippedOwners[t.owner] {
		return
	}
	cfg, ok := r.sched.registry.Steps[t.name]
	if !ok {
		return
	}
	r.totalActive++
	r.logicalActive[t.owner]++
	r.metricsRec.ObserveTaskStart()
	go r.runWorker(t, cfg)
}

// runWorker executes one attempt of a step invocation entirely off the
// consumer goroutine, reporting back only via the queue (spec §5). A
// further attempt is started by dispatchResolved when the step returns
// the Retry directive.
func (r *run) runWorker(t taskSpec, cfg *engine.StepConfig) {
	invocationID := ids.NewInvocationID()
	meta := scopemeta.NewStepMeta(t.name, invocationID, t.attempt)
	ctx := scopemeta.WithCurrentStep(r.ctx, meta)

	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "step."+string(cfg.Kind), trace.WithAttributes(
			attribute.String("run_id", r.runID),
			attribute.String("invocation_id", invocationID),
			attribute.String("step_name", t.name),
			attribute.Int("attempt", t.attempt),
		))
		defer span.End()
	}

	desc := r.sched.registry.Descriptor(t.name)
	args := engine.CallArgs{Ctx: ctx, State: r.state, RunContext: r.runContext, StepName: t.name, Item: t.item}

	startedAt := time.Now()
	r.queue.push(rawEvent{ev: engine.Event{
		Type: engine.EventStepStart, Stage: t.name, NodeKind: nodeKindFor(cfg.Kind),
		InvocationID: invocationID, ParentInvocationID: t.parentInvocationID,
		OwnerInvocationID: invocationID, Attempt: t.attempt, Scope: t.scope,
	}})

	onToken := func(v any) {
		r.queue.push(rawEvent{ev: engine.Event{Type: engine.EventToken, Stage: t.name, NodeKind: nodeKindFor(cfg.Kind), InvocationID: invocationID, Attempt: t.attempt, Scope: t.scope, Payload: v}})
	}

	res := invoker.Invoke(ctx, cfg, desc, args, onToken)
	r.queue.push(stepResult{task: t, invocationID: invocationID, startedAt: startedAt, finishedAt: time.Now(), res: res, cfg: cfg})
}

func nodeKindFor(k engine.Kind) engine.NodeKind {
	switch k {
	case engine.KindMap:
		return engine.NodeMap
	case engine.KindSwitch:
		return engine.NodeSwitch
	case engine.KindSub:
		return engine.NodeSub
	default:
		return engine.NodeStep
	}
}
