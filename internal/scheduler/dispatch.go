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
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowforge/engine/internal/failure"
	"github.com/flowforge/engine/internal/invoker"
	"github.com/flowforge/engine/internal/runstate"
	"github.com/flowforge/engine/pkg/engine"
)

// handleStepResult processes one finished invocation (spec §4.3.2): a
// non-nil error enters the failure-handling chain; otherwise the raw
// return value is resolved into a Directive and dispatched.
func (r *run) handleStepResult(sr stepResult) {
	t := sr.task
	cfg := sr.cfg
	r.metricsRec.ObserveStepLatency(t.name, sr.finishedAt.Sub(sr.startedAt))
	r.metricsRec.ObserveTaskEnd()

	status := engine.StatusSuccess
	if sr.res.Err != nil {
		status = engine.StatusFailed
	}
	if sr.res.TimedOut {
		status = engine.StatusTimeout
	}
	r.runContext.Log.Append(runstate.LogEntry{Step: t.name, InvocationID: sr.invocationID, Attempt: t.attempt, Status: status, Err: sr.res.Err})

	if sr.res.Err != nil {
		r.handleFailure(t, cfg, sr.invocationID, sr.res.Err)
		return
	}
	r.dispatchResolved(t, cfg, sr.invocationID, sr.res.Value)
}

// dispatchResolved applies kind-specific coercion to raw and routes the
// run according to which Directive results (spec §4.3.2's dispatch
// table: Next/Map/Run/Suspend/Stop/Retry/Skip/Raise/other).
func (r *run) dispatchResolved(t taskSpec, cfg *engine.StepConfig, invocationID string, raw any) {
	directive, err := resolveDirective(cfg, raw)
	if err != nil {
		r.handleFailure(t, cfg, invocationID, err)
		return
	}

	switch {
	case directive == engine.Stop:
		r.stopping = true
		r.completeOwner(t, nil)
		return
	case directive == engine.Retry:
		maxAttempts := 1
		if cfg.Retries != nil {
			maxAttempts = cfg.Retries.MaxAttempts()
		}
		if t.attempt+1 < maxAttempts {
			nt := t
			nt.attempt++
			if dp, ok := cfg.Retries.(engine.DelayedRetryPolicy); ok {
				time.AfterFunc(dp.NextDelay(), func() { r.runWorker(nt, cfg) })
				return
			}
			go r.runWorker(nt, cfg)
			return
		}
		r.handleFailure(t, cfg, invocationID, fmt.Errorf("step %q exhausted retries", t.name))
		return
	case directive == engine.Skip:
		r.skippedOwners[t.owner] = true
		r.completeOwner(t, nil)
		return
	}

	switch d := directive.(type) {
	case engine.Suspend:
		r.emit(engine.Event{Type: engine.EventSuspend, Stage: t.name, NodeKind: nodeKindFor(cfg.Kind), InvocationID: invocationID, Attempt: t.attempt, Scope: t.scope, Payload: d.Reason})
		r.stopping = true
		r.completeOwner(t, nil)
	case engine.Raise:
		err := d.Err
		if err == nil {
			err = fmt.Errorf("step %q raised", t.name)
		}
		r.handleFailure(t, cfg, invocationID, err)
	case engine.Map:
		r.dispatchMap(t, cfg, d, invocationID)
	case engine.Run:
		r.dispatchSub(t, cfg, d, invocationID)
	case engine.Next:
		r.emit(engine.Event{Type: engine.EventStepEnd, Stage: t.name, NodeKind: nodeKindFor(cfg.Kind), InvocationID: invocationID, Attempt: t.attempt, Scope: t.scope, Payload: d})
		r.completeOwner(t, []string{d.Target})
	default:
		r.emit(engine.Event{Type: engine.EventStepEnd, Stage: t.name, NodeKind: nodeKindFor(cfg.Kind), InvocationID: invocationID, Attempt: t.attempt, Scope: t.scope, Payload: d})
		var targets []string
		if cfg.Kind == engine.KindStep {
			targets = cfg.Targets
		}
		r.completeOwner(t, targets)
	}
}

// handleFailure runs the local-handler -> global-handler -> STEP_ERROR
// chain (spec §4.3.3). A handler that itself errors or panics (reported
// via invoker.Result.Err) is treated as "did not recover" and the chain
// falls through to the next stage.
func (r *run) handleFailure(t taskSpec, cfg *engine.StepConfig, invocationID string, cause error) {
	source, classifierFailed := failure.Classify(r.ctx, cause, r.sched.registry.Classifier())
	if classifierFailed {
		r.journal.Append(engine.FailureEntry{
			Kind: engine.FailureKindStep, Source: engine.SourceFramework,
			Reason: engine.ReasonClassifierError, Step: t.name,
			Message: "source classifier failed, falling back to built-in classification", Err: cause,
		})
	}

	if cfg.OnError != nil {
		if val, ok := r.tryHandler(cfg.OnError, t, cause); ok {
			r.dispatchResolved(t, cfg, invocationID, val)
			return
		}
	}
	if gh := r.sched.registry.GlobalErrorHandler(); gh != nil {
		if val, ok := r.tryHandler(gh, t, cause); ok {
			r.dispatchResolved(t, cfg, invocationID, val)
			return
		}
	}

	reason := engine.ReasonStepError
	var timeoutErr *engine.TimeoutError
	if errors.As(cause, &timeoutErr) {
		reason = engine.ReasonTimeout
	}
	r.sched.logger.Error("step failed", "step_name", t.name, "error_type", fmt.Sprintf("%T", cause), "state_type", fmt.Sprintf("%T", r.state), "error", cause)
	r.journal.Append(engine.FailureEntry{Kind: engine.FailureKindStep, Source: source, Reason: reason, Step: t.name, Err: cause, Message: cause.Error()})
	r.emit(engine.Event{Type: engine.EventStepError, Stage: t.name, NodeKind: nodeKindFor(cfg.Kind), InvocationID: invocationID, Attempt: t.attempt, Scope: t.scope, Payload: cause.Error()})
	r.completeOwner(t, nil)
}

// tryHandler invokes a local on_error or global error handler, whose
// calling convention is the same as a step function but additionally
// may request the error value (spec §4.3.3). ok is false if the
// handler itself errored or its signature cannot be resolved, meaning
// the caller should fall through to the next stage of the chain.
func (r *run) tryHandler(fn any, t taskSpec, cause error) (value any, ok bool) {
	desc, err := engine.ComputeDescriptor(fn, r.sched.registry.StateType(), r.sched.registry.RunContextType(), 1)
	if err != nil {
		return nil, false
	}
	cfg := &engine.StepConfig{Name: t.name + ":error_handler", Fn: fn}
	args := engine.CallArgs{Ctx: r.ctx, State: r.state, RunContext: r.runContext, StepName: t.name, Err: cause}
	res := invoker.Invoke(r.ctx, cfg, desc, args, nil)
	if res.Err != nil {
		return nil, false
	}
	return res.Value, true
}

// dispatchMap fans d.Items out to d.Target, one worker task per item,
// all sharing owner = t.name so their completions collapse under a
// single MAP_COMPLETE (spec §3, §8 "map fan-out of 3" scenario).
func (r *run) dispatchMap(t taskSpec, cfg *engine.StepConfig, d engine.Map, invocationID string) {
	n := len(d.Items)
	r.metricsRec.ObserveMapStart(n)
	r.emit(engine.Event{Type: engine.EventMapStart, Stage: t.name, NodeKind: engine.NodeMap, InvocationID: invocationID, Payload: n})

	if r.tracer != nil {
		_, span := r.tracer.Start(r.ctx, "map.fanout", trace.WithAttributes(
			attribute.String("step_name", t.name),
			attribute.Int("items", n),
		))
		defer span.End()
	}

	if n == 0 {
		r.metricsRec.ObserveMapComplete()
		r.emit(engine.Event{Type: engine.EventMapComplete, Stage: t.name, NodeKind: engine.NodeMap, Payload: 0})
		r.emit(engine.Event{Type: engine.EventStepEnd, Stage: t.name, NodeKind: engine.NodeMap})
		r.completeOwner(t, nil)
		return
	}
	for _, item := range d.Items {
		r.schedule(taskSpec{name: d.Target, owner: t.name, item: item, parentInvocationID: invocationID})
	}
	r.completeOwner(t, nil)
}

// dispatchSub spawns a nested Scheduler run over d.Pipeline/d.State,
// re-emitting its events with Stage rewritten to "owner:inner_stage"
// (spec §4.3.1, §9 Design Notes on sub-pipeline scope rewriting) and
// folding its terminal outcome back in once observed. The child's own
// FINISH is not re-emitted: its payload is folded in by handleSubDone,
// so the parent stream keeps a single FINISH.
func (r *run) dispatchSub(t taskSpec, cfg *engine.StepConfig, d engine.Run, invocationID string) {
	childSched, err := New(d.Pipeline, r.sched.logger, r.sched.tracer)
	if err != nil {
		r.handleFailure(t, cfg, invocationID, fmt.Errorf("sub-pipeline %q definition invalid: %w", t.name, err))
		return
	}
	ch, err := childSched.run(r.ctx, d.State, "", r.runContext, nil)
	if err != nil {
		r.handleFailure(t, cfg, invocationID, fmt.Errorf("sub-pipeline %q failed to start: %w", t.name, err))
		return
	}

	go func() {
		var finalPayload engine.FinishPayload
		for ev := range ch {
			// The child run's own RunContext (derived via Child above)
			// already stamps ParentRunID/OriginRunID correctly; only the
			// stage needs rewriting to nest it under this task's name.
			ev.Stage = t.name + ":" + ev.Stage
			if ev.Type == engine.EventFinish {
				if p, ok := ev.Payload.(engine.FinishPayload); ok {
					finalPayload = p
				}
				continue
			}
			r.queue.push(rawEvent{ev: ev})
		}
		r.queue.push(subDone{task: t, payload: finalPayload})
	}()
}

// handleSubDone folds a completed sub-pipeline run's outcome into this
// run's journal and collapses the dispatching task.
func (r *run) handleSubDone(sd subDone) {
	if sd.payload.Status != "" && sd.payload.Status != engine.StatusSuccess {
		r.journal.Append(engine.FailureEntry{
			Kind: engine.FailureKindStep, Source: engine.SourceFramework,
			Reason: engine.ReasonStepError, Step: sd.task.name,
			Message: fmt.Sprintf("sub-pipeline %q ended with status %s: %s", sd.task.name, sd.payload.Status, sd.payload.Error),
		})
	}
	r.completeOwner(sd.task, nil)
}

// completeOwner finalizes one finished task under t.owner: it decrements
// the in-flight counters and, only once every task sharing that owner
// has finished (logicalActive[owner] reaches zero), emits the owner's
// collapse event (for a map fan-out) and routes to targets — the
// static successors declared by the step's own topology, or the single
// target named by a returned Next (spec §4.3.1, §4.3.4).
func (r *run) completeOwner(t taskSpec, targets []string) {
	r.totalActive--
	r.logicalActive[t.owner]--
	r.pendingTargets[t.owner] = targets

	if r.logicalActive[t.owner] > 0 {
		return
	}
	delete(r.logicalActive, t.owner)
	finalTargets := r.pendingTargets[t.owner]
	delete(r.pendingTargets, t.owner)

	if t.owner != t.name {
		r.metricsRec.ObserveMapComplete()
		r.emit(engine.Event{Type: engine.EventMapComplete, Stage: t.owner, NodeKind: engine.NodeMap})
		r.emit(engine.Event{Type: engine.EventStepEnd, Stage: t.owner, NodeKind: engine.NodeMap})
	}
	if r.stopping {
		return
	}
	for _, succ := range finalTargets {
		r.routeToSuccessor(t.name, succ)
	}
}

// routeToSuccessor marks the parent (identified by its static step
// name, matching graph.Parents's bookkeeping) as completed for succ's
// barrier, and either schedules succ immediately or arms a timeout
// watcher for a still-unsatisfied multi-parent join (spec §4.1, §4.3.4).
//
// An armed timeout watcher is counted in totalActive exactly like an
// in-flight step: otherwise the control loop (which exits once
// totalActive reaches zero) could exit before a pending barrier ever
// gets the chance to time out, if every other branch of the graph
// finishes first. cancelTimeout coming back true means a previously
// armed wait for succ is resolved here instead of by its watcher
// firing, so the earlier increment is unwound.
func (r *run) routeToSuccessor(parentName, succ string) {
	succCfg, ok := r.sched.registry.Steps[succ]
	if !ok {
		return
	}
	ready, cancelTimeout, scheduleTimeout, shouldArm := r.barriers.MarkCompleted(parentName, succ, succCfg.BarrierTimeout)
	if ready {
		if cancelTimeout {
			r.totalActive--
			r.endBarrierSpan(succ, codes.Ok, "")
		}
		r.metricsRec.ObserveBarrierRelease(succ)
		r.schedule(taskSpec{name: succ, owner: succ})
		return
	}
	if shouldArm {
		r.totalActive++
		r.metricsRec.ObserveBarrierWaitStart(succ)
		r.emit(engine.Event{Type: engine.EventBarrierWait, Stage: succ, NodeKind: nodeKindFor(succCfg.Kind)})
		if r.tracer != nil {
			_, span := r.tracer.Start(r.ctx, "barrier.wait", trace.WithAttributes(attribute.String("step_name", succ)))
			r.barrierSpans[succ] = span
		}
		go r.armBarrierTimeout(succ, scheduleTimeout)
	}
}

// endBarrierSpan closes and forgets the child span opened for succ's
// barrier wait, if tracing is enabled. A no-op when no span was armed.
func (r *run) endBarrierSpan(succ string, code codes.Code, description string) {
	span, ok := r.barrierSpans[succ]
	if !ok {
		return
	}
	delete(r.barrierSpans, succ)
	span.SetStatus(code, description)
	span.End()
}

// armBarrierTimeout sleeps for d and, unless the run ends first, wakes
// the consumer goroutine to check whether succ's barrier became ready
// in the meantime (spec §4.1).
func (r *run) armBarrierTimeout(succ string, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		r.queue.push(barrierWake{succ: succ})
	case <-r.doneCh:
	}
}

// handleBarrierWake fails succ with a barrier TimeoutError if it is
// still not ready; if another parent completed it in the meantime this
// is a no-op, since routeToSuccessor already scheduled it and already
// unwound the totalActive count armBarrierTimeout's caller added.
func (r *run) handleBarrierWake(succ string) {
	if r.barriers.IsReady(succ) {
		return
	}
	r.totalActive--
	r.barriers.DisarmTimeout(succ)
	r.metricsRec.ObserveBarrierTimeout(succ)
	err := &engine.TimeoutError{Step: succ, Duration: r.sched.registry.Steps[succ].BarrierTimeout.String(), Barrier: true}
	r.endBarrierSpan(succ, codes.Error, err.Error())
	r.journal.Append(engine.FailureEntry{Kind: engine.FailureKindStep, Source: engine.SourceFramework, Reason: engine.ReasonBarrierTimeout, Step: succ, Err: err, Message: err.Error()})
	r.emit(engine.Event{Type: engine.EventStepError, Stage: succ, NodeKind: engine.NodeStep, Payload: err.Error()})
}

// finish resolves the journal into a single outcome (spec §4.5),
// advances to PhaseTerminal, closes the run's Session exactly once, and
// emits the unique FINISH event (spec §8 invariant 2).
func (r *run) finish() {
	r.machine.Advance(runstate.PhaseTerminal)

	entries := r.journal.Entries()
	winner := failure.Resolve(entries)

	status := engine.StatusSuccess
	var finErr error
	switch {
	case r.cancelTok.Cancelled():
		status = engine.StatusCancelled
	case winner.Kind != engine.FailureKindNone:
		status = engine.StatusFailed
		if winner.Reason == engine.ReasonTimeout {
			status = engine.StatusTimeout
		}
		if winner.Err != nil {
			finErr = winner.Err
		} else if winner.Message != "" {
			finErr = errors.New(winner.Message)
		}
	}

	term := r.session.Close(time.Now(), status, finErr, string(winner.Reason))

	payload := engine.FinishPayload{
		Status:        term.Status,
		DurationS:     term.Duration.Seconds(),
		Reason:        term.Reason,
		FailureKind:   winner.Kind,
		FailureSource: winner.Source,
		FailedStep:    winner.Step,
		Errors:        failure.Records(entries),
		Metrics:       r.metricsRec.Snapshot(),
	}
	if term.Err != nil {
		payload.Error = term.Err.Error()
	}

	r.emit(engine.Event{Type: engine.EventFinish, Stage: engine.SystemStage, NodeKind: engine.NodeSystem, Payload: payload})

	if status == engine.StatusSuccess {
		r.evMgr.NotifyEnd(r.ctx, r.state, r.runContext, nil, term.Duration.Seconds())
	} else {
		notifyErr := term.Err
		if notifyErr == nil {
			notifyErr = fmt.Errorf("run ended with status %s", status)
		}
		r.evMgr.NotifyError(r.ctx, r.state, r.runContext, nil, status, notifyErr)
	}
}
