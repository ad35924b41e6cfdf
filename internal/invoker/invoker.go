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

// Package invoker executes a single step function invocation: resolving
// its arguments by DI (pkg/engine.Call), bounding it by its declared
// timeout, and draining the async-generator token protocol when the step
// accepts an Emit parameter (spec §4.2, §4.3.2).
package invoker

import (
	"context"
	"time"

	"github.com/flowforge/engine/pkg/engine"
)

// Result is the outcome of one invocation attempt.
type Result struct {
	// Value is the coerced return/yield value: a Directive, or an opaque
	// payload if the step returned "any other value" (spec §3).
	Value any
	// TimedOut is true if the invocation was abandoned after Timeout
	// elapsed; the underlying goroutine is left to finish in the
	// background (Go cannot forcibly preempt it), matching the spec's
	// "the step is abandoned, not killed" guidance for non-cooperative
	// runtimes (spec §4.2 note).
	TimedOut bool
	Err      error
}

// OnToken is invoked synchronously, in the step's own goroutine, for
// every non-Directive value passed to Emit. Implementations must not
// block indefinitely; the caller is responsible for any further fan-out.
type OnToken func(value any)

// Invoke calls fn (already bound in cfg.Fn) with args resolved per desc,
// enforcing cfg.Timeout if set. For generator steps (desc.IsGenerator()),
// onToken receives every yielded non-Directive value, and the function's
// own result value is discarded in favor of the last Directive value
// yielded through Emit, or nil if none was; a non-nil error it returns
// still fails the invocation (spec §4.2: "The step
// result is the last directive value yielded, or null if none").
func Invoke(ctx context.Context, cfg *engine.StepConfig, desc *engine.Descriptor, args engine.CallArgs, onToken OnToken) Result {
	var lastDirective any
	if desc.IsGenerator() {
		args.Emit = func(v any) {
			if _, ok := v.(engine.Directive); ok {
				lastDirective = v
				return
			}
			if onToken != nil {
				onToken(v)
			}
		}
	}

	type callOutcome struct {
		value any
		err   error
	}
	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: panicToError(r)}
			}
		}()
		v, err := engine.Call(cfg.Fn, desc, args)
		done <- callOutcome{value: v, err: err}
	}()

	if cfg.Timeout <= 0 {
		out := <-done
		return finalize(desc, out.value, out.err, lastDirective, false)
	}

	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return finalize(desc, out.value, out.err, lastDirective, false)
	case <-timer.C:
		return Result{TimedOut: true, Err: &engine.TimeoutError{Step: cfg.Name, Duration: cfg.Timeout.String()}}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// finalize does NOT apply kind-specific coercion (string->Next, raw
// slice->Map, raw state->Run, switch-key resolution): those depend on the
// step's Kind and are resolved by the caller (the scheduler), which has
// access to the StepConfig. The one coercion applied here is inherent to
// the generator protocol itself: the last Directive value yielded through
// Emit, independent of kind.
func finalize(desc *engine.Descriptor, value any, err error, lastDirective any, timedOut bool) Result {
	if err != nil {
		return Result{Err: err}
	}
	if desc.IsGenerator() {
		return Result{Value: lastDirective}
	}
	return Result{Value: value}
}
