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

// Package events implements the EventManager (spec §4.4): it stamps every
// Event with its sequence number and timestamp, threads it through
// registered EventHooks, publishes it to the caller's channel, and fans it
// out to Observers with panic/error isolation so a misbehaving observer
// can never affect the run's outcome (spec §8 invariant 9).
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowforge/engine/internal/ids"
	"github.com/flowforge/engine/pkg/engine"
)

// Manager owns event sequencing and publication for one run.
type Manager struct {
	gen     *ids.Generator
	started time.Time
	hooks   []engine.EventHook
	observers []engine.Observer
	logger  *slog.Logger

	out chan<- engine.Event
}

// New creates a Manager that stamps events relative to started (the run's
// monotonic start instant) and publishes them onto out.
func New(gen *ids.Generator, started time.Time, hooks []engine.EventHook, observers []engine.Observer, logger *slog.Logger, out chan<- engine.Event) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{gen: gen, started: started, hooks: hooks, observers: observers, logger: logger, out: out}
}

// Publish stamps ev's Seq and Timestamp, runs it through every EventHook in
// registration order, and — unless a hook aborts it — sends it to the
// publication channel and fans it out to observers. It returns false if an
// EventHook aborted the event, which the caller (the scheduler) must treat
// as a run-ending EVENT_HOOK_ERROR failure (spec §4.4).
func (m *Manager) Publish(ctx context.Context, ev engine.Event, state, runContext any, meta map[string]any) bool {
	ev.Seq = m.gen.NextEventSeq()
	ev.Timestamp = time.Since(m.started)

	for _, hook := range m.hooks {
		next, ok := safeHook(ev, hook)
		if !ok {
			m.logger.Error("event hook rejected event", "event_type", ev.Type, "stage", ev.Stage)
			return false
		}
		ev = next
	}

	select {
	case m.out <- ev:
	case <-ctx.Done():
		return true
	}

	for _, o := range m.observers {
		m.notify(ctx, o, state, runContext, meta, ev)
	}
	return true
}

// safeHook runs a single EventHook with panic recovery, treating a panic
// the same as an explicit ok=false rejection.
func safeHook(ev engine.Event, hook engine.EventHook) (result engine.Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return hook(ev)
}

func (m *Manager) notify(ctx context.Context, o engine.Observer, state, runContext any, meta map[string]any, ev engine.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("observer panicked in OnEvent", "panic", r)
		}
	}()
	o.OnEvent(ctx, state, runContext, meta, ev)
}

// NotifyStart fans OnPipelineStart out to every observer, isolated.
func (m *Manager) NotifyStart(ctx context.Context, state, runContext any, meta map[string]any) {
	for _, o := range m.observers {
		m.safeNotifyStart(ctx, o, state, runContext, meta)
	}
}

func (m *Manager) safeNotifyStart(ctx context.Context, o engine.Observer, state, runContext any, meta map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("observer panicked in OnPipelineStart", "panic", r)
		}
	}()
	o.OnPipelineStart(ctx, state, runContext, meta)
}

// NotifyEnd fans OnPipelineEnd out to every observer, isolated.
func (m *Manager) NotifyEnd(ctx context.Context, state, runContext any, meta map[string]any, duration float64) {
	for _, o := range m.observers {
		m.safeNotifyEnd(ctx, o, state, runContext, meta, duration)
	}
}

func (m *Manager) safeNotifyEnd(ctx context.Context, o engine.Observer, state, runContext any, meta map[string]any, duration float64) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("observer panicked in OnPipelineEnd", "panic", r)
		}
	}()
	o.OnPipelineEnd(ctx, state, runContext, meta, duration)
}

// NotifyError fans OnPipelineError out to every observer, isolated.
func (m *Manager) NotifyError(ctx context.Context, state, runContext any, meta map[string]any, status engine.Status, err error) {
	for _, o := range m.observers {
		m.safeNotifyError(ctx, o, state, runContext, meta, status, err)
	}
}

func (m *Manager) safeNotifyError(ctx context.Context, o engine.Observer, state, runContext any, meta map[string]any, status engine.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("observer panicked in OnPipelineError", "panic", r)
		}
	}()
	o.OnPipelineError(ctx, state, runContext, meta, status, err)
}
