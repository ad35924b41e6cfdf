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

// Package promexport is an optional bridge from the run event stream to
// Prometheus counters/histograms. It is a plain engine.Observer — an
// external collaborator per spec §6 — and is never consulted by the core
// engine for anything beyond the four Observer callbacks; the in-memory
// RuntimeMetrics snapshot (internal/metrics) remains the only metrics
// surface the core engine itself depends on.
package promexport

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowforge/engine/pkg/engine"
)

// Observer publishes run-level and step-level counts/durations to a
// Prometheus registry as a side channel.
type Observer struct {
	runsStarted    prometheus.Counter
	runsFinished   *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	eventsEmitted  *prometheus.CounterVec
	runDurationSec prometheus.Histogram
}

// New registers the engine's metrics under namespace ns on reg and
// returns an Observer ready to attach to a Registry via AddObserver.
func New(reg prometheus.Registerer, ns string) *Observer {
	o := &Observer{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "runs_started_total", Help: "Total pipeline runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "runs_finished_total", Help: "Total pipeline runs finished, by status.",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "step_duration_seconds", Help: "Step invocation duration.",
		}, []string{"step", "event"}),
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "events_emitted_total", Help: "Total lifecycle events emitted, by type.",
		}, []string{"event_type"}),
		runDurationSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "run_duration_seconds", Help: "Total pipeline run duration.",
		}),
	}
	reg.MustRegister(o.runsStarted, o.runsFinished, o.stepDuration, o.eventsEmitted, o.runDurationSec)
	return o
}

// OnPipelineStart implements engine.Observer.
func (o *Observer) OnPipelineStart(ctx context.Context, state, runContext any, meta map[string]any) {
	o.runsStarted.Inc()
}

// OnEvent implements engine.Observer.
func (o *Observer) OnEvent(ctx context.Context, state, runContext any, meta map[string]any, ev engine.Event) {
	o.eventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == engine.EventStepEnd || ev.Type == engine.EventStepError {
		o.stepDuration.WithLabelValues(ev.Stage, string(ev.Type)).Observe(ev.Timestamp.Seconds())
	}
}

// OnPipelineEnd implements engine.Observer.
func (o *Observer) OnPipelineEnd(ctx context.Context, state, runContext any, meta map[string]any, duration float64) {
	o.runsFinished.WithLabelValues(string(engine.StatusSuccess)).Inc()
	o.runDurationSec.Observe(duration)
}

// OnPipelineError implements engine.Observer. status carries the run's
// actual terminal status (failed/cancelled/timeout), so the exported
// breakdown doesn't bucket cancellations and timeouts as failures.
func (o *Observer) OnPipelineError(ctx context.Context, state, runContext any, meta map[string]any, status engine.Status, err error) {
	o.runsFinished.WithLabelValues(string(status)).Inc()
}
