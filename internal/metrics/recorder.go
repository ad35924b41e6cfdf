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

// Package metrics implements the RuntimeMetricsRecorder (spec §4.7): an
// in-memory-only subscriber to the event stream that accumulates queue,
// latency, barrier, and map statistics for embedding in the FINISH
// payload. It never exports anything itself — see internal/metrics/promexport
// for the optional Prometheus-backed Observer bridge.
package metrics

import (
	"sync"
	"time"

	"github.com/flowforge/engine/pkg/engine"
)

// Recorder accumulates RuntimeMetrics for one run. Safe for concurrent
// Observe calls since step completions can arrive from map worker
// goroutines.
type Recorder struct {
	mu sync.Mutex

	queueDepthHighWater int
	activeTasks         int
	peakActiveTasks     int
	tasksStarted        int
	tasksCompleted      int
	eventCounts         map[engine.EventType]int
	tokenCount          int
	suspendCount        int
	stepLatency         map[string]*latencyAcc
	barrierStats        map[string]*engine.BarrierStats
	mapStats            engine.MapStats

	barrierWaitStart map[string]time.Time
}

type latencyAcc struct {
	count int
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{
		eventCounts:      make(map[engine.EventType]int),
		stepLatency:      make(map[string]*latencyAcc),
		barrierStats:     make(map[string]*engine.BarrierStats),
		barrierWaitStart: make(map[string]time.Time),
	}
}

// ObserveQueueDepth records the current pending-task count, tracking the
// high-water mark.
func (r *Recorder) ObserveQueueDepth(depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if depth > r.queueDepthHighWater {
		r.queueDepthHighWater = depth
	}
}

// ObserveTaskStart records a task (step invocation, map worker, etc.)
// starting, tracking peak concurrent active tasks.
func (r *Recorder) ObserveTaskStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasksStarted++
	r.activeTasks++
	if r.activeTasks > r.peakActiveTasks {
		r.peakActiveTasks = r.activeTasks
	}
}

// ObserveTaskEnd records a task finishing.
func (r *Recorder) ObserveTaskEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasksCompleted++
	if r.activeTasks > 0 {
		r.activeTasks--
	}
}

// ObserveStepLatency records one completed step invocation's duration.
func (r *Recorder) ObserveStepLatency(step string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.stepLatency[step]
	if !ok {
		acc = &latencyAcc{min: d, max: d}
		r.stepLatency[step] = acc
	}
	acc.count++
	acc.total += d
	if d < acc.min {
		acc.min = d
	}
	if d > acc.max {
		acc.max = d
	}
}

// ObserveBarrierWaitStart records a successor entering BARRIER_WAIT.
func (r *Recorder) ObserveBarrierWaitStart(succ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.barrierStats[succ]
	if !ok {
		stats = &engine.BarrierStats{}
		r.barrierStats[succ] = stats
	}
	stats.Waits++
	r.barrierWaitStart[succ] = time.Now()
}

// ObserveBarrierRelease records a successor's barrier becoming ready.
func (r *Recorder) ObserveBarrierRelease(succ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.barrierStats[succ]
	if !ok {
		stats = &engine.BarrierStats{}
		r.barrierStats[succ] = stats
	}
	stats.Releases++
	if start, ok := r.barrierWaitStart[succ]; ok {
		wait := time.Since(start).Seconds()
		stats.TotalWaitS += wait
		if wait > stats.MaxWaitS {
			stats.MaxWaitS = wait
		}
		delete(r.barrierWaitStart, succ)
	}
}

// ObserveBarrierTimeout records a barrier timing out before becoming ready.
func (r *Recorder) ObserveBarrierTimeout(succ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.barrierStats[succ]
	if !ok {
		stats = &engine.BarrierStats{}
		r.barrierStats[succ] = stats
	}
	stats.Timeouts++
}

// ObserveMapStart records a map fan-out beginning with n workers.
func (r *Recorder) ObserveMapStart(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mapStats.MapsStarted++
	r.mapStats.WorkersStarted += n
	if n > r.mapStats.PeakWorkers {
		r.mapStats.PeakWorkers = n
	}
}

// ObserveMapComplete records a map fan-out's collapse.
func (r *Recorder) ObserveMapComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mapStats.MapsCompleted++
}

// ObserveEvent tallies one emitted event by type, and the TOKEN/SUSPEND
// specific counters spec §4.7 calls out by name.
func (r *Recorder) ObserveEvent(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventCounts[ev.Type]++
	switch ev.Type {
	case engine.EventToken:
		r.tokenCount++
	case engine.EventSuspend:
		r.suspendCount++
	}
}

// Snapshot returns an independent copy of the accumulated metrics,
// suitable for embedding in a FinishPayload.
func (r *Recorder) Snapshot() engine.RuntimeMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	latency := make(map[string]engine.StepLatency, len(r.stepLatency))
	for step, acc := range r.stepLatency {
		latency[step] = engine.StepLatency{
			Count:  acc.count,
			TotalS: acc.total.Seconds(),
			MinS:   acc.min.Seconds(),
			MaxS:   acc.max.Seconds(),
		}
	}
	barriers := make(map[string]engine.BarrierStats, len(r.barrierStats))
	for succ, stats := range r.barrierStats {
		barriers[succ] = *stats
	}
	counts := make(map[engine.EventType]int, len(r.eventCounts))
	for t, n := range r.eventCounts {
		counts[t] = n
	}

	return engine.RuntimeMetrics{
		QueueDepthHighWater: r.queueDepthHighWater,
		TasksStarted:        r.tasksStarted,
		TasksCompleted:      r.tasksCompleted,
		PeakActiveTasks:     r.peakActiveTasks,
		EventCounts:         counts,
		TokenCount:          r.tokenCount,
		SuspendCount:        r.suspendCount,
		StepLatency:         latency,
		BarrierStats:        barriers,
		MapStats:            r.mapStats,
	}
}
