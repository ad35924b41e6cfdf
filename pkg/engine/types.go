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

// Package engine is the public surface of the flowcore execution engine:
// the data model (Event, StepConfig, directives) and the Registry used to
// declare a graph of steps. The Engine that runs it, streaming lifecycle
// Events and resolving exactly one terminal outcome, is in pkg/flowcore.
package engine

import "time"

// EventType enumerates the lifecycle events a run can emit.
type EventType string

// Event type wire values. Stable, lowercase strings per spec §6.
const (
	EventStart           EventType = "start"
	EventStepStart        EventType = "step_start"
	EventStepEnd          EventType = "step_end"
	EventStepError        EventType = "step_error"
	EventToken            EventType = "token"
	EventMapStart         EventType = "map_start"
	EventMapComplete      EventType = "map_complete"
	EventBarrierWait      EventType = "barrier_wait"
	EventBarrierRelease   EventType = "barrier_release"
	EventSuspend          EventType = "suspend"
	EventFinish           EventType = "finish"
	EventError            EventType = "error"
)

// NodeKind enumerates what kind of graph node an event's stage refers to.
type NodeKind string

const (
	NodeStep   NodeKind = "step"
	NodeMap    NodeKind = "map"
	NodeSwitch NodeKind = "switch"
	NodeSub    NodeKind = "sub"
	NodeSystem NodeKind = "system"
)

// SystemStage is the stage value used for run-level events (START,
// startup/shutdown ERROR, FINISH) that are not attributable to a step.
const SystemStage = "system"

// Event is an immutable lifecycle record. Within a run, Seq is strictly
// increasing in emission order; START has Seq==1; FINISH is last and
// unique (spec §3, §8 invariant 1).
type Event struct {
	Type               EventType      `json:"type"`
	Stage              string         `json:"stage"`
	Payload            any            `json:"payload,omitempty"`
	Timestamp          time.Duration  `json:"timestamp"` // monotonic time since the run started; JSON-encoded as integer nanoseconds
	RunID              string         `json:"run_id"`
	OriginRunID        string         `json:"origin_run_id,omitempty"`
	ParentRunID        string         `json:"parent_run_id,omitempty"`
	Seq                uint64         `json:"seq"`
	NodeKind           NodeKind       `json:"node_kind"`
	InvocationID       string         `json:"invocation_id,omitempty"`
	ParentInvocationID string         `json:"parent_invocation_id,omitempty"`
	OwnerInvocationID  string         `json:"owner_invocation_id,omitempty"`
	Attempt            int            `json:"attempt"`
	Scope              []string       `json:"scope,omitempty"`
	Meta               map[string]any `json:"meta,omitempty"`
}

// Status is the terminal status carried by a FINISH event's payload.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusTimeout      Status = "timeout"
	StatusCancelled    Status = "cancelled"
	StatusClientClosed Status = "client_closed"
)

// FinishPayload is the bit-exact FINISH payload shape from spec §6.
type FinishPayload struct {
	Status        Status            `json:"status"`
	DurationS     float64           `json:"duration_s"`
	Error         string            `json:"error,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	FailedStep    string            `json:"failed_step,omitempty"`
	FailureKind   FailureKind       `json:"failure_kind"`
	FailureSource FailureSource     `json:"failure_source"`
	Errors        []FailureRecord   `json:"errors"`
	Metrics       RuntimeMetrics    `json:"metrics"`
	UserMeta      map[string]any    `json:"user_meta,omitempty"`
}

// FailureKind is the first axis of the error taxonomy (spec §7).
type FailureKind string

const (
	FailureKindNone       FailureKind = "none"
	FailureKindValidation FailureKind = "validation"
	FailureKindStartup    FailureKind = "startup"
	FailureKindStep       FailureKind = "step"
	FailureKindShutdown   FailureKind = "shutdown"
	FailureKindInfra      FailureKind = "infra"
)

// priority returns the outcome-resolution tie-break priority from spec
// §4.5: VALIDATION(0) < STARTUP(1) < STEP(2) < SHUTDOWN(3) < INFRA(4) < NONE(inf).
func (k FailureKind) priority() int {
	switch k {
	case FailureKindValidation:
		return 0
	case FailureKindStartup:
		return 1
	case FailureKindStep:
		return 2
	case FailureKindShutdown:
		return 3
	case FailureKindInfra:
		return 4
	default:
		return int(^uint(0) >> 1) // NONE sorts last
	}
}

// Priority exposes the resolution priority of a FailureKind so the
// outcome resolver can be tested without reaching into package internals.
func Priority(k FailureKind) int { return k.priority() }

// FailureSource is the second axis of the error taxonomy (spec §7).
type FailureSource string

const (
	SourceNone        FailureSource = "none"
	SourceUserCode    FailureSource = "user_code"
	SourceExternalDep FailureSource = "external_dep"
	SourceFramework   FailureSource = "framework"
)

// FailureReason enumerates the domain-specific reason strings from spec §7.
type FailureReason string

const (
	ReasonStepError          FailureReason = "step_error"
	ReasonStartupHookError   FailureReason = "startup_hook_error"
	ReasonShutdownHookError  FailureReason = "shutdown_hook_error"
	ReasonTimeout            FailureReason = "timeout"
	ReasonBarrierTimeout     FailureReason = "barrier_timeout"
	ReasonCancelled          FailureReason = "cancelled"
	ReasonClientClosed       FailureReason = "client_closed"
	ReasonClassifierError    FailureReason = "classifier_error"
	ReasonValidationError    FailureReason = "validation_error"
	ReasonNoSteps            FailureReason = "no_steps_registered"
	ReasonEventHookError     FailureReason = "event_hook_error"
)

// FailureEntry is one recorded failure in the ExecutionLog (spec §3).
type FailureEntry struct {
	Kind    FailureKind
	Source  FailureSource
	Reason  FailureReason
	Message string
	Step    string
	Err     error
}

// FailureRecord is a diagnostic record appended to the FINISH payload's
// errors list in all outcome-resolution branches (spec §4.5).
type FailureRecord struct {
	Kind    FailureKind   `json:"kind"`
	Source  FailureSource `json:"source"`
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message"`
	Step    string        `json:"step,omitempty"`
}

// RuntimeMetrics is the in-memory snapshot produced by the
// RuntimeMetricsRecorder (spec §4.7), typically embedded in FinishPayload.
type RuntimeMetrics struct {
	QueueDepthHighWater int                        `json:"queue_depth_high_water"`
	TasksStarted        int                        `json:"tasks_started"`
	TasksCompleted      int                        `json:"tasks_completed"`
	PeakActiveTasks     int                        `json:"peak_active_tasks"`
	EventCounts         map[EventType]int          `json:"event_counts"`
	TokenCount          int                        `json:"token_count"`
	SuspendCount        int                        `json:"suspend_count"`
	StepLatency         map[string]StepLatency     `json:"step_latency"`
	BarrierStats        map[string]BarrierStats    `json:"barrier_stats"`
	MapStats            MapStats                   `json:"map_stats"`
}

// StepLatency aggregates (count, total, min, max) timing for a step name.
type StepLatency struct {
	Count  int     `json:"count"`
	TotalS float64 `json:"total_s"`
	MinS   float64 `json:"min_s"`
	MaxS   float64 `json:"max_s"`
}

// BarrierStats aggregates barrier-join statistics for one successor step.
type BarrierStats struct {
	Waits    int     `json:"waits"`
	Releases int     `json:"releases"`
	Timeouts int     `json:"timeouts"`
	TotalWaitS float64 `json:"total_wait_s"`
	MaxWaitS float64 `json:"max_wait_s"`
}

// MapStats aggregates map fan-out statistics across the whole run.
type MapStats struct {
	MapsStarted    int `json:"maps_started"`
	MapsCompleted  int `json:"maps_completed"`
	WorkersStarted int `json:"workers_started"`
	PeakWorkers    int `json:"peak_workers"`
}
