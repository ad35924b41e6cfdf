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
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/pkg/engine"
)

func drain(t *testing.T, ch <-chan engine.Event) []engine.Event {
	t.Helper()
	var events []engine.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func lastFinish(t *testing.T, events []engine.Event) engine.FinishPayload {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == engine.EventFinish {
			p, ok := events[i].Payload.(engine.FinishPayload)
			require.True(t, ok, "FINISH payload has unexpected type %T", events[i].Payload)
			return p
		}
	}
	t.Fatal("no FINISH event observed")
	return engine.FinishPayload{}
}

func countType(events []engine.Event, typ engine.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestRunLinearTwoStepSuccess(t *testing.T) {
	reg := engine.NewRegistry(nil, nil)
	var order []string
	require.NoError(t, reg.AddStep("a", func(ctx context.Context) (any, error) {
		order = append(order, "a")
		return "b", nil
	}, engine.WithTo("b")))
	require.NoError(t, reg.AddStep("b", func(ctx context.Context) (any, error) {
		order = append(order, "b")
		return nil, nil
	}))

	sched, err := New(reg, nil, nil)
	require.NoError(t, err)

	ch, err := sched.Run(context.Background(), nil, "")
	require.NoError(t, err)
	events := drain(t, ch)

	require.Equal(t, []string{"a", "b"}, order)
	payload := lastFinish(t, events)
	require.Equal(t, engine.StatusSuccess, payload.Status)
	require.Equal(t, 1, countType(events, engine.EventFinish))
	require.Equal(t, engine.EventStart, events[0].Type)
	require.Equal(t, uint64(1), events[0].Seq)
}

func TestRunSwitchFallsBackToDefault(t *testing.T) {
	reg := engine.NewRegistry(nil, nil)
	var reached string
	require.NoError(t, reg.AddStep("route", func(ctx context.Context) (any, error) {
		return "unknown_key", nil
	}, engine.WithSwitchRoutes(map[any]string{"known": "a"}), engine.WithSwitchDefault("b")))
	require.NoError(t, reg.AddStep("a", func(ctx context.Context) (any, error) { reached = "a"; return nil, nil }))
	require.NoError(t, reg.AddStep("b", func(ctx context.Context) (any, error) { reached = "b"; return nil, nil }))

	sched, err := New(reg, nil, nil)
	require.NoError(t, err)
	ch, err := sched.Run(context.Background(), nil, "")
	require.NoError(t, err)
	events := drain(t, ch)

	require.Equal(t, "b", reached)
	require.Equal(t, engine.StatusSuccess, lastFinish(t, events).Status)
}

func TestRunMapFanOutOfThree(t *testing.T) {
	reg := engine.NewRegistry(nil, nil)
	var doubled int64
	require.NoError(t, reg.AddStep("fan", func(ctx context.Context) (any, error) {
		return []any{1, 2, 3}, nil
	}, engine.WithMapTarget("worker")))
	require.NoError(t, reg.AddStep("worker", func(ctx context.Context, item int) (any, error) {
		atomic.AddInt64(&doubled, int64(item*2))
		return nil, nil
	}))

	sched, err := New(reg, nil, nil)
	require.NoError(t, err)
	ch, err := sched.Run(context.Background(), nil, "")
	require.NoError(t, err)
	events := drain(t, ch)

	require.Equal(t, int64(12), atomic.LoadInt64(&doubled))
	require.Equal(t, 1, countType(events, engine.EventMapStart))
	require.Equal(t, 1, countType(events, engine.EventMapComplete))
	require.Equal(t, 4, countType(events, engine.EventStepStart)) // the fan step plus its 3 workers
	require.Equal(t, engine.StatusSuccess, lastFinish(t, events).Status)
}

func TestRunBarrierTimesOutWhenOneParentNeverCompletes(t *testing.T) {
	reg := engine.NewRegistry(nil, nil)
	// b only suspends once a's completion has armed join's barrier, so b
	// never reaches join whichever worker goroutine finishes first.
	armed := make(chan struct{})
	reg.AddEventHook(func(ev engine.Event) (engine.Event, bool) {
		if ev.Type == engine.EventBarrierWait {
			close(armed)
		}
		return ev, true
	})
	require.NoError(t, reg.AddStep("a", func(ctx context.Context) (any, error) { return nil, nil }, engine.WithTo("join")))
	require.NoError(t, reg.AddStep("b", func(ctx context.Context) (any, error) {
		select {
		case <-armed:
		case <-time.After(time.Second):
		}
		return engine.Suspend{Reason: "never finishes this branch"}, nil
	}, engine.WithTo("join")))
	require.NoError(t, reg.AddStep("join", func(ctx context.Context) (any, error) { return nil, nil },
		engine.WithBarrierTimeout(20*time.Millisecond)))

	sched, err := New(reg, nil, nil)
	require.NoError(t, err)
	ch, err := sched.Run(context.Background(), nil, "")
	require.NoError(t, err)
	events := drain(t, ch)

	require.Equal(t, 1, countType(events, engine.EventBarrierWait))
	payload := lastFinish(t, events)
	require.Equal(t, engine.FailureKindStep, payload.FailureKind)
	require.Equal(t, string(engine.ReasonBarrierTimeout), payload.Reason)
}

func TestRunLocalHandlerRecoversStepError(t *testing.T) {
	reg := engine.NewRegistry(nil, nil)
	var recovered bool
	require.NoError(t, reg.AddStep("risky", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}, engine.WithTo("next"), engine.WithOnError(func(ctx context.Context, err error) (any, error) {
		recovered = true
		return "next", nil
	})))
	require.NoError(t, reg.AddStep("next", func(ctx context.Context) (any, error) { return nil, nil }))

	sched, err := New(reg, nil, nil)
	require.NoError(t, err)
	ch, err := sched.Run(context.Background(), nil, "")
	require.NoError(t, err)
	events := drain(t, ch)

	require.True(t, recovered)
	payload := lastFinish(t, events)
	require.Equal(t, engine.StatusSuccess, payload.Status)
	require.Equal(t, 0, countType(events, engine.EventStepError))
}

func TestRunSuspendStopsSchedulingFurtherWork(t *testing.T) {
	reg := engine.NewRegistry(nil, nil)
	var afterReached bool
	require.NoError(t, reg.AddStep("pause", func(ctx context.Context) (any, error) {
		return engine.Suspend{Reason: "waiting on human approval"}, nil
	}, engine.WithTo("after")))
	require.NoError(t, reg.AddStep("after", func(ctx context.Context) (any, error) {
		afterReached = true
		return nil, nil
	}))

	sched, err := New(reg, nil, nil)
	require.NoError(t, err)
	ch, err := sched.Run(context.Background(), nil, "")
	require.NoError(t, err)
	events := drain(t, ch)

	require.False(t, afterReached)
	require.Equal(t, 1, countType(events, engine.EventSuspend))
	require.Equal(t, engine.StatusSuccess, lastFinish(t, events).Status)
}

func TestRunNoStepsRegisteredFastPath(t *testing.T) {
	reg := engine.NewRegistry(nil, nil)
	sched, err := New(reg, nil, nil)
	require.NoError(t, err)

	ch, err := sched.Run(context.Background(), nil, "")
	require.NoError(t, err)
	events := drain(t, ch)

	payload := lastFinish(t, events)
	require.Equal(t, string(engine.ReasonNoSteps), payload.Reason)
	require.Equal(t, engine.FailureKindValidation, payload.FailureKind)
}

func TestRunStartupHookFailureSkipsExecutionEntirely(t *testing.T) {
	reg := engine.NewRegistry(nil, nil)
	var stepRan bool
	reg.AddStartupHook(func(ctx context.Context, state, runContext any) error {
		return errors.New("db unreachable")
	})
	require.NoError(t, reg.AddStep("a", func(ctx context.Context) (any, error) {
		stepRan = true
		return nil, nil
	}))

	sched, err := New(reg, nil, nil)
	require.NoError(t, err)
	ch, err := sched.Run(context.Background(), nil, "")
	require.NoError(t, err)
	events := drain(t, ch)

	require.False(t, stepRan)
	payload := lastFinish(t, events)
	require.Equal(t, engine.FailureKindStartup, payload.FailureKind)
	require.Equal(t, string(engine.ReasonStartupHookError), payload.Reason)
}

func TestRunContextCancellationSurfacesAsCancelled(t *testing.T) {
	reg := engine.NewRegistry(nil, nil)
	started := make(chan struct{})
	require.NoError(t, reg.AddStep("slow", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	sched, err := New(reg, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := sched.Run(ctx, nil, "")
	require.NoError(t, err)

	<-started
	cancel()
	events := drain(t, ch)

	payload := lastFinish(t, events)
	require.Equal(t, engine.StatusCancelled, payload.Status)
}

func TestRunStateAndRunContextDI(t *testing.T) {
	type myState struct{ Counter int }
	state := &myState{}
	reg := engine.NewRegistry(reflect.TypeOf(state), nil)
	require.NoError(t, reg.AddStep("incr", func(ctx context.Context, s *myState) (any, error) {
		s.Counter++
		return nil, nil
	}))

	sched, err := New(reg, nil, nil)
	require.NoError(t, err)
	ch, err := sched.Run(context.Background(), state, "")
	require.NoError(t, err)
	drain(t, ch)

	require.Equal(t, 1, state.Counter)
}

func TestDrainRejectsNewRunsButLetsInFlightFinish(t *testing.T) {
	reg := engine.NewRegistry(nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, reg.AddStep("slow", func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}))

	sched, err := New(reg, nil, nil)
	require.NoError(t, err)

	ch, err := sched.Run(context.Background(), nil, "")
	require.NoError(t, err)
	<-started

	drainDone := make(chan error, 1)
	go func() { drainDone <- sched.Drain(context.Background()) }()

	require.Eventually(t, func() bool {
		_, err := sched.Run(context.Background(), nil, "")
		return errors.Is(err, ErrDraining)
	}, time.Second, time.Millisecond)

	close(release)
	events := drain(t, ch)
	require.Equal(t, engine.StatusSuccess, lastFinish(t, events).Status)
	require.NoError(t, <-drainDone)
}
