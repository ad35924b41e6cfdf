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

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/internal/ids"
	"github.com/flowforge/engine/pkg/engine"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []engine.Event
	starts int
	ends   int
	errs   int
}

func (r *recordingObserver) OnPipelineStart(ctx context.Context, state, runContext any, meta map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *recordingObserver) OnEvent(ctx context.Context, state, runContext any, meta map[string]any, ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) OnPipelineEnd(ctx context.Context, state, runContext any, meta map[string]any, duration float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
}

func (r *recordingObserver) OnPipelineError(ctx context.Context, state, runContext any, meta map[string]any, status engine.Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs++
}

type panickyObserver struct{}

func (panickyObserver) OnPipelineStart(context.Context, any, any, map[string]any) { panic("start") }
func (panickyObserver) OnEvent(context.Context, any, any, map[string]any, engine.Event) {
	panic("event")
}
func (panickyObserver) OnPipelineEnd(context.Context, any, any, map[string]any, float64) {
	panic("end")
}
func (panickyObserver) OnPipelineError(context.Context, any, any, map[string]any, engine.Status, error) {
	panic("err")
}

func TestPublishStampsIncreasingSeq(t *testing.T) {
	gen := ids.NewGenerator()
	out := make(chan engine.Event, 10)
	m := New(gen, time.Now(), nil, nil, nil, out)

	m.Publish(context.Background(), engine.Event{Type: engine.EventStart}, nil, nil, nil)
	m.Publish(context.Background(), engine.Event{Type: engine.EventFinish}, nil, nil, nil)
	close(out)

	var seqs []uint64
	for ev := range out {
		seqs = append(seqs, ev.Seq)
	}
	require.Equal(t, []uint64{1, 2}, seqs)
}

func TestPublishFansOutToObservers(t *testing.T) {
	gen := ids.NewGenerator()
	out := make(chan engine.Event, 10)
	obs := &recordingObserver{}
	m := New(gen, time.Now(), nil, []engine.Observer{obs}, nil, out)

	m.Publish(context.Background(), engine.Event{Type: engine.EventStepStart}, nil, nil, nil)
	require.Len(t, obs.events, 1)
	require.Equal(t, engine.EventStepStart, obs.events[0].Type)
}

func TestPublishHookCanRewriteEvent(t *testing.T) {
	gen := ids.NewGenerator()
	out := make(chan engine.Event, 10)
	hook := func(ev engine.Event) (engine.Event, bool) {
		ev.Stage = "rewritten"
		return ev, true
	}
	m := New(gen, time.Now(), []engine.EventHook{hook}, nil, nil, out)

	ok := m.Publish(context.Background(), engine.Event{Type: engine.EventStepStart}, nil, nil, nil)
	require.True(t, ok)
	ev := <-out
	require.Equal(t, "rewritten", ev.Stage)
}

func TestPublishHookCanAbort(t *testing.T) {
	gen := ids.NewGenerator()
	out := make(chan engine.Event, 10)
	hook := func(ev engine.Event) (engine.Event, bool) { return ev, false }
	m := New(gen, time.Now(), []engine.EventHook{hook}, nil, nil, out)

	ok := m.Publish(context.Background(), engine.Event{Type: engine.EventStepStart}, nil, nil, nil)
	require.False(t, ok)
	select {
	case <-out:
		t.Fatal("aborted event should not be published")
	default:
	}
}

func TestObserverPanicIsIsolated(t *testing.T) {
	gen := ids.NewGenerator()
	out := make(chan engine.Event, 10)
	m := New(gen, time.Now(), nil, []engine.Observer{panickyObserver{}}, nil, out)

	require.NotPanics(t, func() {
		m.NotifyStart(context.Background(), nil, nil, nil)
		m.Publish(context.Background(), engine.Event{Type: engine.EventStart}, nil, nil, nil)
		m.NotifyEnd(context.Background(), nil, nil, nil, 1.0)
		m.NotifyError(context.Background(), nil, nil, nil, engine.StatusFailed, nil)
	})
}
