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

package invoker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/pkg/engine"
)

func descFor(t *testing.T, fn any, expectedUnknowns int) *engine.Descriptor {
	t.Helper()
	desc, err := engine.ComputeDescriptor(fn, nil, nil, expectedUnknowns)
	require.NoError(t, err)
	return desc
}

func TestInvokeReturnsRawValueUncoerced(t *testing.T) {
	// Kind-specific coercion (string->Next, switch-key resolution, etc.)
	// is applied by the scheduler, not the invoker, since it depends on
	// StepConfig.Kind.
	fn := func(ctx context.Context) (any, error) { return "next_step", nil }
	desc := descFor(t, fn, 0)
	cfg := &engine.StepConfig{Name: "s", Fn: fn}

	res := Invoke(context.Background(), cfg, desc, engine.CallArgs{Ctx: context.Background()}, nil)
	require.NoError(t, res.Err)
	require.Equal(t, "next_step", res.Value)
}

func TestInvokePropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	fn := func(ctx context.Context) (any, error) { return nil, wantErr }
	desc := descFor(t, fn, 0)
	cfg := &engine.StepConfig{Name: "s", Fn: fn}

	res := Invoke(context.Background(), cfg, desc, engine.CallArgs{Ctx: context.Background()}, nil)
	require.ErrorIs(t, res.Err, wantErr)
}

func TestInvokeRecoversPanic(t *testing.T) {
	fn := func(ctx context.Context) (any, error) { panic("kaboom") }
	desc := descFor(t, fn, 0)
	cfg := &engine.StepConfig{Name: "s", Fn: fn}

	res := Invoke(context.Background(), cfg, desc, engine.CallArgs{Ctx: context.Background()}, nil)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "kaboom")
}

func TestInvokeTimesOut(t *testing.T) {
	fn := func(ctx context.Context) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "late", nil
	}
	desc := descFor(t, fn, 0)
	cfg := &engine.StepConfig{Name: "s", Fn: fn, Timeout: 5 * time.Millisecond}

	res := Invoke(context.Background(), cfg, desc, engine.CallArgs{Ctx: context.Background()}, nil)
	require.True(t, res.TimedOut)
	var timeoutErr *engine.TimeoutError
	require.ErrorAs(t, res.Err, &timeoutErr)
}

func TestInvokeGeneratorEmitsTokensAndCapturesLastDirective(t *testing.T) {
	fn := func(ctx context.Context, emit engine.Emit) (any, error) {
		emit("tok1")
		emit("tok2")
		emit(engine.Next{Target: "done"})
		return "ignored", nil
	}
	desc, err := engine.ComputeDescriptor(fn, nil, nil, 0)
	require.NoError(t, err)
	require.True(t, desc.IsGenerator())

	cfg := &engine.StepConfig{Name: "gen", Fn: fn}
	var tokens []any
	res := Invoke(context.Background(), cfg, desc, engine.CallArgs{Ctx: context.Background()}, func(v any) {
		tokens = append(tokens, v)
	})
	require.NoError(t, res.Err)
	require.Equal(t, []any{"tok1", "tok2"}, tokens)
	require.Equal(t, engine.Next{Target: "done"}, res.Value)
}

func TestInvokeGeneratorWithNoDirectiveYieldedReturnsNil(t *testing.T) {
	fn := func(ctx context.Context, emit engine.Emit) (any, error) {
		emit("only a token")
		return nil, nil
	}
	desc, err := engine.ComputeDescriptor(fn, nil, nil, 0)
	require.NoError(t, err)

	cfg := &engine.StepConfig{Name: "gen", Fn: fn}
	res := Invoke(context.Background(), cfg, desc, engine.CallArgs{Ctx: context.Background()}, func(any) {})
	require.NoError(t, res.Err)
	require.Nil(t, res.Value)
}

func TestInvokeMapWorkerUnknownParamReceivesItem(t *testing.T) {
	type item struct{ N int }
	fn := func(ctx context.Context, it item) (any, error) { return it.N * 2, nil }
	desc, err := engine.ComputeDescriptor(fn, nil, nil, 1)
	require.NoError(t, err)

	cfg := &engine.StepConfig{Name: "worker", Fn: fn, Kind: engine.KindMap}
	res := Invoke(context.Background(), cfg, desc, engine.CallArgs{Ctx: context.Background(), Item: item{N: 21}}, nil)
	require.NoError(t, res.Err)
	require.Equal(t, 42, res.Value)
}
