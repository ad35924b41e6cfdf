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

package flowcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/pkg/engine"
)

func buildLinearRegistry(t *testing.T) *engine.Registry {
	t.Helper()
	reg := engine.NewRegistry(nil, nil)
	require.NoError(t, reg.AddStep("a", func(ctx context.Context) (any, error) { return nil, nil }, engine.WithTo("b")))
	require.NoError(t, reg.AddStep("b", func(ctx context.Context) (any, error) { return nil, nil }))
	return reg
}

func TestEngineRunDrivesToFinish(t *testing.T) {
	eng, err := New(buildLinearRegistry(t))
	require.NoError(t, err)

	ch, err := eng.Run(context.Background(), nil, "")
	require.NoError(t, err)

	var sawFinish bool
	for ev := range ch {
		if ev.Type == engine.EventFinish {
			sawFinish = true
		}
	}
	require.True(t, sawFinish)
}

func TestEnginePlanReflectsStaticTopology(t *testing.T) {
	eng, err := New(buildLinearRegistry(t))
	require.NoError(t, err)

	plan, err := eng.Plan("")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, plan.Roots)
	require.Len(t, plan.Steps, 2)

	byName := map[string]PlanStep{}
	for _, s := range plan.Steps {
		byName[s.Name] = s
	}
	require.Equal(t, []string{"b"}, byName["a"].Targets)
	require.Equal(t, []string{"a"}, byName["b"].Parents)
	require.False(t, byName["b"].IsBarrier)
}

func TestEnginePlanRejectsUnknownStart(t *testing.T) {
	eng, err := New(buildLinearRegistry(t))
	require.NoError(t, err)

	_, err = eng.Plan("missing")
	require.Error(t, err)
}
