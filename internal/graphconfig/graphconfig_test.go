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

package graphconfig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: sample
description: a tiny linear graph
steps:
  - name: a
    to: [b]
    timeout_ms: 500
  - name: b
    retries: 2
`

func TestParseAndBuild(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "sample", doc.Name)
	require.Len(t, doc.Steps, 2)

	impls := Steps{
		"a": func(ctx context.Context) (any, error) { return nil, nil },
		"b": func(ctx context.Context) (any, error) { return nil, nil },
	}
	reg, err := Build(doc, nil, nil, impls, nil)
	require.NoError(t, err)
	require.Contains(t, reg.Steps, "a")
	require.Contains(t, reg.Steps, "b")
	require.Equal(t, []string{"b"}, reg.Steps["a"].Targets)
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - name: a\n"))
	require.Error(t, err)
}

func TestParseRejectsDuplicateStepNames(t *testing.T) {
	_, err := Parse([]byte("name: dup\nsteps:\n  - name: a\n  - name: a\n"))
	require.Error(t, err)
}

func TestBuildFailsOnMissingImplementation(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	_, err = Build(doc, nil, nil, Steps{"a": func(ctx context.Context) (any, error) { return nil, nil }}, nil)
	require.Error(t, err)
}

func TestBuildWiresSwitchAndMap(t *testing.T) {
	doc, err := Parse([]byte(`
name: routed
steps:
  - name: route
    switch_routes: {"x": "left"}
    switch_default: right
  - name: left
  - name: right
  - name: fan
    map_target: worker
  - name: worker
`))
	require.NoError(t, err)

	noop := func(ctx context.Context) (any, error) { return nil, nil }
	impls := Steps{
		"route": noop, "left": noop, "right": noop, "fan": noop,
		"worker": func(ctx context.Context, item any) (any, error) { return nil, nil },
	}
	reg, err := Build(doc, nil, nil, impls, nil)
	require.NoError(t, err)
	require.Equal(t, "right", reg.Steps["route"].SwitchDefault)
	require.Equal(t, "worker", reg.Steps["fan"].MapTarget)
}
