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

package promexport

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/pkg/engine"
)

func TestObserverCountsRunsStarted(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg, "flowcore_test")

	o.OnPipelineStart(context.Background(), nil, nil, nil)
	o.OnPipelineStart(context.Background(), nil, nil, nil)

	require.InDelta(t, 2, testutil.ToFloat64(o.runsStarted), 0.001)
}

func TestObserverCountsEventsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg, "flowcore_test2")

	o.OnEvent(context.Background(), nil, nil, nil, engine.Event{Type: engine.EventStepStart})
	o.OnEvent(context.Background(), nil, nil, nil, engine.Event{Type: engine.EventStepStart})

	count := testutil.ToFloat64(o.eventsEmitted.WithLabelValues(string(engine.EventStepStart)))
	require.InDelta(t, 2, count, 0.001)
}

func TestObserverOnPipelineEndRecordsSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg, "flowcore_test3")

	o.OnPipelineEnd(context.Background(), nil, nil, nil, 1.5)

	count := testutil.ToFloat64(o.runsFinished.WithLabelValues(string(engine.StatusSuccess)))
	require.InDelta(t, 1, count, 0.001)
}
