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

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/pkg/engine"
)

func TestLoadGraphResolvesEmbeddedExample(t *testing.T) {
	doc, err := loadGraph("minimal")
	require.NoError(t, err)
	require.Equal(t, "minimal", doc.Name)
}

func TestLoadGraphRejectsUnknownPath(t *testing.T) {
	_, err := loadGraph("/no/such/graph.yaml")
	require.Error(t, err)
}

func TestStreamEventsStopsAfterFinish(t *testing.T) {
	ch := make(chan engine.Event, 2)
	ch <- engine.Event{Type: engine.EventStepStart, Stage: "a"}
	ch <- engine.Event{Type: engine.EventFinish, Payload: engine.FinishPayload{Status: engine.StatusSuccess}}
	close(ch)

	var buf bytes.Buffer
	payload, err := streamEvents(&buf, ch)
	require.NoError(t, err)
	require.Equal(t, engine.StatusSuccess, payload.Status)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var last engine.Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	require.Equal(t, string(engine.EventFinish), string(last.Type))

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &raw))
	require.Contains(t, raw, "run_id", "wire events must use the documented snake_case field names")
	require.Contains(t, raw, "node_kind")
	require.NotContains(t, raw, "RunID", "Go field names must not leak onto the wire")
}

func TestPlanAndRunCommandsAreRegistered(t *testing.T) {
	for _, use := range []string{"run", "plan", "examples"} {
		t.Run(use, func(t *testing.T) {
			switch use {
			case "run":
				require.Equal(t, "run <graph>", newRunCommand().Use)
			case "plan":
				require.Equal(t, "plan <graph>", newPlanCommand().Use)
			case "examples":
				require.Equal(t, "examples", newExamplesCommand().Use)
			}
		})
	}
}
