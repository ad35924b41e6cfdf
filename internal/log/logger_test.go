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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("step started", slog.String(StepIDKey, "a"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "a", entry[StepIDKey])
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	logger.Info("hello")
	require.Contains(t, buf.String(), "hello")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "error", Format: FormatJSON, Output: &buf})
	logger.Info("should not appear")
	require.Empty(t, buf.String())

	logger.Error("should appear")
	require.NotEmpty(t, buf.String())
}

func TestWithStepContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	scoped := WithStepContext(logger, "run-1", "fetch")
	scoped.Info("step_end")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "run-1", entry[RunIDKey])
	require.Equal(t, "fetch", entry[StepIDKey])
}

func TestFailureLogLineNotTimestampPrefixed(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "error", Format: FormatJSON, Output: &buf})
	logger.Error("step raised", Error(errBoom), slog.String(StepIDKey, "b"), slog.String("error_type", "*errors.errorString"), slog.String("state_type", "map[string]interface {}"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	msg, _ := entry["msg"].(string)
	require.Equal(t, "step raised", msg)
}

var errBoom = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
