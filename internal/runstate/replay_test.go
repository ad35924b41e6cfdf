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

package runstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/pkg/engine"
)

func TestReplaySummarizesFinishPayload(t *testing.T) {
	payload := engine.FinishPayload{
		Status:      engine.StatusFailed,
		DurationS:   1.5,
		FailedStep:  "fetch",
		FailureKind: engine.FailureKindStep,
		Errors: []engine.FailureRecord{
			{Kind: engine.FailureKindStep, Source: engine.SourceUserCode, Reason: engine.ReasonStepError, Message: "boom", Step: "fetch"},
		},
	}

	summary := Replay(payload)
	require.Equal(t, engine.StatusFailed, summary.Status)
	require.Equal(t, "fetch", summary.FailedStep)
	require.Len(t, summary.Errors, 1)
	require.Contains(t, summary.String(), "boom")
	require.Contains(t, summary.String(), "failed_step=fetch")
}

func TestReplayOfSuccessfulRunHasNoErrors(t *testing.T) {
	summary := Replay(engine.FinishPayload{Status: engine.StatusSuccess, DurationS: 0.2})
	require.Empty(t, summary.Errors)
	require.Equal(t, "status=success duration=0.200s", summary.String())
}
