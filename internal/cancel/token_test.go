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

package cancel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckpointBeforeCancel(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Checkpoint())
	require.False(t, tok.Cancelled())
}

func TestCancelThenCheckpoint(t *testing.T) {
	tok := New()
	tok.Cancel("shutting down")
	err := tok.Checkpoint()
	require.Error(t, err)
	require.Equal(t, "shutting down", err.Error())
	require.True(t, tok.Cancelled())
}

func TestCancelIsOneShot(t *testing.T) {
	tok := New()
	tok.Cancel("first")
	tok.Cancel("second")
	err := tok.Checkpoint()
	require.Equal(t, "first", err.Error())
}

func TestDoneChannelClosesOnCancel(t *testing.T) {
	tok := New()
	select {
	case <-tok.Done():
		t.Fatal("done channel should not be closed yet")
	default:
	}
	tok.Cancel("x")
	select {
	case <-tok.Done():
	default:
		t.Fatal("done channel should be closed after cancel")
	}
}
