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

package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRunIDIsHexAndUnique(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	require.Len(t, a, 32)
	require.NotEqual(t, a, b)
}

func TestGeneratorEventSeqStartsAtOne(t *testing.T) {
	g := NewGenerator()
	require.Equal(t, uint64(1), g.NextEventSeq())
	require.Equal(t, uint64(2), g.NextEventSeq())
}

func TestGeneratorConcurrentSafe(t *testing.T) {
	g := NewGenerator()
	var wg sync.WaitGroup
	seen := make(chan uint64, 1000)
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- g.NextEventSeq()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for v := range seen {
		require.False(t, unique[v], "duplicate seq %d", v)
		unique[v] = true
	}
	require.Len(t, unique, 1000)
}
