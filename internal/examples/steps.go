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

package examples

import (
	"context"
	"time"

	"github.com/flowforge/engine/internal/graphconfig"
)

// Steps returns the Go implementations behind the step names used by the
// embedded example graphs, keyed the way graphconfig.Build expects. A
// demonstration CLI has no real upstream services to call, so each
// implementation just does enough to make its graph's routing and timing
// observable (a map step that actually fans out over several items, a
// barrier pair that actually races).
func Steps() graphconfig.Steps {
	return graphconfig.Steps{
		"hello": func(ctx context.Context) (any, error) {
			return "hello, world", nil
		},

		"fetch": func(ctx context.Context) (any, error) {
			return []any{"item-1", "item-2", "item-3"}, nil
		},
		"fan": func(ctx context.Context) (any, error) {
			return []any{"item-1", "item-2", "item-3"}, nil
		},
		"worker": func(ctx context.Context, item any) (any, error) {
			return map[string]any{"processed": item}, nil
		},
		"report": func(ctx context.Context) (any, error) {
			return "batch processed", nil
		},

		"left": func(ctx context.Context) (any, error) {
			return map[string]any{"branch": "left"}, nil
		},
		"right": func(ctx context.Context) (any, error) {
			time.Sleep(10 * time.Millisecond)
			return map[string]any{"branch": "right"}, nil
		},
		"join": func(ctx context.Context) (any, error) {
			return "joined", nil
		},
	}
}
