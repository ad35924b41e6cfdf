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

package scheduler

import (
	"fmt"

	"github.com/flowforge/engine/pkg/engine"
)

// resolveDirective applies the kind-specific coercion spec §4.2 assigns
// to "the invoker": a switch step's raw return (a string included) is
// always a route key; for every other kind a plain string is Next(s);
// beyond that, a step-kind's raw return is wrapped into that kind's
// directive unless it is already one. A value already satisfying
// engine.Directive always passes through unchanged, so any step —
// regardless of kind — may explicitly return Suspend/Stop/Retry/Skip/Raise/Run.
func resolveDirective(cfg *engine.StepConfig, raw any) (any, error) {
	if _, ok := raw.(engine.Directive); ok {
		return raw, nil
	}
	if cfg.Kind == engine.KindSwitch {
		return resolveSwitch(cfg, raw)
	}
	if s, ok := raw.(string); ok {
		return engine.Next{Target: s}, nil
	}

	switch cfg.Kind {
	case engine.KindMap:
		items, ok := asItemSlice(raw)
		if !ok {
			return nil, fmt.Errorf("map step %q returned a non-iterable value of type %T", cfg.Name, raw)
		}
		target := cfg.MapTarget
		return engine.Map{Items: items, Target: target}, nil
	case engine.KindSub:
		if cfg.SubPipeline == nil {
			return nil, fmt.Errorf("sub-pipeline step %q has no SubPipeline configured", cfg.Name)
		}
		return engine.Run{Pipeline: cfg.SubPipeline, State: raw}, nil
	default:
		return raw, nil
	}
}

func resolveSwitch(cfg *engine.StepConfig, key any) (any, error) {
	if cfg.SwitchRoutes != nil {
		if target, ok := cfg.SwitchRoutes[key]; ok {
			return engine.Next{Target: target}, nil
		}
	}
	if cfg.SwitchDynamic != nil {
		if target, ok := cfg.SwitchDynamic(key); ok {
			return engine.Next{Target: target}, nil
		}
	}
	if cfg.SwitchDefault != "" {
		return engine.Next{Target: cfg.SwitchDefault}, nil
	}
	return nil, fmt.Errorf("switch step %q: no route for key %v and no default", cfg.Name, key)
}

func asItemSlice(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case []any:
		return v, true
	case nil:
		return nil, true
	}
	return nil, false
}
