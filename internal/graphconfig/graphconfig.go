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

// Package graphconfig loads a declarative YAML topology into an
// engine.Registry. It is a convenience loader over the registry's
// code-first API: step bodies cannot be expressed in YAML, so the
// document only declares names, kind, routing, and timing, and the
// caller supplies the Go functions behind each name via a Steps map
// (the way the teacher binds step IDs in a workflow Definition to
// resolved runtime implementations).
package graphconfig

import (
	"fmt"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowforge/engine/pkg/engine"
)

// Document is the top-level shape of a graph YAML file.
type Document struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Steps       []StepDoc `yaml:"steps"`
}

// StepDoc declares one node of the graph. Kind is inferred the same way
// engine.StepOption inference works: setting MapTarget implies "map",
// setting SwitchRoutes/SwitchDefault implies "switch", an explicit Kind
// is only needed to force a plain "step" with no routing fields set.
type StepDoc struct {
	Name             string            `yaml:"name"`
	Kind             string            `yaml:"kind,omitempty"` // step|map|switch|sub
	To               []string          `yaml:"to,omitempty"`
	MapTarget        string            `yaml:"map_target,omitempty"`
	SwitchRoutes     map[string]string `yaml:"switch_routes,omitempty"`
	SwitchDefault    string            `yaml:"switch_default,omitempty"`
	SubPipeline      string            `yaml:"sub_pipeline,omitempty"`
	TimeoutMS        int               `yaml:"timeout_ms,omitempty"`
	BarrierTimeoutMS int               `yaml:"barrier_timeout_ms,omitempty"`
	Retries          int               `yaml:"retries,omitempty"`
}

// Parse decodes a graph YAML document. It does not validate step names
// against an implementation map; call Build for that.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("graphconfig: parse: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("graphconfig: name is required")
	}
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("graphconfig: at least one step is required")
	}
	seen := make(map[string]bool, len(doc.Steps))
	for _, s := range doc.Steps {
		if s.Name == "" {
			return nil, fmt.Errorf("graphconfig: step name is required")
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("graphconfig: duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return &doc, nil
}

// Steps maps a step name declared in the document to its Go
// implementation, the signature engine.Registry.AddStep expects.
type Steps map[string]any

// SubPipelines resolves a sub-pipeline step's sub_pipeline name to an
// already-built Registry, for wiring nested graphs (spec §3 KindSub).
type SubPipelines map[string]*engine.Registry

// Build constructs an engine.Registry from the document, binding each
// declared step name to its Go implementation in impls. It fails
// immediately (mirroring AddStep's own fail-fast contract) if a
// document step has no matching implementation, or references an
// undeclared sub-pipeline.
func Build(doc *Document, stateType, runContextType reflect.Type, impls Steps, subs SubPipelines) (*engine.Registry, error) {
	reg := engine.NewRegistry(stateType, runContextType)

	for _, s := range doc.Steps {
		fn, ok := impls[s.Name]
		if !ok {
			return nil, fmt.Errorf("graphconfig: step %q has no registered implementation", s.Name)
		}

		opts := []engine.StepOption{}
		if len(s.To) > 0 {
			opts = append(opts, engine.WithTo(s.To...))
		}
		if s.TimeoutMS > 0 {
			opts = append(opts, engine.WithTimeout(time.Duration(s.TimeoutMS)*time.Millisecond))
		}
		if s.BarrierTimeoutMS > 0 {
			opts = append(opts, engine.WithBarrierTimeout(time.Duration(s.BarrierTimeoutMS)*time.Millisecond))
		}
		if s.Retries > 0 {
			opts = append(opts, engine.WithRetries(s.Retries))
		}
		if s.MapTarget != "" {
			opts = append(opts, engine.WithMapTarget(s.MapTarget))
		}
		if len(s.SwitchRoutes) > 0 {
			routes := make(map[any]string, len(s.SwitchRoutes))
			for k, v := range s.SwitchRoutes {
				routes[k] = v
			}
			opts = append(opts, engine.WithSwitchRoutes(routes))
		}
		if s.SwitchDefault != "" {
			opts = append(opts, engine.WithSwitchDefault(s.SwitchDefault))
		}
		if s.SubPipeline != "" {
			sub, ok := subs[s.SubPipeline]
			if !ok {
				return nil, fmt.Errorf("graphconfig: step %q references undeclared sub-pipeline %q", s.Name, s.SubPipeline)
			}
			opts = append(opts, engine.WithSubPipeline(sub))
		}
		if s.Kind != "" {
			var k engine.Kind
			switch s.Kind {
			case "step":
				k = engine.KindStep
			case "map":
				k = engine.KindMap
			case "switch":
				k = engine.KindSwitch
			case "sub":
				k = engine.KindSub
			default:
				return nil, fmt.Errorf("graphconfig: step %q has unknown kind %q", s.Name, s.Kind)
			}
			opts = append(opts, engine.WithKind(k))
		}

		if err := reg.AddStep(s.Name, fn, opts...); err != nil {
			return nil, fmt.Errorf("graphconfig: step %q: %w", s.Name, err)
		}
	}

	return reg, nil
}
