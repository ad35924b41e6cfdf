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

package engine

import (
	"context"
	"fmt"
	"reflect"
)

// Emit is the token-emission callback a step function accepts to opt into
// the async-generator protocol (spec §4.2): every call with a non-Directive
// value becomes an immediate TOKEN event; a call with a Directive value
// is captured as the step's eventual result instead.
type Emit func(any)

// ParamSource classifies where a step function parameter's argument comes
// from, mirroring the Python decorator's name/type-alias resolution from
// spec §4.2, reinterpreted for Go as pure type-driven matching since Go
// does not retain parameter names at runtime (see DESIGN.md).
type ParamSource int

const (
	SrcState ParamSource = iota
	SrcRunContext
	SrcError
	SrcStepName
	SrcEmit
	SrcUnknown
)

// Descriptor is the dependency-injection plan computed once at
// registration time for a step function's signature.
type Descriptor struct {
	sources      []ParamSource
	unknownCount int
	numOut       int
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	emitType    = reflect.TypeOf(Emit(nil))
)

// ComputeDescriptor introspects fn's signature and classifies each
// parameter. fn's first parameter must be context.Context. stateType and
// runContextType (possibly nil, meaning "no state"/"no run context"
// declared) are matched by assignability. expectedUnknowns bounds how
// many unrecognized parameters are tolerated (typically 1 for a map
// worker's item, 0 for most steps, 1 for an error handler's payload) —
// exceeding it fails step definition, per spec §4.2.
func ComputeDescriptor(fn any, stateType, runContextType reflect.Type, expectedUnknowns int) (*Descriptor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("step function must be a func, got %T", fn)
	}
	t := v.Type()
	if t.NumIn() == 0 || !t.In(0).AssignableTo(contextType) {
		return nil, fmt.Errorf("step function must accept context.Context as its first parameter")
	}
	if t.NumOut() == 0 || t.NumOut() > 2 {
		return nil, fmt.Errorf("step function must return (result) or (result, error)")
	}
	if t.NumOut() == 2 && !t.Out(1).AssignableTo(errorType) {
		return nil, fmt.Errorf("step function's second return value must be error")
	}

	desc := &Descriptor{sources: make([]ParamSource, t.NumIn()), numOut: t.NumOut()}
	// index 0 is always context.Context and is never resolved via sources.
	unknown := 0
	for i := 1; i < t.NumIn(); i++ {
		pt := t.In(i)
		switch {
		case pt == emitType:
			desc.sources[i] = SrcEmit
		case stateType != nil && pt.AssignableTo(stateType):
			desc.sources[i] = SrcState
		case runContextType != nil && pt.AssignableTo(runContextType):
			desc.sources[i] = SrcRunContext
		case pt.AssignableTo(errorType):
			desc.sources[i] = SrcError
		case pt.Kind() == reflect.String:
			desc.sources[i] = SrcStepName
		default:
			desc.sources[i] = SrcUnknown
			unknown++
		}
	}
	desc.unknownCount = unknown
	if unknown > expectedUnknowns {
		return nil, fmt.Errorf("step function has %d unrecognized parameter(s), expected at most %d", unknown, expectedUnknowns)
	}
	return desc, nil
}

// IsGenerator reports whether the descriptor found an Emit parameter.
func (d *Descriptor) IsGenerator() bool {
	for _, s := range d.sources {
		if s == SrcEmit {
			return true
		}
	}
	return false
}

// CallArgs bundles the values available to resolve a single invocation's
// arguments against a Descriptor.
type CallArgs struct {
	Ctx        context.Context
	State      any
	RunContext any
	StepName   string
	Err        error
	Item       any
	Emit       Emit
}

// Call builds the argument list from a Descriptor and CallArgs and invokes
// fn via reflection, returning its (result, error).
func Call(fn any, desc *Descriptor, args CallArgs) (any, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	in := make([]reflect.Value, t.NumIn())
	in[0] = reflect.ValueOf(args.Ctx)
	for i := 1; i < t.NumIn(); i++ {
		pt := t.In(i)
		switch desc.sources[i] {
		case SrcState:
			in[i] = valueOrZero(args.State, pt)
		case SrcRunContext:
			in[i] = valueOrZero(args.RunContext, pt)
		case SrcError:
			in[i] = valueOrZeroError(args.Err, pt)
		case SrcStepName:
			in[i] = reflect.ValueOf(args.StepName)
		case SrcEmit:
			in[i] = reflect.ValueOf(args.Emit)
		default: // SrcUnknown
			in[i] = valueOrZero(args.Item, pt)
		}
	}
	out := v.Call(in)
	var result any
	if len(out) > 0 {
		result = out[0].Interface()
	}
	var err error
	if len(out) > 1 && !out[1].IsNil() {
		err = out[1].Interface().(error)
	}
	return result, err
}

func valueOrZero(val any, target reflect.Type) reflect.Value {
	if val == nil {
		return reflect.Zero(target)
	}
	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(target) {
		return rv
	}
	return reflect.Zero(target)
}

func valueOrZeroError(err error, target reflect.Type) reflect.Value {
	if err == nil {
		return reflect.Zero(target)
	}
	return reflect.ValueOf(err)
}
