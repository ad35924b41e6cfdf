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

// Package failure implements the FailureJournal and OutcomeResolver from
// spec §4.5: every failure encountered during a run is classified and
// appended to an ordered journal, and at FINISH time the journal is
// collapsed into a single (kind, source, reason) outcome by priority,
// ties broken by insertion order.
package failure

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/flowforge/engine/pkg/engine"
)

// externalDepPrefixes lists error-message fragments, matched anywhere in
// the message, that the built-in classifier treats as coming from an
// external dependency rather than user step code, mirroring the teacher's connector-error conventions
// (e.g. "connector error:", "rpc error:").
var externalDepPrefixes = []string{
	"connector error:",
	"rpc error:",
	"dial tcp",
	"connection refused",
	"context deadline exceeded",
}

// Classify assigns a FailureSource to err: the optional user classifier
// is tried first (spec §4.5), then the built-in fragment allow-list, then
// SourceUserCode as the default. A classifier that panics or returns
// ok=false is ignored, and a CLASSIFIER_ERROR diagnostic entry should be
// appended by the caller (the scheduler holds the journal, not this
// function, since only it knows the current step name).
func Classify(ctx context.Context, err error, classifier engine.SourceClassifier) (source engine.FailureSource, classifierFailed bool) {
	if classifier != nil {
		source, ok, failed := safeClassify(ctx, err, classifier)
		if failed || !ok {
			return builtinClassify(err), true
		}
		return source, false
	}
	return builtinClassify(err), false
}

func safeClassify(ctx context.Context, err error, classifier engine.SourceClassifier) (source engine.FailureSource, ok bool, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			failed = true
		}
	}()
	source, ok = classifier(ctx, err)
	return source, ok, false
}

func builtinClassify(err error) engine.FailureSource {
	if err == nil {
		return engine.SourceNone
	}
	msg := err.Error()
	for _, prefix := range externalDepPrefixes {
		if strings.HasPrefix(msg, prefix) || strings.Contains(msg, prefix) {
			return engine.SourceExternalDep
		}
	}
	var stepErr *engine.StepError
	if errors.As(err, &stepErr) && stepErr.Source != "" {
		return stepErr.Source
	}
	return engine.SourceUserCode
}

// Journal accumulates FailureEntry records for one run, in the order they
// occurred. It is safe for concurrent append since map-step workers may
// fail in parallel (spec §3 Ownership carve-out for the journal).
type Journal struct {
	mu      sync.Mutex
	entries []engine.FailureEntry
}

// New creates an empty Journal.
func New() *Journal { return &Journal{} }

// Append records a failure entry.
func (j *Journal) Append(e engine.FailureEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

// Entries returns a snapshot copy of the journal in insertion order.
func (j *Journal) Entries() []engine.FailureEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]engine.FailureEntry(nil), j.entries...)
}

// Empty reports whether nothing has been recorded.
func (j *Journal) Empty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries) == 0
}

// Resolve collapses the journal into the single outcome carried by the
// FINISH event (spec §4.5): the entry with the lowest FailureKind
// priority wins, ties broken by insertion order (earliest wins). Resolve
// on an empty journal returns a FailureKindNone/SourceNone zero entry,
// meaning the run succeeded.
func Resolve(entries []engine.FailureEntry) engine.FailureEntry {
	if len(entries) == 0 {
		return engine.FailureEntry{Kind: engine.FailureKindNone, Source: engine.SourceNone}
	}
	winner := entries[0]
	winnerPriority := engine.Priority(winner.Kind)
	for _, e := range entries[1:] {
		if p := engine.Priority(e.Kind); p < winnerPriority {
			winner = e
			winnerPriority = p
		}
	}
	return winner
}

// Records converts entries into the FailureRecord diagnostics list
// embedded in every FinishPayload (spec §4.5: "errors" is populated in
// all outcome-resolution branches, including success).
func Records(entries []engine.FailureEntry) []engine.FailureRecord {
	out := make([]engine.FailureRecord, 0, len(entries))
	for _, e := range entries {
		msg := e.Message
		if msg == "" && e.Err != nil {
			msg = e.Err.Error()
		}
		out = append(out, engine.FailureRecord{Kind: e.Kind, Source: e.Source, Reason: e.Reason, Message: msg, Step: e.Step})
	}
	return out
}
