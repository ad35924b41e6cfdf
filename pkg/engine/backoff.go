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
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DelayedRetryPolicy is implemented by a RetryPolicy that wants its
// retries paced rather than re-dispatched back-to-back. A plain
// IntRetries has no opinion on pacing, so the scheduler only consults
// this via a type assertion and falls back to an immediate retry when a
// policy doesn't implement it.
type DelayedRetryPolicy interface {
	RetryPolicy
	NextDelay() time.Duration
}

// BackoffRetries is a RetryPolicy whose delays follow an exponential
// backoff (spec §9's "policy descriptor" leaves the pacing shape open;
// this is the one concrete choice this codebase ships).
type BackoffRetries struct {
	maxAttempts int
	b           *backoff.ExponentialBackOff
}

// NewBackoffRetries builds a BackoffRetries allowing maxAttempts total
// attempts (including the first), with delays following an exponential
// backoff.
func NewBackoffRetries(maxAttempts int) *BackoffRetries {
	return &BackoffRetries{maxAttempts: maxAttempts, b: backoff.NewExponentialBackOff()}
}

// MaxAttempts implements RetryPolicy.
func (r *BackoffRetries) MaxAttempts() int { return r.maxAttempts }

// NextDelay implements DelayedRetryPolicy. Each call advances the
// backoff's internal state, matching the library's own stateful
// NextBackOff contract.
func (r *BackoffRetries) NextDelay() time.Duration {
	return r.b.NextBackOff()
}
