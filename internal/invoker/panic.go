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

package invoker

import "fmt"

// panicToError converts a recovered step-function panic into an error, so
// a user step panicking is classified identically to one returning an
// error (spec §7: both are STEP-kind, USER_CODE-source failures).
func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("step panicked: %w", err)
	}
	return fmt.Errorf("step panicked: %v", r)
}
