// Copyright 2024 Google LLC
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

// Provides lock implementations with optional debug utils.
package locker

import "time"

var (
	gEnableInvariantsCheck bool
	gEnableDebugMessages   bool
)

// holdWarnThreshold is how long a writer may hold a debugged lock before a
// potential deadlock is reported.
var holdWarnThreshold = 5 * time.Second

// EnableInvariantsCheck makes lockers created afterwards run their check
// function on every acquire and release.
func EnableInvariantsCheck() {
	gEnableInvariantsCheck = true
}

// EnableDebugMessages makes lockers created afterwards report writers that
// hold them for longer than holdWarnThreshold.
func EnableDebugMessages() {
	gEnableDebugMessages = true
}
