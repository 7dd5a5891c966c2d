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

package common

import (
	"fmt"
	"runtime"
)

// Set with `-ldflags -X github.com/googlecloudplatform/staticd/common.staticdVersion=1.2.3`
// at build time. If not defined, "unknown" is reported.
var staticdVersion string

// GetVersion returns the bare version string of the binary.
func GetVersion() string {
	if staticdVersion == "" {
		return "unknown"
	}
	return staticdVersion
}

// GetVersionWithGo returns the version along with the Go toolchain used to
// build the binary.
func GetVersionWithGo() string {
	return fmt.Sprintf("%s (Go version %s)", GetVersion(), runtime.Version())
}
