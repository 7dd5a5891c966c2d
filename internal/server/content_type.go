// Copyright 2025 Google LLC
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

package server

import "strings"

const defaultContentType = "text/plain"

var contentTypes = map[string]string{
	"txt":  "text/plain",
	"css":  "text/css",
	"js":   "application/x-javascript",
	"html": "text/html",
	"htm":  "text/htm",
	"gif":  "image/gif",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

// GuessContentType maps the extension of name to a MIME type. The extension
// is whatever follows the last '.' as long as no '/' comes after it. Unknown
// or missing extensions map to text/plain.
func GuessContentType(name string) string {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || strings.IndexByte(name[dot:], '/') >= 0 {
		return defaultContentType
	}
	if ct, ok := contentTypes[strings.ToLower(name[dot+1:])]; ok {
		return ct
	}
	return defaultContentType
}
