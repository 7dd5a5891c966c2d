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

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/googlecloudplatform/staticd/internal/logger"
	"github.com/googlecloudplatform/staticd/internal/util"
)

const (
	notFoundPage = "404.html"
	notFoundBody = "404: File not found"
)

// FileServer answers requests with files below a document root. Paths that
// do not name a regular file get the not-found page from the errors
// directory.
type FileServer struct {
	root   string
	errors string
}

func NewFileServer(root, errors string) *FileServer {
	return &FileServer{
		root:   util.TrimTrailingSlashes(root),
		errors: util.TrimTrailingSlashes(errors),
	}
}

// Resolve maps a URL path to a file below the document root. The path is
// cleaned first so that ".." elements cannot climb out of the root.
func (fs *FileServer) Resolve(urlPath string) string {
	return fs.root + filepath.FromSlash(path.Clean("/"+urlPath))
}

func (fs *FileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := fs.Resolve(r.URL.Path)
	if util.IsRegularFile(name) {
		err := serveFile(w, name, http.StatusOK)
		if err == nil {
			return
		}
		logger.Warnf("http: serving %q: %v", name, err)
	}
	fs.serveNotFound(w)
}

func (fs *FileServer) serveNotFound(w http.ResponseWriter) {
	page := filepath.Join(fs.errors, notFoundPage)
	if util.IsRegularFile(page) {
		err := serveFile(w, page, http.StatusNotFound)
		if err == nil {
			return
		}
		logger.Warnf("http: serving %q: %v", page, err)
	}

	w.Header().Set("Content-Type", defaultContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(notFoundBody)))
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, notFoundBody)
}

// serveFile streams name with the given status. An error is returned only
// if nothing has been written to w yet.
func serveFile(w http.ResponseWriter, name string, status int) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	h := w.Header()
	h.Set("Content-Type", GuessContentType(name))
	h.Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	w.WriteHeader(status)
	if _, err := io.Copy(w, f); err != nil {
		logger.Debugf("http: copying %q: %v", name, err)
	}
	return nil
}
