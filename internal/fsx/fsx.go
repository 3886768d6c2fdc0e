// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fsx provides filesystem operations rooted at a base directory, so
// agent workspaces cannot escape their data dir.
package fsx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Root confines file operations beneath a base path.
type Root struct {
	base string
}

// NewRoot creates the base directory and returns the rooted accessor.
func NewRoot(base string) (*Root, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolving base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating base dir: %w", err)
	}
	return &Root{base: abs}, nil
}

// Base returns the absolute base path.
func (r *Root) Base() string { return r.base }

// resolve joins rel beneath the base, rejecting escapes.
func (r *Root) resolve(rel string) (string, error) {
	joined := filepath.Join(r.base, rel)
	if joined != r.base && !strings.HasPrefix(joined, r.base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory", rel)
	}
	return joined, nil
}

// ReadFile reads a file relative to the base.
func (r *Root) ReadFile(rel string) ([]byte, error) {
	path, err := r.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile writes a file relative to the base, creating parent directories.
func (r *Root) WriteFile(rel string, data []byte) error {
	path, err := r.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// AppendFile appends to a file relative to the base, creating it if needed.
func (r *Root) AppendFile(rel string, data []byte) error {
	path, err := r.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// MkdirAll creates a directory tree relative to the base.
func (r *Root) MkdirAll(rel string) error {
	path, err := r.resolve(rel)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

// Exists reports whether a path exists relative to the base.
func (r *Root) Exists(rel string) bool {
	path, err := r.resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// ReadDir lists directory entry names relative to the base.
func (r *Root) ReadDir(rel string) ([]string, error) {
	path, err := r.resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return names, nil
}

// Path returns the absolute path for rel, or an error on escape.
func (r *Root) Path(rel string) (string, error) {
	return r.resolve(rel)
}
