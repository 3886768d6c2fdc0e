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

package fsx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootReadWriteAppend(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, root.WriteFile("nested/dir/file.txt", []byte("hello")))
	assert.True(t, root.Exists("nested/dir/file.txt"))

	require.NoError(t, root.AppendFile("nested/dir/file.txt", []byte(" world")))
	data, err := root.ReadFile("nested/dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	names, err := root.ReadDir("nested/dir")
	require.NoError(t, err)
	assert.Equal(t, []string{"file.txt"}, names)
}

func TestRootRejectsEscape(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	require.NoError(t, err)

	_, err = root.ReadFile("../../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, root.WriteFile("../outside.txt", []byte("x")))
	assert.False(t, root.Exists("../.."))
}

func TestRootMkdirAll(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, root.MkdirAll("a/b/c"))
	assert.True(t, root.Exists("a/b/c"))
}
