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

package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentos/pkg/hooks"
	"github.com/teradata-labs/agentos/pkg/memory"
	"github.com/teradata-labs/agentos/pkg/types"
)

func newMemStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.Open(memory.Config{Path: filepath.Join(t.TempDir(), "mem.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStoreAndSearchTools(t *testing.T) {
	store := newMemStore(t)
	storeTool := NewMemoryStoreTool(store, "A")
	searchTool := NewMemorySearchTool(store, "A")

	result := invoke(t, storeTool, map[string]any{
		"content":    "We decided to use SQLite for the episodic store.",
		"sourceType": "conversation",
	})
	assert.Equal(t, 1, result["stored"])
	require.Len(t, result["chunkIds"].([]string), 1)

	found := invoke(t, searchTool, map[string]any{"query": "episodic SQLite"})
	hits := found["results"].([]map[string]any)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0]["content"], "SQLite")
	assert.Equal(t, "bm25", hits[0]["matchType"])
}

func TestMemoryToolsValidateArguments(t *testing.T) {
	store := newMemStore(t)
	var valErr *types.ValidationError

	_, err := NewMemoryStoreTool(store, "A").Handler(context.Background(), map[string]any{})
	assert.ErrorAs(t, err, &valErr)

	_, err = NewMemorySearchTool(store, "A").Handler(context.Background(), map[string]any{"query": ""})
	assert.ErrorAs(t, err, &valErr)
}

type fakeConv struct{ msgs []types.Message }

func (f fakeConv) NonSystem() []types.Message { return f.msgs }

func TestFlushHookPersistsConversation(t *testing.T) {
	store := newMemStore(t)
	registry := hooks.NewRegistry(nil)
	RegisterFlushHook(registry, store, "A")

	conv := fakeConv{msgs: []types.Message{
		{Role: types.RoleUser, Content: "How do we configure the failover cluster?"},
		{Role: types.RoleAssistant, Content: "Set the quorum to three nodes and enable fencing."},
		{Role: types.RoleTool, Content: "ignored tool output", ToolCallID: "tc1"},
	}}
	_, err := registry.Fire(context.Background(), hooks.EventMemoryFlush, conv)
	require.NoError(t, err)

	results, err := store.Search(context.Background(), memory.SearchOptions{
		AgentID: "A", Query: "failover quorum",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "conversation", r.Chunk.SourceType)
		assert.NotContains(t, r.Chunk.Content, "ignored tool output")
	}
}
