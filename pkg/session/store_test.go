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

package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentos/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), nil)
}

func TestCreateAppendLoad(t *testing.T) {
	store := newTestStore(t)

	header, err := store.Create("coder", "webchat")
	require.NoError(t, err)
	assert.Equal(t, "coder", header.AgentID)
	assert.NotEmpty(t, header.SessionID)

	require.NoError(t, store.AppendMessage("coder", header.SessionID, types.Message{
		Role: types.RoleUser, Content: "hi",
	}))
	require.NoError(t, store.AppendMessage("coder", header.SessionID, types.Message{
		Role:    types.RoleAssistant,
		Content: "hello",
		ToolCalls: []types.ToolCall{
			{ID: "tc1", Name: "search", Arguments: `{"q":"x"}`},
		},
	}))
	require.NoError(t, store.AppendMessage("coder", header.SessionID, types.Message{
		Role: types.RoleTool, Content: "result", ToolCallID: "tc1",
	}))

	loaded, entries, err := store.Load("coder", header.SessionID)
	require.NoError(t, err)
	assert.Equal(t, header.SessionID, loaded.SessionID)
	require.Len(t, entries, 3)
	assert.Equal(t, types.RoleUser, entries[0].Role)
	assert.Equal(t, "tc1", entries[1].ToolCalls[0].ID)
	assert.Equal(t, "tc1", entries[2].ToolCallID)

	msgs, err := store.Messages("coder", header.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestLoadToleratesBlankLines(t *testing.T) {
	store := newTestStore(t)
	header, err := store.Create("coder", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage("coder", header.SessionID, types.Message{
		Role: types.RoleUser, Content: "hi",
	}))

	path := store.path("coder", header.SessionID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, entries, err := store.Load("coder", header.SessionID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadRejectsCorruptLine(t *testing.T) {
	store := newTestStore(t)
	header, err := store.Create("coder", "")
	require.NoError(t, err)

	path := store.path("coder", header.SessionID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, _, err = store.Load("coder", header.SessionID)
	assert.ErrorIs(t, err, types.ErrSessionCorrupt)
}

func TestFork(t *testing.T) {
	store := newTestStore(t)
	header, err := store.Create("coder", "webchat")
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three"} {
		require.NoError(t, store.AppendMessage("coder", header.SessionID, types.Message{
			Role: types.RoleUser, Content: content,
		}))
	}
	_, entries, err := store.Load("coder", header.SessionID)
	require.NoError(t, err)

	forked, err := store.Fork("coder", header.SessionID, entries[1].ID)
	require.NoError(t, err)

	_, forkedEntries, err := store.Load("coder", forked.SessionID)
	require.NoError(t, err)
	require.Len(t, forkedEntries, 2)
	assert.Equal(t, "one", forkedEntries[0].Content)
	assert.Equal(t, header.SessionID, forkedEntries[0].ParentID)
	assert.Equal(t, "two", forkedEntries[1].Content)
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)
	h1, err := store.Create("coder", "")
	require.NoError(t, err)
	h2, err := store.Create("coder", "")
	require.NoError(t, err)

	ids, err := store.List("coder")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{h1.SessionID, h2.SessionID}, ids)

	none, err := store.List("unknown")
	require.NoError(t, err)
	assert.Empty(t, none)

	// File placement matches sessions/<agentId>/<sessionId>.jsonl.
	_, err = os.Stat(filepath.Join(store.baseDir, "coder", h1.SessionID+".jsonl"))
	assert.NoError(t, err)
}
