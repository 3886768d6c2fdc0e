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

package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentos/pkg/types"
)

func TestPrunerKeepsSystemAndRecentTail(t *testing.T) {
	p := NewPruner(100) // historyBudget = min(100-1, 50) = 50 tokens

	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleUser, Content: strings.Repeat("a", 400)}, // 100 tokens, cannot fit
		{Role: types.RoleUser, Content: strings.Repeat("b", 100)}, // 25 tokens
		{Role: types.RoleAssistant, Content: strings.Repeat("c", 80)}, // 20 tokens
	}
	out := p.Prune(msgs)

	require.Len(t, out, 3)
	assert.Equal(t, types.RoleSystem, out[0].Role)
	assert.Equal(t, strings.Repeat("b", 100), out[1].Content)
	assert.Equal(t, strings.Repeat("c", 80), out[2].Content)
}

func TestPrunerDropsOrphanToolMessages(t *testing.T) {
	p := NewPruner(100)

	// The assistant that made the call is too large to survive; its tool
	// result becomes an orphan and must go.
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{
			Role:      types.RoleAssistant,
			Content:   strings.Repeat("a", 400),
			ToolCalls: []types.ToolCall{{ID: "tc1", Name: "t", Arguments: "{}"}},
		},
		{Role: types.RoleTool, Content: "orphaned result", ToolCallID: "tc1"},
		{Role: types.RoleUser, Content: "next question"},
	}
	out := p.Prune(msgs)

	for _, m := range out {
		assert.NotEqual(t, types.RoleTool, m.Role, "orphan tool message survived")
	}
	assert.Equal(t, "next question", out[len(out)-1].Content)
}

func TestPrunerStripsDanglingToolCalls(t *testing.T) {
	p := NewPruner(10000)

	// The tool answer for tc2 never survives (it was never produced), so
	// the assistant's toolCalls list must drop it.
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleAssistant, Content: "calling", ToolCalls: []types.ToolCall{
			{ID: "tc1", Name: "t", Arguments: "{}"},
			{ID: "tc2", Name: "t", Arguments: "{}"},
		}},
		{Role: types.RoleTool, Content: "answer one", ToolCallID: "tc1"},
	}
	out := p.Prune(msgs)

	require.Len(t, out, 3)
	require.Len(t, out[1].ToolCalls, 1)
	assert.Equal(t, "tc1", out[1].ToolCalls[0].ID)
}

func TestPrunerStripsAllToolCallsWhenNoneAnswered(t *testing.T) {
	p := NewPruner(10000)
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleAssistant, Content: "calling", ToolCalls: []types.ToolCall{
			{ID: "tc1", Name: "t", Arguments: "{}"},
		}},
		{Role: types.RoleUser, Content: "moving on"},
	}
	out := p.Prune(msgs)
	require.Len(t, out, 3)
	assert.Empty(t, out[1].ToolCalls)
}

func TestPrunerInvariantAfterRepair(t *testing.T) {
	p := NewPruner(200)
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleUser, Content: strings.Repeat("q", 300)},
		{Role: types.RoleAssistant, Content: "x", ToolCalls: []types.ToolCall{
			{ID: "a", Name: "t", Arguments: strings.Repeat("z", 200)},
		}},
		{Role: types.RoleTool, Content: "ans", ToolCallID: "a"},
		{Role: types.RoleAssistant, Content: "final", ToolCalls: nil},
	}
	out := p.Prune(msgs)

	surviving := map[string]bool{}
	for _, m := range out {
		if m.Role == types.RoleAssistant {
			for _, tc := range m.ToolCalls {
				surviving[tc.ID] = true
			}
		}
	}
	for _, m := range out {
		if m.Role == types.RoleTool {
			assert.True(t, surviving[m.ToolCallID],
				"tool message %q has no surviving caller", m.ToolCallID)
		}
	}
}

func TestPrunerDoesNotMutateInput(t *testing.T) {
	p := NewPruner(10000)
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleAssistant, Content: "c", ToolCalls: []types.ToolCall{{ID: "x", Name: "t"}}},
		{Role: types.RoleUser, Content: "u"},
	}
	_ = p.Prune(msgs)
	assert.Len(t, msgs[1].ToolCalls, 1, "input slice mutated")
}
