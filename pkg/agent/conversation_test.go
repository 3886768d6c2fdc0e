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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentos/pkg/types"
)

func TestConversationSystemFirst(t *testing.T) {
	conv := NewConversationContext("persona")
	conv.AppendUser("hi")

	msgs := conv.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, "persona", conv.SystemContent())
	assert.Len(t, conv.NonSystem(), 1)
}

func TestLastExchangesGroupsTrailingToolMessages(t *testing.T) {
	conv := NewConversationContext("sys")
	conv.AppendUser("q1")
	conv.AppendAssistant("a1", nil)
	conv.AppendUser("q2")
	conv.AppendAssistant("a2", []types.ToolCall{{ID: "tc1", Name: "t", Arguments: "{}"}})
	conv.AppendTool("result", "tc1")
	conv.AppendAssistant("a2-final", nil)
	conv.AppendUser("q3")
	conv.AppendAssistant("a3", nil)

	// One exchange: q3 onward.
	one := conv.LastExchanges(1)
	require.Len(t, one, 2)
	assert.Equal(t, "q3", one[0].Content)

	// Two exchanges: q2's grouping includes its tool traffic.
	two := conv.LastExchanges(2)
	require.Len(t, two, 6)
	assert.Equal(t, "q2", two[0].Content)
	assert.Equal(t, types.RoleTool, two[2].Role)

	// More than available returns everything but the system prompt.
	all := conv.LastExchanges(10)
	assert.Len(t, all, 8)
	assert.Equal(t, "q1", all[0].Content)
}

func TestLastExchangesEmptyCases(t *testing.T) {
	conv := NewConversationContext("sys")
	assert.Nil(t, conv.LastExchanges(3))

	conv.AppendAssistant("orphan assistant", nil)
	assert.Nil(t, conv.LastExchanges(1), "no user message means no exchange")
}

func TestReplaceAndOptions(t *testing.T) {
	conv := NewConversationContext("sys")
	conv.AppendUser("old")
	conv.Replace([]types.Message{
		{Role: types.RoleSystem, Content: "new sys"},
		{Role: types.RoleUser, Content: "new user"},
	})
	assert.Equal(t, "new sys", conv.SystemContent())
	assert.Len(t, conv.Messages(), 2)
}
