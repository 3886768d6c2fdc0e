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
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentos/pkg/hooks"
	"github.com/teradata-labs/agentos/pkg/llm"
	"github.com/teradata-labs/agentos/pkg/types"
)

// scriptedClient aggregates a scripted provider behind the loop's client
// surface.
type scriptedClient struct {
	provider *llm.ScriptedProvider
}

func (c *scriptedClient) StreamCompletion(ctx context.Context, messages []types.Message, tools []types.ToolDefinition, opts llm.CompletionOptions) (*llm.Response, error) {
	stream, err := c.provider.StreamCompletion(ctx, messages, tools, opts)
	if err != nil {
		return nil, err
	}
	return llm.Aggregate(stream)
}

func (c *scriptedClient) CountTokens(messages []types.Message) (int, error) {
	return c.provider.CountTokens(messages)
}

func collect(t *testing.T, events <-chan types.AgentEvent) []types.AgentEvent {
	t.Helper()
	var out []types.AgentEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []types.AgentEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func newConv() *ConversationContext {
	conv := NewConversationContext("sys")
	conv.AppendUser("Hi")
	return conv
}

func TestLoopTextOnlySingleTurn(t *testing.T) {
	client := &scriptedClient{provider: llm.NewScriptedProvider(llm.TextTurn("Hello!"))}
	events := collect(t, Run(context.Background(), client, newConv(), nil, nil, hooks.NewRegistry(nil), LoopConfig{}))

	require.Len(t, events, 1)
	assert.Equal(t, types.EventAssistantMessage, events[0].Type)
	assert.Equal(t, "Hello!", events[0].Text)
	assert.Empty(t, events[0].ToolCalls)
	assert.Equal(t, "stop", events[0].FinishReason)
}

func TestLoopToolCallThenText(t *testing.T) {
	client := &scriptedClient{provider: llm.NewScriptedProvider(
		llm.ToolCallTurn("tc1", "search", `{"q":"test"}`),
		llm.TextTurn("Here are the results."),
	)}
	var gotArgs map[string]any
	handlers := map[string]ToolHandler{
		"search": func(_ context.Context, args map[string]any) (any, error) {
			gotArgs = args
			return "Results for test", nil
		},
	}
	conv := newConv()
	events := collect(t, Run(context.Background(), client, conv, nil, handlers, hooks.NewRegistry(nil), LoopConfig{}))

	assert.Equal(t, []string{
		types.EventAssistantMessage,
		types.EventToolResult,
		types.EventAssistantMessage,
	}, eventTypes(events))
	assert.Equal(t, map[string]any{"q": "test"}, gotArgs)
	assert.Equal(t, "tc1", events[1].ToolCallID)
	assert.Equal(t, "Results for test", events[1].Result)

	// The tool result also lands in the conversation.
	msgs := conv.Messages()
	require.Len(t, msgs, 5) // system, user, assistant, tool, assistant
	assert.Equal(t, types.RoleTool, msgs[3].Role)
	assert.Equal(t, "tc1", msgs[3].ToolCallID)
}

func TestLoopMaxTurnsReached(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.ToolCallTurn("tc", "noop", `{}`))
	provider.Loop = true
	client := &scriptedClient{provider: provider}
	handlers := map[string]ToolHandler{
		"noop": func(context.Context, map[string]any) (any, error) { return "looping", nil },
	}

	events := collect(t, Run(context.Background(), client, newConv(), nil, handlers, hooks.NewRegistry(nil), LoopConfig{MaxTurns: 3}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, types.EventMaxTurnsReached, last.Type)
	assert.Equal(t, 3, last.Turns)
	// Three full turns ran before the cap.
	assert.Equal(t, 3, provider.Calls())
}

func TestLoopToolBlockedByHook(t *testing.T) {
	client := &scriptedClient{provider: llm.NewScriptedProvider(
		llm.ToolCallTurn("tc1", "danger", `{}`),
		llm.TextTurn("Skipped it."),
	)}
	invoked := false
	handlers := map[string]ToolHandler{
		"danger": func(context.Context, map[string]any) (any, error) {
			invoked = true
			return "boom", nil
		},
	}
	registry := hooks.NewRegistry(nil)
	registry.Register(hooks.EventToolCall, 10, func(_ context.Context, acc any) (any, error) {
		ev := acc.(*ToolCallHookEvent)
		ev.Blocked = true
		ev.Reason = "Too risky"
		return ev, nil
	})

	conv := newConv()
	events := collect(t, Run(context.Background(), client, conv, nil, handlers, registry, LoopConfig{}))

	assert.Equal(t, []string{
		types.EventAssistantMessage,
		types.EventToolBlocked,
		types.EventAssistantMessage,
	}, eventTypes(events))
	assert.Equal(t, "danger", events[1].ToolName)
	assert.Equal(t, "Too risky", events[1].Reason)
	assert.False(t, invoked, "blocked handler must not run")

	// A synthetic tool result answers the blocked call.
	msgs := conv.Messages()
	assert.Equal(t, `{"error": "Tool blocked: Too risky"}`, msgs[3].Content)
	assert.Equal(t, "tc1", msgs[3].ToolCallID)
}

func TestLoopHookBlockErrorAlsoBlocks(t *testing.T) {
	client := &scriptedClient{provider: llm.NewScriptedProvider(
		llm.ToolCallTurn("tc1", "danger", `{}`),
		llm.TextTurn("done"),
	)}
	registry := hooks.NewRegistry(nil)
	registry.Register(hooks.EventToolCall, 10, func(context.Context, any) (any, error) {
		return nil, types.NewHookBlockError("policy says no")
	})

	events := collect(t, Run(context.Background(), client, newConv(), nil, nil, registry, LoopConfig{}))
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, types.EventToolBlocked, events[1].Type)
	assert.Equal(t, "policy says no", events[1].Reason)
}

func TestLoopProviderFailureEmitsErrorTerminal(t *testing.T) {
	provider := llm.NewScriptedProvider()
	provider.FailWith = assert.AnError
	svc := llm.NewService(nil, nil)
	svc.RegisterProvider(provider)
	require.NoError(t, svc.BindSession("s"))

	client := &svcClient{svc: svc, session: "s"}
	events := collect(t, Run(context.Background(), client, newConv(), nil, nil, hooks.NewRegistry(nil), LoopConfig{}))

	require.Len(t, events, 1)
	assert.Equal(t, types.EventError, events[0].Type)
	assert.NotEmpty(t, events[0].Error)
}

type svcClient struct {
	svc     *llm.Service
	session string
}

func (c *svcClient) StreamCompletion(ctx context.Context, messages []types.Message, tools []types.ToolDefinition, opts llm.CompletionOptions) (*llm.Response, error) {
	return c.svc.StreamCompletion(ctx, c.session, messages, tools, opts)
}

func (c *svcClient) CountTokens(messages []types.Message) (int, error) {
	return c.svc.CountTokens(c.session, messages)
}

func TestLoopTruncatesLongToolResults(t *testing.T) {
	client := &scriptedClient{provider: llm.NewScriptedProvider(
		llm.ToolCallTurn("tc1", "bigdump", `{}`),
		llm.TextTurn("done"),
	)}
	huge := strings.Repeat("x", maxToolResultChars+500)
	handlers := map[string]ToolHandler{
		"bigdump": func(context.Context, map[string]any) (any, error) { return huge, nil },
	}

	events := collect(t, Run(context.Background(), client, newConv(), nil, handlers, hooks.NewRegistry(nil), LoopConfig{}))
	require.Equal(t, types.EventToolResult, events[1].Type)
	assert.Contains(t, events[1].Result, "[truncated:")
	assert.Less(t, len(events[1].Result), len(huge))
	assert.True(t, strings.HasPrefix(events[1].Result, "xxxx"))
}

func TestLoopToolResultPlusBlockedEqualsToolCalls(t *testing.T) {
	// One assistant turn with two calls: the first blocked, the second runs.
	turn := []llm.StreamChunk{
		{Type: llm.ChunkToolCallDelta, ToolCall: &llm.ToolCallDelta{ID: "a", Name: "danger", Arguments: `{}`}},
		{Type: llm.ChunkToolCallDelta, ToolCall: &llm.ToolCallDelta{ID: "b", Name: "safe", Arguments: `{}`}},
		{Type: llm.ChunkDone, FinishReason: "tool_calls"},
	}
	client := &scriptedClient{provider: llm.NewScriptedProvider(turn, llm.TextTurn("done"))}
	registry := hooks.NewRegistry(nil)
	registry.Register(hooks.EventToolCall, 10, func(_ context.Context, acc any) (any, error) {
		ev := acc.(*ToolCallHookEvent)
		if ev.Name == "danger" {
			ev.Blocked = true
			ev.Reason = "no"
		}
		return ev, nil
	})
	handlers := map[string]ToolHandler{
		"safe": func(context.Context, map[string]any) (any, error) { return "ok", nil },
	}

	events := collect(t, Run(context.Background(), client, newConv(), nil, handlers, registry, LoopConfig{}))
	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	assert.Equal(t, 2, counts[types.EventToolBlocked]+counts[types.EventToolResult])
	assert.Equal(t, 1, counts[types.EventToolBlocked])
	assert.Equal(t, 1, counts[types.EventToolResult])
}
