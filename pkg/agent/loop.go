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
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/hooks"
	"github.com/teradata-labs/agentos/pkg/llm"
	"github.com/teradata-labs/agentos/pkg/types"
)

// DefaultMaxTurns bounds the reasoning loop when the config leaves it unset.
const DefaultMaxTurns = 100

// maxToolResultChars caps the serialized tool result fed back to the model.
const maxToolResultChars = 50000

// CompletionClient is the session-bound LLM surface consumed by the loop and
// the compactor.
type CompletionClient interface {
	StreamCompletion(ctx context.Context, messages []types.Message, tools []types.ToolDefinition, opts llm.CompletionOptions) (*llm.Response, error)
	CountTokens(messages []types.Message) (int, error)
}

// ToolHandler executes one tool invocation with parsed arguments. A returned
// error becomes a structured error payload in the tool result; it never
// aborts the loop.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// AssembledContext is the accumulator threaded through context_assemble
// handlers: the messages and options that will reach the model this turn.
type AssembledContext struct {
	Messages []types.Message
	Options  llm.CompletionOptions
}

// ToolCallHookEvent is the accumulator of the tool_call hook chain. A
// handler marking Blocked vetoes the execution; the reason surfaces in the
// tool_blocked event.
type ToolCallHookEvent struct {
	Name      string
	Arguments map[string]any
	Blocked   bool
	Reason    string
}

// LoopConfig tunes one loop invocation.
type LoopConfig struct {
	MaxTurns int
	Logger   *zap.Logger
}

// Run executes the tool-using turn loop, emitting events on the returned
// channel. The channel closes after the terminal event: a final
// assistant_message without tool calls, max_turns_reached, or error.
func Run(ctx context.Context, client CompletionClient, conv *ConversationContext, defs []types.ToolDefinition, handlers map[string]ToolHandler, registry *hooks.Registry, cfg LoopConfig) <-chan types.AgentEvent {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	out := make(chan types.AgentEvent)
	go func() {
		defer close(out)

		emit := func(ev types.AgentEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			logger.Error("agent loop failed", zap.Error(err))
			emit(types.AgentEvent{Type: types.EventError, Error: err.Error()})
		}

		if _, err := registry.Fire(ctx, hooks.EventBeforeAgentStart, conv); err != nil {
			fail(err)
			return
		}

		turns := 0
		for {
			turns++
			if turns > maxTurns {
				emit(types.AgentEvent{Type: types.EventMaxTurnsReached, Turns: maxTurns})
				return
			}
			if _, err := registry.Fire(ctx, hooks.EventTurnStart, conv); err != nil {
				fail(err)
				return
			}

			assembled := &AssembledContext{Messages: conv.Messages(), Options: conv.Options()}
			acc, err := registry.Fire(ctx, hooks.EventContextAssemble, assembled)
			if err != nil {
				fail(err)
				return
			}
			if a, ok := acc.(*AssembledContext); ok && a != nil {
				assembled = a
			}

			resp, err := client.StreamCompletion(ctx, assembled.Messages, defs, assembled.Options)
			if err != nil {
				fail(err)
				return
			}

			if !emit(types.AgentEvent{
				Type:         types.EventAssistantMessage,
				Text:         resp.Text,
				ToolCalls:    resp.ToolCalls,
				FinishReason: resp.FinishReason,
			}) {
				return
			}
			conv.AppendAssistant(resp.Text, resp.ToolCalls)

			if len(resp.ToolCalls) == 0 {
				if _, err := registry.Fire(ctx, hooks.EventTurnEnd, conv); err != nil {
					fail(err)
					return
				}
				if _, err := registry.Fire(ctx, hooks.EventAgentEnd, conv); err != nil {
					fail(err)
				}
				return
			}

			for _, tc := range resp.ToolCalls {
				blocked, reason, err := runToolCallHooks(ctx, registry, tc)
				if err != nil {
					fail(err)
					return
				}
				if blocked {
					if !emit(types.AgentEvent{
						Type:       types.EventToolBlocked,
						ToolName:   tc.Name,
						ToolCallID: tc.ID,
						Reason:     reason,
					}) {
						return
					}
					conv.AppendTool(fmt.Sprintf(`{"error": "Tool blocked: %s"}`, reason), tc.ID)
					continue
				}

				result := executeTool(ctx, registry, handlers, tc, logger)
				truncated := truncateResult(types.MarshalJSONString(result))

				if _, err := registry.Fire(ctx, hooks.EventToolResult, truncated); err != nil {
					fail(err)
					return
				}
				if !emit(types.AgentEvent{
					Type:       types.EventToolResult,
					ToolName:   tc.Name,
					ToolCallID: tc.ID,
					Result:     truncated,
				}) {
					return
				}
				conv.AppendTool(truncated, tc.ID)
			}

			if _, err := registry.Fire(ctx, hooks.EventTurnEnd, conv); err != nil {
				fail(err)
				return
			}
		}
	}()
	return out
}

// runToolCallHooks fires the tool_call chain and interprets its outcome. A
// HookBlockError converts to a veto; other errors propagate.
func runToolCallHooks(ctx context.Context, registry *hooks.Registry, tc types.ToolCall) (blocked bool, reason string, err error) {
	args := map[string]any{}
	if tc.Arguments != "" {
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
	}
	seed := &ToolCallHookEvent{Name: tc.Name, Arguments: args}
	acc, err := registry.Fire(ctx, hooks.EventToolCall, seed)
	if err != nil {
		var blockErr *types.HookBlockError
		if errors.As(err, &blockErr) {
			return true, blockErr.Reason, nil
		}
		return false, "", err
	}
	if ev, ok := acc.(*ToolCallHookEvent); ok && ev.Blocked {
		return true, ev.Reason, nil
	}
	return false, "", nil
}

// executeTool runs one tool call between its execution hooks. Missing
// handlers and handler errors become structured error payloads.
func executeTool(ctx context.Context, registry *hooks.Registry, handlers map[string]ToolHandler, tc types.ToolCall, logger *zap.Logger) any {
	args := map[string]any{}
	if tc.Arguments != "" {
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
	}

	_, _ = registry.Fire(ctx, hooks.EventToolExecutionStart, map[string]any{"name": tc.Name})

	var result any
	handler, ok := handlers[tc.Name]
	if !ok {
		result = map[string]any{"error": fmt.Sprintf("%v: %s", types.ErrToolNotFound, tc.Name)}
	} else {
		res, err := handler(ctx, args)
		if err != nil {
			logger.Debug("tool returned error",
				zap.String("tool", tc.Name),
				zap.Error(err))
			result = map[string]any{"error": err.Error()}
		} else {
			result = res
		}
	}

	_, _ = registry.Fire(ctx, hooks.EventToolExecutionEnd, map[string]any{"name": tc.Name, "result": result})
	return result
}

// truncateResult clips a serialized tool result at maxToolResultChars,
// appending a marker describing the clip.
func truncateResult(s string) string {
	if len(s) <= maxToolResultChars {
		return s
	}
	return s[:maxToolResultChars] + fmt.Sprintf("\n[truncated: %d chars, showing first %d]", len(s), maxToolResultChars)
}
