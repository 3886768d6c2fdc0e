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

// Package agent implements the per-agent runtime: the conversation context,
// the tool-using turn loop, context compaction and pruning, prompt assembly,
// and the lifecycle state machine that ties them together.
package agent

import (
	"sync"

	"github.com/teradata-labs/agentos/pkg/llm"
	"github.com/teradata-labs/agentos/pkg/types"
)

// ConversationContext is the in-memory message history plus completion
// options for one agent session. The first message is always the system
// prompt. All methods are safe for concurrent use.
type ConversationContext struct {
	mu       sync.RWMutex
	messages []types.Message
	options  llm.CompletionOptions
}

// NewConversationContext seeds a context with the system prompt.
func NewConversationContext(systemPrompt string) *ConversationContext {
	return &ConversationContext{
		messages: []types.Message{{Role: types.RoleSystem, Content: systemPrompt}},
	}
}

// AppendUser adds a user message.
func (c *ConversationContext) AppendUser(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, types.Message{Role: types.RoleUser, Content: content})
}

// AppendAssistant adds an assistant message with its tool calls, if any.
func (c *ConversationContext) AppendAssistant(content string, toolCalls []types.ToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, types.Message{
		Role:      types.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	})
}

// AppendTool adds a tool result message answering toolCallID.
func (c *ConversationContext) AppendTool(content, toolCallID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, types.Message{
		Role:       types.RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
	})
}

// Append adds an arbitrary message, preserving its role.
func (c *ConversationContext) Append(msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// Replace swaps the entire message list.
func (c *ConversationContext) Replace(messages []types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append([]types.Message(nil), messages...)
}

// Messages returns a copy of the full history.
func (c *ConversationContext) Messages() []types.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.Message(nil), c.messages...)
}

// NonSystem returns a copy of the history without system messages.
func (c *ConversationContext) NonSystem() []types.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Message, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Role != types.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// SystemContent returns the content of the leading system message.
func (c *ConversationContext) SystemContent() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[0].Content
}

// Options returns the completion options.
func (c *ConversationContext) Options() llm.CompletionOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.options
}

// SetOptions replaces the completion options.
func (c *ConversationContext) SetOptions(opts llm.CompletionOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options = opts
}

// LastExchanges returns up to n trailing user→assistant(+tool) groupings in
// chronological order. Walking backwards, each grouping collects the trailing
// tool and assistant messages until a user message is hit, inclusive.
func (c *ConversationContext) LastExchanges(n int) []types.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || len(c.messages) <= 1 {
		return nil
	}
	cut := len(c.messages)
	i := len(c.messages) - 1
	count := 0
	for i >= 1 && count < n {
		for i >= 1 && c.messages[i].Role != types.RoleUser {
			i--
		}
		if i < 1 {
			break
		}
		cut = i
		count++
		i--
	}
	if count == 0 {
		return nil
	}
	return append([]types.Message(nil), c.messages[cut:]...)
}
