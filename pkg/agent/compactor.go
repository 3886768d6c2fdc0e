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
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/hooks"
	"github.com/teradata-labs/agentos/pkg/llm"
	"github.com/teradata-labs/agentos/pkg/types"
)

// DefaultKeepExchanges is how many trailing exchanges survive a compaction.
const DefaultKeepExchanges = 3

const summaryPrompt = `Summarize the conversation below for continuation in a fresh context. Preserve: decisions made, facts established, open tasks, tool results that still matter, and the user's goals. Be concise; drop pleasantries and dead ends.`

// Compactor replaces a near-full context with a summary plus the trailing
// exchanges. memory_flush fires before summarization so listeners can
// persist what is about to be dropped; session_compact fires after.
type Compactor struct {
	client        CompletionClient
	registry      *hooks.Registry
	contextWindow int
	reserveTokens int
	keepExchanges int
	logger        *zap.Logger
}

// NewCompactor creates a compactor bound to the agent's LLM client.
func NewCompactor(client CompletionClient, registry *hooks.Registry, contextWindow, reserveTokens, keepExchanges int, logger *zap.Logger) *Compactor {
	if keepExchanges <= 0 {
		keepExchanges = DefaultKeepExchanges
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{
		client:        client,
		registry:      registry,
		contextWindow: contextWindow,
		reserveTokens: reserveTokens,
		keepExchanges: keepExchanges,
		logger:        logger,
	}
}

// NeedsCompaction reports whether the context has grown into the reserve.
func (c *Compactor) NeedsCompaction(conv *ConversationContext) bool {
	tokens, err := c.client.CountTokens(conv.Messages())
	if err != nil {
		return false
	}
	return tokens >= c.contextWindow-c.reserveTokens
}

// Compact summarizes the non-system history and rebuilds the context as
// [system, summary, last keepExchanges exchanges].
func (c *Compactor) Compact(ctx context.Context, conv *ConversationContext) error {
	if _, err := c.registry.Fire(ctx, hooks.EventMemoryFlush, conv); err != nil {
		return fmt.Errorf("memory_flush: %w", err)
	}

	history := conv.NonSystem()
	request := make([]types.Message, 0, len(history)+2)
	request = append(request, types.Message{Role: types.RoleSystem, Content: summaryPrompt})
	request = append(request, history...)
	request = append(request, types.Message{Role: types.RoleUser, Content: "Summarize the conversation above."})

	resp, err := c.client.StreamCompletion(ctx, request, nil, llm.CompletionOptions{})
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	kept := conv.LastExchanges(c.keepExchanges)
	rebuilt := make([]types.Message, 0, len(kept)+2)
	rebuilt = append(rebuilt,
		types.Message{Role: types.RoleSystem, Content: conv.SystemContent()},
		types.Message{Role: types.RoleAssistant, Content: "[Conversation summary]\n" + resp.Text},
	)
	rebuilt = append(rebuilt, kept...)
	conv.Replace(rebuilt)

	c.logger.Info("context compacted",
		zap.Int("kept_exchanges", c.keepExchanges),
		zap.Int("messages", len(rebuilt)))

	if _, err := c.registry.Fire(ctx, hooks.EventSessionCompact, conv); err != nil {
		return fmt.Errorf("session_compact: %w", err)
	}
	return nil
}
