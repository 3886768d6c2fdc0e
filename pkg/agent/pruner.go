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

	"github.com/teradata-labs/agentos/pkg/hooks"
	"github.com/teradata-labs/agentos/pkg/types"
)

// PrunerPriority places hard pruning after all enrichment handlers in the
// context_assemble chain.
const PrunerPriority = 500

// DefaultMaxHistoryShare caps the history budget at half the context window.
const DefaultMaxHistoryShare = 0.5

// Pruner enforces a hard token budget on the assembled context. The system
// message is always kept; the history keeps its longest tail that fits in
// min(contextWindow - systemTokens, contextWindow * maxHistoryShare), with
// orphaned tool messages and dangling tool calls repaired afterwards.
type Pruner struct {
	ContextWindow   int
	MaxHistoryShare float64
}

// NewPruner creates a pruner for the given context window.
func NewPruner(contextWindow int) *Pruner {
	return &Pruner{ContextWindow: contextWindow, MaxHistoryShare: DefaultMaxHistoryShare}
}

// Register attaches the pruner to the context_assemble chain.
func (p *Pruner) Register(registry *hooks.Registry) *hooks.Registration {
	return registry.Register(hooks.EventContextAssemble, PrunerPriority, func(_ context.Context, acc any) (any, error) {
		assembled, ok := acc.(*AssembledContext)
		if !ok || assembled == nil {
			return acc, nil
		}
		assembled.Messages = p.Prune(assembled.Messages)
		return assembled, nil
	})
}

// estimateTokens approximates a message's cost as ceil(chars/4). Assistant
// messages also pay for each tool call's name, arguments and id.
func estimateTokens(msg types.Message) int {
	chars := len(msg.Content)
	if msg.Role == types.RoleAssistant {
		for _, tc := range msg.ToolCalls {
			chars += len(tc.Name) + len(tc.Arguments) + len(tc.ID)
		}
	}
	return (chars + 3) / 4
}

// Prune applies the budget walk and orphan repair. The input is not
// mutated.
func (p *Pruner) Prune(messages []types.Message) []types.Message {
	if len(messages) == 0 {
		return messages
	}

	system := messages[0]
	history := messages[1:]

	budget := p.ContextWindow - estimateTokens(system)
	if share := int(float64(p.ContextWindow) * p.MaxHistoryShare); share < budget {
		budget = share
	}

	firstKeep := len(history)
	remaining := budget
	for i := len(history) - 1; i >= 0; i-- {
		cost := estimateTokens(history[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		firstKeep = i
	}

	tail := repairOrphans(history[firstKeep:])
	out := make([]types.Message, 0, len(tail)+1)
	out = append(out, system)
	return append(out, tail...)
}

// repairOrphans drops tool messages whose call id no surviving assistant
// references, then strips assistant tool calls that no surviving tool
// message answers.
func repairOrphans(tail []types.Message) []types.Message {
	calledIDs := make(map[string]bool)
	for _, m := range tail {
		if m.Role == types.RoleAssistant {
			for _, tc := range m.ToolCalls {
				calledIDs[tc.ID] = true
			}
		}
	}

	kept := make([]types.Message, 0, len(tail))
	answeredIDs := make(map[string]bool)
	for _, m := range tail {
		if m.Role == types.RoleTool && !calledIDs[m.ToolCallID] {
			continue
		}
		if m.Role == types.RoleTool {
			answeredIDs[m.ToolCallID] = true
		}
		kept = append(kept, m)
	}

	for i, m := range kept {
		if m.Role != types.RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		var surviving []types.ToolCall
		for _, tc := range m.ToolCalls {
			if answeredIDs[tc.ID] {
				surviving = append(surviving, tc)
			}
		}
		kept[i].ToolCalls = surviving
	}
	return kept
}
