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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/agentos/pkg/hooks"
	"github.com/teradata-labs/agentos/pkg/memory"
	"github.com/teradata-labs/agentos/pkg/types"
)

// NewMemoryStoreTool builds the memory_store tool for one agent. Content is
// sentence-chunked before persisting; each chunk gets its own id and index.
func NewMemoryStoreTool(store *memory.Store, agentID string) Tool {
	return Tool{
		Source: SourceBuiltin,
		Def: types.ToolDefinition{
			Name:        "memory_store",
			Description: "Persist important information to long-term memory for later recall.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content":    map[string]any{"type": "string", "description": "The information to remember."},
					"sessionId":  map[string]any{"type": "string"},
					"sourceType": map[string]any{"type": "string"},
					"importance": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
				"required": []string{"content"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			content := stringArg(args, "content")
			if content == "" {
				return nil, &types.ValidationError{Tool: "memory_store", Field: "content", Detail: "must be a non-empty string"}
			}
			sourceType := stringArg(args, "sourceType")
			if sourceType == "" {
				sourceType = "agent"
			}

			chunks := memory.ChunkText(content, memory.ChunkOptions{})
			ids := make([]string, 0, len(chunks))
			for i, chunk := range chunks {
				id := uuid.NewString()
				if err := store.Upsert(ctx, types.MemoryChunk{
					ID:         id,
					AgentID:    agentID,
					SessionID:  stringArg(args, "sessionId"),
					Content:    chunk,
					Importance: floatArg(args, "importance"),
					SourceType: sourceType,
					ChunkIndex: i,
				}); err != nil {
					return nil, fmt.Errorf("storing chunk %d: %w", i, err)
				}
				ids = append(ids, id)
			}
			return map[string]any{"stored": len(ids), "chunkIds": ids}, nil
		},
	}
}

// NewMemorySearchTool builds the memory_search tool for one agent.
func NewMemorySearchTool(store *memory.Store, agentID string) Tool {
	return Tool{
		Source: SourceBuiltin,
		Def: types.ToolDefinition{
			Name:        "memory_search",
			Description: "Search long-term memory for relevant past information.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":         map[string]any{"type": "string", "description": "What to look for."},
					"maxResults":    map[string]any{"type": "integer"},
					"minImportance": map[string]any{"type": "number"},
					"sessionId":     map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query := stringArg(args, "query")
			if query == "" {
				return nil, &types.ValidationError{Tool: "memory_search", Field: "query", Detail: "must be a non-empty string"}
			}
			results, err := store.Search(ctx, memory.SearchOptions{
				AgentID:    agentID,
				Query:      query,
				MaxResults: intArg(args, "maxResults"),
				Filters: memory.SearchFilters{
					MinImportance: floatArg(args, "minImportance"),
					SessionID:     stringArg(args, "sessionId"),
				},
			})
			if err != nil {
				return nil, err
			}

			out := make([]map[string]any, 0, len(results))
			for _, r := range results {
				out = append(out, map[string]any{
					"id":        r.Chunk.ID,
					"content":   r.Chunk.Content,
					"score":     r.Score,
					"matchType": r.MatchType,
					"createdAt": r.Chunk.CreatedAt.Format(time.RFC3339),
				})
			}
			return map[string]any{"results": out}, nil
		},
	}
}

// conversationView is the slice of the conversation a flush handler can see.
// ConversationContext satisfies it.
type conversationView interface {
	NonSystem() []types.Message
}

// RegisterFlushHook persists the tail of the conversation to episodic memory
// when the compactor fires memory_flush, so summarized-away exchanges remain
// recallable.
func RegisterFlushHook(registry *hooks.Registry, store *memory.Store, agentID string) *hooks.Registration {
	return registry.Register(hooks.EventMemoryFlush, 100,
		func(ctx context.Context, acc any) (any, error) {
			conv, ok := acc.(conversationView)
			if !ok {
				return nil, nil
			}
			for _, msg := range conv.NonSystem() {
				if msg.Role != types.RoleUser && msg.Role != types.RoleAssistant {
					continue
				}
				if msg.Content == "" {
					continue
				}
				for i, chunk := range memory.ChunkText(msg.Content, memory.ChunkOptions{}) {
					if err := store.Upsert(ctx, types.MemoryChunk{
						ID:         uuid.NewString(),
						AgentID:    agentID,
						Content:    chunk,
						SourceType: "conversation",
						ChunkIndex: i,
					}); err != nil {
						return nil, err
					}
				}
			}
			return nil, nil
		})
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
