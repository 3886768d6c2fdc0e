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

// Package tools holds the shared tool registry, the allow/deny policy
// engine, and the built-in memory and orchestration tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/types"
)

// Tool sources. MCP and plugin tools carry a server or plugin suffix, e.g.
// "mcp:github".
const (
	SourceBuiltin = "builtin"
	SourceMCP     = "mcp"
	SourcePlugin  = "plugin"
)

// Handler executes one tool call with parsed arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool pairs a definition with its handler and the source that registered it.
type Tool struct {
	Def     types.ToolDefinition
	Source  string
	Handler Handler
}

// Registry is the shared, name-keyed tool registry. Registration and lookup
// are each atomic.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool. Re-registering an existing name fails; unregister
// first to replace.
func (r *Registry) Register(tool Tool) error {
	if tool.Def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Def.Name)
	}
	if tool.Source == "" {
		tool.Source = SourceBuiltin
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Def.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Def.Name)
	}
	r.tools[tool.Def.Name] = tool
	r.logger.Debug("tool registered",
		zap.String("name", tool.Def.Name),
		zap.String("source", tool.Source))
	return nil
}

// Unregister removes a tool by name. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up one tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// BySource returns the tools registered under one source prefix, sorted by
// name. Matching is prefix-based so "mcp" covers "mcp:github".
func (r *Registry) BySource(source string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, tool := range r.tools {
		if tool.Source == source || hasSourcePrefix(tool.Source, source) {
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Def.Name < out[j].Def.Name })
	return out
}

// Handlers returns a name-to-handler map of every registered tool.
func (r *Registry) Handlers() map[string]Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := make(map[string]Handler, len(r.tools))
	for name, tool := range r.tools {
		handlers[name] = tool.Handler
	}
	return handlers
}

func hasSourcePrefix(source, prefix string) bool {
	return len(source) > len(prefix)+1 && source[:len(prefix)] == prefix && source[len(prefix)] == ':'
}
