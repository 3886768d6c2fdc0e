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
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/agent"
	"github.com/teradata-labs/agentos/pkg/hooks"
	"github.com/teradata-labs/agentos/pkg/types"
)

// PolicyHookPriority runs the gate early in the tool_call chain so cheaper
// vetoes land before custom handlers.
const PolicyHookPriority = 10

// Policy is a per-agent tool access rule set. Entries in Allow and Deny are
// tool names or "group:<name>" references expanded through Groups. An empty
// Allow list permits everything not denied. Deny always wins.
//
// MCP-sourced tools are surfaced in the primary tool list only when named in
// PinnedMCP; unpinned MCP tools stay in the catalog and can still be invoked
// if allowed.
type Policy struct {
	Allow     []string
	Deny      []string
	Groups    map[string][]string
	PinnedMCP []string
}

// Engine evaluates a Policy. It is immutable after construction.
type Engine struct {
	allow  map[string]bool
	deny   map[string]bool
	pinned map[string]bool
	logger *zap.Logger
}

// NewEngine expands group references and builds the lookup sets.
func NewEngine(policy Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	pinned := make(map[string]bool, len(policy.PinnedMCP))
	for _, name := range policy.PinnedMCP {
		pinned[name] = true
	}
	return &Engine{
		allow:  expand(policy.Allow, policy.Groups),
		deny:   expand(policy.Deny, policy.Groups),
		pinned: pinned,
		logger: logger,
	}
}

// expand resolves "group:<name>" entries recursively. A group may reference
// other groups; cycles terminate because visited groups expand once.
func expand(entries []string, groups map[string][]string) map[string]bool {
	out := make(map[string]bool)
	visited := make(map[string]bool)
	var walk func(entry string)
	walk = func(entry string) {
		name, isGroup := strings.CutPrefix(entry, "group:")
		if !isGroup {
			out[entry] = true
			return
		}
		if visited[name] {
			return
		}
		visited[name] = true
		for _, member := range groups[name] {
			walk(member)
		}
	}
	for _, entry := range entries {
		walk(entry)
	}
	return out
}

// IsAllowed reports whether the named tool may be invoked.
func (e *Engine) IsAllowed(name string) bool {
	if e.deny[name] {
		return false
	}
	if len(e.allow) == 0 {
		return true
	}
	return e.allow[name]
}

// IsPinned reports whether an MCP tool is surfaced in the primary list.
func (e *Engine) IsPinned(name string) bool {
	return e.pinned[name]
}

// Filter returns the policy-visible slice of the registry: every allowed
// builtin and plugin tool, plus allowed MCP tools that are pinned. The
// returned handler map covers exactly the returned definitions.
func (e *Engine) Filter(registry *Registry) ([]types.ToolDefinition, map[string]Handler) {
	var defs []types.ToolDefinition
	handlers := make(map[string]Handler)
	for _, def := range registry.List() {
		tool, ok := registry.Get(def.Name)
		if !ok || !e.IsAllowed(def.Name) {
			continue
		}
		if isMCP(tool.Source) && !e.IsPinned(def.Name) {
			continue
		}
		defs = append(defs, def)
		handlers[def.Name] = tool.Handler
	}
	return defs, handlers
}

// RegisterHook installs the policy gate on the tool_call chain. A denied
// call marks the accumulator blocked; the loop converts that to a
// tool_blocked event and a synthetic tool result.
func (e *Engine) RegisterHook(registry *hooks.Registry) *hooks.Registration {
	return registry.Register(hooks.EventToolCall, PolicyHookPriority,
		func(_ context.Context, acc any) (any, error) {
			call, ok := acc.(*agent.ToolCallHookEvent)
			if !ok || call.Blocked {
				return nil, nil
			}
			if !e.IsAllowed(call.Name) {
				e.logger.Warn("tool call denied by policy", zap.String("tool", call.Name))
				call.Blocked = true
				call.Reason = "denied by policy"
			}
			return call, nil
		})
}

func isMCP(source string) bool {
	return source == SourceMCP || strings.HasPrefix(source, SourceMCP+":")
}
