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

// Package types holds the shared domain types of the agent runtime:
// conversation messages, tool calls, agent lifecycle states, gateway
// envelopes, scheduler tasks, bindings and memory chunks.
package types

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation history. Assistant messages may
// carry tool calls; tool messages carry the ToolCallID they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolCall is a model-requested tool invocation. Arguments is the raw JSON
// string as emitted by the provider; it is parsed only at execution time.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage is cumulative token accounting for one call or one session.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Add folds another usage value into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// AgentStatus is the lifecycle state of an agent manager.
type AgentStatus string

const (
	StatusRegistered   AgentStatus = "REGISTERED"
	StatusInitializing AgentStatus = "INITIALIZING"
	StatusReady        AgentStatus = "READY"
	StatusRunning      AgentStatus = "RUNNING"
	StatusSuspended    AgentStatus = "SUSPENDED"
	StatusError        AgentStatus = "ERROR"
	StatusTerminated   AgentStatus = "TERMINATED"
)

// validTransitions is the lifecycle edge set. Any edge not listed here is
// rejected with an InvalidStateTransitionError.
var validTransitions = map[AgentStatus][]AgentStatus{
	StatusRegistered:   {StatusInitializing},
	StatusInitializing: {StatusReady},
	StatusReady:        {StatusRunning, StatusSuspended, StatusTerminated},
	StatusRunning:      {StatusReady, StatusSuspended, StatusTerminated, StatusError},
	StatusSuspended:    {StatusReady, StatusTerminated},
	StatusError:        {StatusTerminated, StatusInitializing},
	StatusTerminated:   {},
}

// CanTransition reports whether moving from s to next is a valid lifecycle
// edge.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AgentControlBlock is the bookkeeping record the manager keeps per agent.
type AgentControlBlock struct {
	AgentID       string      `json:"agentId"`
	Status        AgentStatus `json:"status"`
	Priority      int         `json:"priority"`
	LoopIteration int         `json:"loopIteration"`
	Usage         Usage       `json:"usage"`
	SnapshotRef   string      `json:"snapshotRef,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	LastActiveAt  time.Time   `json:"lastActiveAt"`
}

// AgentSnapshot is the point-in-time serialization written on suspend and
// reconstituted on resume.
type AgentSnapshot struct {
	AgentID          string     `json:"agentId"`
	SessionID        string     `json:"sessionId"`
	Messages         []Message  `json:"messages"`
	LoopIteration    int        `json:"loopIteration"`
	PendingToolCalls []ToolCall `json:"pendingToolCalls"`
	SavedAt          time.Time  `json:"savedAt"`
}

// Priority orders scheduled tasks; lower numbers run first.
type Priority int

const (
	PriorityUser       Priority = 1
	PriorityDelegation Priority = 2
	PriorityBackground Priority = 3
)

// ScheduledTask is one unit of work queued for an agent dispatch.
type ScheduledTask struct {
	ID               string            `json:"id"`
	AgentID          string            `json:"agentId"`
	Message          string            `json:"message"`
	SessionID        string            `json:"sessionId,omitempty"`
	Priority         Priority          `json:"priority"`
	EnqueuedAt       time.Time         `json:"enqueuedAt"`
	CorrelationID    string            `json:"correlationId,omitempty"`
	BindingOverrides map[string]string `json:"bindingOverrides,omitempty"`
}

// Binding maps a channel/peer/team/account combination to an agent.
// Unset fields do not constrain the match.
type Binding struct {
	Channel   string            `json:"channel,omitempty" yaml:"channel,omitempty"`
	Peer      string            `json:"peer,omitempty" yaml:"peer,omitempty"`
	Team      string            `json:"team,omitempty" yaml:"team,omitempty"`
	Account   string            `json:"account,omitempty" yaml:"account,omitempty"`
	AgentID   string            `json:"agentId" yaml:"agentId"`
	Priority  int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	Overrides map[string]string `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// ResolvedBinding is a routing decision: the selected agent plus the binding
// it came from, so overrides can propagate with the dispatch.
type ResolvedBinding struct {
	AgentID string  `json:"agentId"`
	Binding Binding `json:"binding"`
}

// MemoryChunk is one unit of episodic memory.
type MemoryChunk struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agentId"`
	SessionID  string         `json:"sessionId,omitempty"`
	Content    string         `json:"content"`
	Importance float64        `json:"importance"`
	TokenCount int            `json:"tokenCount"`
	SourceType string         `json:"sourceType"`
	ChunkIndex int            `json:"chunkIndex"`
	CreatedAt  time.Time      `json:"createdAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
}

// SessionHeader is the first line of a session .jsonl file.
type SessionHeader struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	AgentID   string    `json:"agentId"`
	Channel   string    `json:"channel,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionEntry is one appended line of a session log. ParentID links fork
// chains.
type SessionEntry struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	ParentID   string     `json:"parentId,omitempty"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// AgentEvent is one element of a dispatch event stream.
//
// Type is one of assistant_message, tool_result, tool_blocked,
// max_turns_reached, error. Only the fields relevant to the type are set.
type AgentEvent struct {
	Type         string     `json:"type"`
	Text         string     `json:"text,omitempty"`
	ToolCalls    []ToolCall `json:"toolCalls,omitempty"`
	FinishReason string     `json:"finishReason,omitempty"`
	ToolName     string     `json:"toolName,omitempty"`
	ToolCallID   string     `json:"toolCallId,omitempty"`
	Result       string     `json:"result,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Turns        int        `json:"turns,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Event type tags emitted by the agent loop.
const (
	EventAssistantMessage = "assistant_message"
	EventToolResult       = "tool_result"
	EventToolBlocked      = "tool_blocked"
	EventMaxTurnsReached  = "max_turns_reached"
	EventError            = "error"
)

// MarshalJSONString serializes v, falling back to %v formatting on failure.
// Used where a tool result of arbitrary shape must become text.
func MarshalJSONString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
