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

// Package llm defines the provider contract, the streaming chunk model, the
// chunk-to-response aggregation layer, and the session-bound completion
// service with fallback rotation.
package llm

import (
	"context"

	"github.com/teradata-labs/agentos/pkg/types"
)

// ChunkType tags one element of a provider's streaming output.
type ChunkType string

const (
	ChunkTextDelta     ChunkType = "text_delta"
	ChunkToolCallDelta ChunkType = "tool_call_delta"
	ChunkUsage         ChunkType = "usage"
	ChunkDone          ChunkType = "done"
	// ChunkError is the failure terminal of a stream. No chunks follow it.
	ChunkError ChunkType = "error"
)

// ToolCallDelta is a fragment of a streamed tool call. Fragments sharing an
// ID belong to the same call; Arguments fragments concatenate in order.
type ToolCallDelta struct {
	ID        string
	Name      string
	Arguments string
}

// StreamChunk is one element of a completion stream. Exactly one of the
// payload fields is meaningful, selected by Type.
type StreamChunk struct {
	Type         ChunkType
	Text         string
	ToolCall     *ToolCallDelta
	Usage        *types.Usage
	FinishReason string
	Err          error
}

// CompletionOptions carries per-call generation parameters.
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is an aggregated completion: the full text, the merged tool
// calls in first-seen order, the finish reason, and per-call usage.
type Response struct {
	Text         string
	ToolCalls    []types.ToolCall
	FinishReason string
	Usage        types.Usage
}

// Provider produces completion streams. The returned channel is closed after
// the terminal chunk (done or error); callers must drain it.
type Provider interface {
	Name() string
	StreamCompletion(ctx context.Context, messages []types.Message, tools []types.ToolDefinition, opts CompletionOptions) (<-chan StreamChunk, error)
	CountTokens(messages []types.Message) (int, error)
}
