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

package llm

import (
	"context"
	"sync"

	"github.com/teradata-labs/agentos/pkg/types"
)

// ScriptedProvider replays canned chunk sequences, one per completion call.
// It backs tests and offline development. When Loop is set the last turn
// repeats once the script is exhausted; otherwise an exhausted script
// returns an empty done-terminated stream.
type ScriptedProvider struct {
	ProviderName string
	Turns        [][]StreamChunk
	Loop         bool
	// FailWith, when set, makes every call fail before streaming.
	FailWith error

	mu    sync.Mutex
	next  int
	calls int
}

// NewScriptedProvider builds a provider named "scripted" from turns.
func NewScriptedProvider(turns ...[]StreamChunk) *ScriptedProvider {
	return &ScriptedProvider{ProviderName: "scripted", Turns: turns}
}

// TextTurn is a single-turn script: one text delta then done{stop}.
func TextTurn(text string) []StreamChunk {
	return []StreamChunk{
		{Type: ChunkTextDelta, Text: text},
		{Type: ChunkDone, FinishReason: "stop"},
	}
}

// ToolCallTurn is a single-turn script emitting one complete tool call.
func ToolCallTurn(id, name, arguments string) []StreamChunk {
	return []StreamChunk{
		{Type: ChunkToolCallDelta, ToolCall: &ToolCallDelta{ID: id, Name: name, Arguments: arguments}},
		{Type: ChunkDone, FinishReason: "tool_calls"},
	}
}

// Name implements Provider.
func (p *ScriptedProvider) Name() string {
	if p.ProviderName == "" {
		return "scripted"
	}
	return p.ProviderName
}

// Calls reports how many completions have been requested.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// StreamCompletion implements Provider by replaying the next scripted turn.
func (p *ScriptedProvider) StreamCompletion(ctx context.Context, _ []types.Message, _ []types.ToolDefinition, _ CompletionOptions) (<-chan StreamChunk, error) {
	p.mu.Lock()
	p.calls++
	if p.FailWith != nil {
		p.mu.Unlock()
		return nil, p.FailWith
	}
	var turn []StreamChunk
	switch {
	case p.next < len(p.Turns):
		turn = p.Turns[p.next]
		p.next++
	case p.Loop && len(p.Turns) > 0:
		turn = p.Turns[len(p.Turns)-1]
	default:
		turn = []StreamChunk{{Type: ChunkDone, FinishReason: "stop"}}
	}
	p.mu.Unlock()

	out := make(chan StreamChunk, len(turn))
	go func() {
		defer close(out)
		for _, chunk := range turn {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// CountTokens estimates ceil(chars/4) over all message content.
func (p *ScriptedProvider) CountTokens(messages []types.Message) (int, error) {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Arguments) + len(tc.ID)
		}
	}
	return (chars + 3) / 4, nil
}
