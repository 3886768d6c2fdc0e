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
	"github.com/teradata-labs/agentos/pkg/types"
)

// Aggregate folds a chunk stream into a single Response:
//   - text_delta text concatenates;
//   - tool_call_delta fragments merge by id: the first occurrence seeds name
//     and arguments, later fragments append arguments and fill a missing
//     name; calls keep first-seen order;
//   - usage chunks accumulate;
//   - done records the finish reason.
//
// An error chunk aborts aggregation and surfaces the error.
func Aggregate(stream <-chan StreamChunk) (*Response, error) {
	resp := &Response{}
	var order []string
	partial := make(map[string]*types.ToolCall)

	for chunk := range stream {
		switch chunk.Type {
		case ChunkTextDelta:
			resp.Text += chunk.Text

		case ChunkToolCallDelta:
			delta := chunk.ToolCall
			if delta == nil {
				continue
			}
			tc, ok := partial[delta.ID]
			if !ok {
				tc = &types.ToolCall{ID: delta.ID, Name: delta.Name, Arguments: delta.Arguments}
				partial[delta.ID] = tc
				order = append(order, delta.ID)
				continue
			}
			if tc.Name == "" {
				tc.Name = delta.Name
			}
			tc.Arguments += delta.Arguments

		case ChunkUsage:
			if chunk.Usage != nil {
				resp.Usage.Add(*chunk.Usage)
			}

		case ChunkDone:
			resp.FinishReason = chunk.FinishReason

		case ChunkError:
			return nil, chunk.Err
		}
	}

	for _, id := range order {
		resp.ToolCalls = append(resp.ToolCalls, *partial[id])
	}
	return resp, nil
}
