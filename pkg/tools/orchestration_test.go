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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentos/pkg/types"
)

// fakeDispatcher scripts per-agent replies. A "hang:" prefix never responds,
// an "err:" prefix yields an error event.
type fakeDispatcher struct {
	mu      sync.Mutex
	replies map[string]string
	calls   []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, agentID, text, sessionID string) (<-chan types.AgentEvent, error) {
	f.mu.Lock()
	f.calls = append(f.calls, agentID)
	reply, ok := f.replies[agentID]
	f.mu.Unlock()
	if !ok {
		return nil, types.ErrAgentNotFound
	}

	out := make(chan types.AgentEvent, 1)
	switch {
	case reply == "hang":
		// Never emit; the caller's timeout must fire.
	case reply == "fail":
		out <- types.AgentEvent{Type: types.EventError, Error: "boom"}
		close(out)
	default:
		out <- types.AgentEvent{Type: types.EventAssistantMessage, Text: reply + ":" + text}
		close(out)
	}
	return out, nil
}

func invoke(t *testing.T, tool Tool, args map[string]any) map[string]any {
	t.Helper()
	result, err := tool.Handler(context.Background(), args)
	require.NoError(t, err)
	return result.(map[string]any)
}

func TestAgentSend(t *testing.T) {
	d := &fakeDispatcher{replies: map[string]string{"worker": "done"}}
	tool := NewSendTool(d, time.Second)

	result := invoke(t, tool, map[string]any{"agentId": "worker", "text": "task"})
	assert.Equal(t, "done:task", result["text"])

	_, err := tool.Handler(context.Background(), map[string]any{"agentId": "ghost", "text": "task"})
	assert.ErrorIs(t, err, types.ErrAgentNotFound)

	_, err = tool.Handler(context.Background(), map[string]any{"agentId": "worker"})
	var valErr *types.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestAgentSendTimeout(t *testing.T) {
	d := &fakeDispatcher{replies: map[string]string{"slow": "hang"}}
	tool := NewSendTool(d, 30*time.Millisecond)

	_, err := tool.Handler(context.Background(), map[string]any{"agentId": "slow", "text": "task"})
	var timeoutErr *types.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, timeoutErr.Op, "slow")
}

func TestAgentSuperviseParallelCollectsPartialFailures(t *testing.T) {
	d := &fakeDispatcher{replies: map[string]string{"a": "ra", "b": "fail", "c": "hang"}}
	tool := NewSuperviseTool(d, 50*time.Millisecond)

	result := invoke(t, tool, map[string]any{
		"mode": "parallel",
		"tasks": []any{
			map[string]any{"agentId": "a", "text": "t1"},
			map[string]any{"agentId": "b", "text": "t2"},
			map[string]any{"agentId": "c", "text": "t3"},
		},
	})
	results := result["results"].([]superviseResult)
	require.Len(t, results, 3)
	assert.Equal(t, "fulfilled", results[0].Status)
	assert.Equal(t, "ra:t1", results[0].Text)
	assert.Equal(t, "rejected", results[1].Status)
	assert.Contains(t, results[1].Error, "boom")
	assert.Equal(t, "rejected", results[2].Status, "timed-out dispatch is a rejected entry")
}

func TestAgentSuperviseSequentialOrder(t *testing.T) {
	d := &fakeDispatcher{replies: map[string]string{"a": "ra", "b": "rb"}}
	tool := NewSuperviseTool(d, time.Second)

	invoke(t, tool, map[string]any{
		"mode": "sequential",
		"tasks": []any{
			map[string]any{"agentId": "b", "text": "t"},
			map[string]any{"agentId": "a", "text": "t"},
		},
	})
	assert.Equal(t, []string{"b", "a"}, d.calls)
}

func TestAgentSuperviseRejectsBadInput(t *testing.T) {
	tool := NewSuperviseTool(&fakeDispatcher{}, time.Second)
	var valErr *types.ValidationError

	_, err := tool.Handler(context.Background(), map[string]any{"tasks": []any{}})
	assert.ErrorAs(t, err, &valErr)

	_, err = tool.Handler(context.Background(), map[string]any{
		"mode":  "sideways",
		"tasks": []any{map[string]any{"agentId": "a", "text": "t"}},
	})
	assert.ErrorAs(t, err, &valErr)
}

func TestAgentPipelineThreadsOutput(t *testing.T) {
	d := &fakeDispatcher{replies: map[string]string{"first": "f", "second": "s"}}
	tool := NewPipelineTool(d, time.Second)

	result := invoke(t, tool, map[string]any{
		"agents": []any{"first", "second"},
		"text":   "start",
	})
	// second sees first's reply as its input.
	assert.Equal(t, "s:f:start", result["text"])
	assert.Equal(t, 2, result["stages"])
}

func TestAgentPipelineFailsOnStageError(t *testing.T) {
	d := &fakeDispatcher{replies: map[string]string{"first": "f", "second": "fail"}}
	tool := NewPipelineTool(d, time.Second)

	_, err := tool.Handler(context.Background(), map[string]any{
		"agents": []any{"first", "second"},
		"text":   "start",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")
}

type staticLister []string

func (s staticLister) AgentIDs() []string { return s }

func TestAgentBroadcast(t *testing.T) {
	d := &fakeDispatcher{replies: map[string]string{"a": "ra", "b": "rb"}}
	tool := NewBroadcastTool(d, staticLister{"a", "b"}, time.Second)

	result := invoke(t, tool, map[string]any{"text": "ping"})
	results := result["results"].([]superviseResult)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "fulfilled", r.Status)
	}
}

func TestAgentSpawn(t *testing.T) {
	var spawned []string
	spawner := spawnFunc(func(_ context.Context, agentID, name, persona string) error {
		spawned = append(spawned, fmt.Sprintf("%s/%s/%s", agentID, name, persona))
		return nil
	})
	tool := NewSpawnTool(spawner)

	result := invoke(t, tool, map[string]any{"agentId": "helper", "persona": "assist"})
	assert.Equal(t, "ready", result["status"])
	require.Len(t, spawned, 1)
	assert.Equal(t, "helper/helper/assist", spawned[0], "name defaults to agentId")

	_, err := tool.Handler(context.Background(), map[string]any{})
	var valErr *types.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

type spawnFunc func(ctx context.Context, agentID, name, persona string) error

func (f spawnFunc) Spawn(ctx context.Context, agentID, name, persona string) error {
	return f(ctx, agentID, name, persona)
}
