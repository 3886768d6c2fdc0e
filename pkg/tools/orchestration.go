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
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/agentos/pkg/types"
)

// DefaultDispatchTimeout bounds every orchestration dispatch.
const DefaultDispatchTimeout = 120 * time.Second

// Dispatcher hands a task to a named agent and returns its event stream.
// The federated registry implements it for both local and remote agents.
type Dispatcher interface {
	Dispatch(ctx context.Context, agentID, text, sessionID string) (<-chan types.AgentEvent, error)
}

// Spawner creates and initializes agents at runtime.
type Spawner interface {
	Spawn(ctx context.Context, agentID, name, persona string) error
}

// AgentLister enumerates dispatchable agents, used by agent_broadcast when no
// explicit recipient list is given.
type AgentLister interface {
	AgentIDs() []string
}

// superviseResult is one entry of a supervise or broadcast run. Status is
// "fulfilled" or "rejected" so partial failures surface per agent instead of
// failing the whole call.
type superviseResult struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSpawnTool builds agent_spawn.
func NewSpawnTool(spawner Spawner) Tool {
	return Tool{
		Source: SourceBuiltin,
		Def: types.ToolDefinition{
			Name:        "agent_spawn",
			Description: "Create and initialize a new agent with the given id, name, and persona.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agentId": map[string]any{"type": "string"},
					"name":    map[string]any{"type": "string"},
					"persona": map[string]any{"type": "string"},
				},
				"required": []string{"agentId"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			agentID := stringArg(args, "agentId")
			if agentID == "" {
				return nil, &types.ValidationError{Tool: "agent_spawn", Field: "agentId", Detail: "must be a non-empty string"}
			}
			name := stringArg(args, "name")
			if name == "" {
				name = agentID
			}
			if err := spawner.Spawn(ctx, agentID, name, stringArg(args, "persona")); err != nil {
				return nil, err
			}
			return map[string]any{"agentId": agentID, "status": "ready"}, nil
		},
	}
}

// NewSendTool builds agent_send: dispatch one task and return the final
// assistant text.
func NewSendTool(dispatcher Dispatcher, timeout time.Duration) Tool {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return Tool{
		Source: SourceBuiltin,
		Def: types.ToolDefinition{
			Name:        "agent_send",
			Description: "Send a task to another agent and wait for its reply.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agentId":   map[string]any{"type": "string"},
					"text":      map[string]any{"type": "string"},
					"sessionId": map[string]any{"type": "string"},
				},
				"required": []string{"agentId", "text"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			agentID, text := stringArg(args, "agentId"), stringArg(args, "text")
			if agentID == "" || text == "" {
				return nil, &types.ValidationError{Tool: "agent_send", Field: "agentId/text", Detail: "both are required"}
			}
			reply, err := collectDispatch(ctx, dispatcher, agentID, text, stringArg(args, "sessionId"), timeout)
			if err != nil {
				return nil, err
			}
			return map[string]any{"agentId": agentID, "text": reply}, nil
		},
	}
}

// NewSuperviseTool builds agent_supervise: fan a set of tasks out to agents
// in parallel or run them sequentially, collecting per-agent outcomes.
func NewSuperviseTool(dispatcher Dispatcher, timeout time.Duration) Tool {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return Tool{
		Source: SourceBuiltin,
		Def: types.ToolDefinition{
			Name:        "agent_supervise",
			Description: "Run tasks across several agents in parallel or sequentially and collect the results.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tasks": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"agentId": map[string]any{"type": "string"},
								"text":    map[string]any{"type": "string"},
							},
							"required": []string{"agentId", "text"},
						},
					},
					"mode": map[string]any{"type": "string", "enum": []string{"parallel", "sequential"}},
				},
				"required": []string{"tasks"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			tasks, err := parseTasks(args)
			if err != nil {
				return nil, err
			}
			mode := stringArg(args, "mode")
			if mode == "" {
				mode = "parallel"
			}

			results := make([]superviseResult, len(tasks))
			run := func(i int) {
				reply, err := collectDispatch(ctx, dispatcher, tasks[i].agentID, tasks[i].text, "", timeout)
				if err != nil {
					results[i] = superviseResult{AgentID: tasks[i].agentID, Status: "rejected", Error: err.Error()}
					return
				}
				results[i] = superviseResult{AgentID: tasks[i].agentID, Status: "fulfilled", Text: reply}
			}

			switch mode {
			case "parallel":
				g := new(errgroup.Group)
				for i := range tasks {
					i := i
					g.Go(func() error {
						run(i)
						return nil
					})
				}
				_ = g.Wait()
			case "sequential":
				for i := range tasks {
					run(i)
				}
			default:
				return nil, &types.ValidationError{Tool: "agent_supervise", Field: "mode", Detail: "must be parallel or sequential"}
			}
			return map[string]any{"results": results}, nil
		},
	}
}

// NewPipelineTool builds agent_pipeline: each agent's reply becomes the next
// agent's input; the last reply is the result.
func NewPipelineTool(dispatcher Dispatcher, timeout time.Duration) Tool {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return Tool{
		Source: SourceBuiltin,
		Def: types.ToolDefinition{
			Name:        "agent_pipeline",
			Description: "Pass a task through a chain of agents, feeding each reply to the next agent.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agents": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"text":   map[string]any{"type": "string"},
				},
				"required": []string{"agents", "text"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			agents := stringSliceArg(args, "agents")
			text := stringArg(args, "text")
			if len(agents) == 0 || text == "" {
				return nil, &types.ValidationError{Tool: "agent_pipeline", Field: "agents/text", Detail: "both are required"}
			}
			current := text
			for _, agentID := range agents {
				reply, err := collectDispatch(ctx, dispatcher, agentID, current, "", timeout)
				if err != nil {
					return nil, fmt.Errorf("pipeline stage %s: %w", agentID, err)
				}
				current = reply
			}
			return map[string]any{"text": current, "stages": len(agents)}, nil
		},
	}
}

// NewBroadcastTool builds agent_broadcast: the same task to every named
// agent (or every known agent) in parallel.
func NewBroadcastTool(dispatcher Dispatcher, lister AgentLister, timeout time.Duration) Tool {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return Tool{
		Source: SourceBuiltin,
		Def: types.ToolDefinition{
			Name:        "agent_broadcast",
			Description: "Send the same task to several agents at once and collect every reply.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agents": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"text":   map[string]any{"type": "string"},
				},
				"required": []string{"text"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			text := stringArg(args, "text")
			if text == "" {
				return nil, &types.ValidationError{Tool: "agent_broadcast", Field: "text", Detail: "must be a non-empty string"}
			}
			agents := stringSliceArg(args, "agents")
			if len(agents) == 0 && lister != nil {
				agents = lister.AgentIDs()
			}
			if len(agents) == 0 {
				return nil, &types.ValidationError{Tool: "agent_broadcast", Field: "agents", Detail: "no recipients"}
			}

			results := make([]superviseResult, len(agents))
			g := new(errgroup.Group)
			for i, agentID := range agents {
				i, agentID := i, agentID
				g.Go(func() error {
					reply, err := collectDispatch(ctx, dispatcher, agentID, text, "", timeout)
					if err != nil {
						results[i] = superviseResult{AgentID: agentID, Status: "rejected", Error: err.Error()}
						return nil
					}
					results[i] = superviseResult{AgentID: agentID, Status: "fulfilled", Text: reply}
					return nil
				})
			}
			_ = g.Wait()
			return map[string]any{"results": results}, nil
		},
	}
}

// collectDispatch races one dispatch against the timeout and reduces the
// event stream to the final assistant text. An error event fails the call; a
// deadline converts to TimeoutError.
func collectDispatch(ctx context.Context, dispatcher Dispatcher, agentID, text, sessionID string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()

	events, err := dispatcher.Dispatch(ctx, agentID, text, sessionID)
	if err != nil {
		return "", err
	}

	var lastText string
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", &types.TimeoutError{Op: "dispatch to " + agentID, Elapsed: time.Since(started)}
			}
			return "", ctx.Err()
		case event, ok := <-events:
			if !ok {
				return lastText, nil
			}
			switch event.Type {
			case types.EventAssistantMessage:
				if event.Text != "" {
					lastText = event.Text
				}
			case types.EventError:
				return "", fmt.Errorf("agent %s failed: %s", agentID, event.Error)
			}
		}
	}
}

type superviseTask struct {
	agentID string
	text    string
}

func parseTasks(args map[string]any) ([]superviseTask, error) {
	raw, _ := args["tasks"].([]any)
	if len(raw) == 0 {
		return nil, &types.ValidationError{Tool: "agent_supervise", Field: "tasks", Detail: "must be a non-empty array"}
	}
	tasks := make([]superviseTask, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, &types.ValidationError{Tool: "agent_supervise", Field: "tasks", Detail: "entries must be objects"}
		}
		task := superviseTask{agentID: stringArg(m, "agentId"), text: stringArg(m, "text")}
		if task.agentID == "" || strings.TrimSpace(task.text) == "" {
			return nil, &types.ValidationError{Tool: "agent_supervise", Field: "tasks", Detail: "each entry needs agentId and text"}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
