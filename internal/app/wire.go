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

package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/internal/config"
	"github.com/teradata-labs/agentos/pkg/agent"
	"github.com/teradata-labs/agentos/pkg/gateway"
	"github.com/teradata-labs/agentos/pkg/hooks"
	"github.com/teradata-labs/agentos/pkg/orchestrator"
	"github.com/teradata-labs/agentos/pkg/tools"
	"github.com/teradata-labs/agentos/pkg/types"
)

const defaultContextWindow = 200000

// wireAgent builds one agent from its config: hook registry, tool registry
// with the built-in tools, policy engine, manager, and the durable inbox
// subscription. The manager lands in the local registry READY.
func (a *App) wireAgent(ac config.AgentConfig) (*agent.Manager, error) {
	hookReg := hooks.NewRegistry(a.logger)

	registry := tools.NewRegistry(a.logger)
	builtins := []tools.Tool{
		tools.NewSpawnTool(a),
		tools.NewSendTool(a.fed, 0),
		tools.NewSuperviseTool(a.fed, 0),
		tools.NewPipelineTool(a.fed, 0),
		tools.NewBroadcastTool(a.fed, a.local, 0),
		tools.NewMemoryStoreTool(a.memory, ac.ID),
		tools.NewMemorySearchTool(a.memory, ac.ID),
	}
	for _, tool := range builtins {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	engine := tools.NewEngine(tools.Policy{
		Allow:     ac.AllowedTools,
		Deny:      ac.DeniedTools,
		PinnedMCP: ac.PinnedMCPTools,
	}, a.logger)
	engine.RegisterHook(hookReg)
	tools.RegisterFlushHook(hookReg, a.memory, ac.ID)

	defs, handlers := engine.Filter(registry)

	mode := agent.PromptMode(ac.PromptMode)
	if mode == "" {
		mode = agent.PromptModeFull
	}
	window := ac.ContextWindow
	if window <= 0 {
		window = defaultContextWindow
	}

	mgr := agent.NewManager(agent.ManagerConfig{
		AgentID:         ac.ID,
		Name:            ac.Name,
		Persona:         ac.Persona,
		DataDir:         a.cfg.DataDir,
		Model:           ac.Model,
		MaxTurns:        ac.MaxTurns,
		ContextWindow:   window,
		ReserveTokens:   ac.ReserveTokens,
		KeepExchanges:   ac.KeepExchanges,
		PromptMode:      mode,
		BootstrapFiles:  ac.BootstrapFiles,
		MaxCharsPerFile: ac.MaxCharsPerFile,
		MaxTotalChars:   ac.MaxTotalChars,
		Skills:          ac.Skills,
	}, a.llm, a.sessions, hookReg, defs, toAgentHandlers(handlers), a.logger)

	if err := mgr.Init(); err != nil {
		return nil, fmt.Errorf("initializing agent %s: %w", ac.ID, err)
	}
	a.local.Register(mgr)

	sub, err := a.transport.Subscribe(gateway.InboxSubject(ac.ID), "agent-"+ac.ID, a.inboxHandler(ac.ID))
	if err != nil {
		a.local.Unregister(ac.ID)
		_ = mgr.Terminate()
		return nil, fmt.Errorf("subscribing inbox for %s: %w", ac.ID, err)
	}
	mgr.AttachInbox(sub)
	a.server.RegisterConsumer(ac.ID, sub)

	a.logger.Info("agent wired", zap.String("agent_id", ac.ID))
	return mgr, nil
}

// toAgentHandlers converts the policy-filtered handler map to the manager's
// handler type. The signatures are identical; only the named types differ.
func toAgentHandlers(in map[string]tools.Handler) map[string]agent.ToolHandler {
	out := make(map[string]agent.ToolHandler, len(in))
	for name, h := range in {
		out[name] = agent.ToolHandler(h)
	}
	return out
}

// inboxHandler turns task.request envelopes into scheduled dispatches whose
// events stream back to the requester.
func (a *App) inboxHandler(agentID string) func(*types.AgentMessage) {
	return func(msg *types.AgentMessage) {
		if msg.Type != types.MessageTypeTaskRequest {
			return
		}
		var data types.TaskRequestData
		if err := msg.DecodeData(&data); err != nil {
			a.logger.Warn("unparseable task.request",
				zap.String("agent_id", agentID), zap.Error(err))
			return
		}
		task := &types.ScheduledTask{
			AgentID:       agentID,
			Message:       data.Text,
			SessionID:     data.SessionID,
			Priority:      requestPriority(msg),
			CorrelationID: msg.CorrelationID,
		}
		if _, err := a.scheduler.Enqueue(context.Background(), task, a.replyCallbacks(agentID, msg)); err != nil {
			a.logger.Warn("enqueue failed",
				zap.String("agent_id", agentID), zap.Error(err))
		}
	}
}

// requestPriority: agent-to-agent delegation runs behind direct user traffic,
// and explicitly marked background work runs last.
func requestPriority(msg *types.AgentMessage) types.Priority {
	if strings.HasPrefix(msg.Source, "agent://") {
		return types.PriorityDelegation
	}
	if msg.Metadata["priority"] == "background" {
		return types.PriorityBackground
	}
	return types.PriorityUser
}

// replyCallbacks streams task events back to the requester: to the reply
// inbox when the request names one, otherwise through the gateway's
// correlation routing.
func (a *App) replyCallbacks(agentID string, req *types.AgentMessage) orchestrator.TaskCallbacks {
	source := types.AgentURI(agentID)
	send := func(resp *types.AgentMessage, err error) {
		if err != nil {
			a.logger.Error("building reply envelope", zap.Error(err))
			return
		}
		resp.CausationID = req.ID
		if req.ReplyTo != "" {
			if err := a.transport.Publish(context.Background(), req.ReplyTo, resp); err != nil {
				a.logger.Warn("publishing reply",
					zap.String("subject", req.ReplyTo), zap.Error(err))
			}
			return
		}
		a.server.SendResponse(resp)
	}
	return orchestrator.TaskCallbacks{
		OnEvent: func(ev types.AgentEvent) {
			// The terminal task.error carries failures; don't echo them twice.
			if ev.Type == types.EventError {
				return
			}
			send(types.NewTaskResponse(source, req.Source, req.CorrelationID, ev))
		},
		OnDone: func() {
			send(types.NewTaskDone(source, req.Source, req.CorrelationID))
		},
		OnError: func(taskErr error) {
			send(types.NewTaskError(source, req.Source, req.CorrelationID, taskErr.Error()))
		},
	}
}
